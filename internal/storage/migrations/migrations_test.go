package migrations

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatements(t *testing.T) {
	input := `-- header comment
CREATE TABLE a (x String) ENGINE = Memory;

-- second
CREATE TABLE b (y String DEFAULT 'a;b') ENGINE = Memory; -- trailing
INSERT INTO b VALUES ('it''s; fine')
`
	stmts, err := statements(input)
	require.NoError(t, err)
	require.Len(t, stmts, 3)
	assert.Equal(t, "CREATE TABLE a (x String) ENGINE = Memory", stmts[0])
	assert.Equal(t, "CREATE TABLE b (y String DEFAULT 'a;b') ENGINE = Memory", stmts[1])
	assert.Equal(t, "INSERT INTO b VALUES ('it''s; fine')", stmts[2])
}

func TestStatements_Unterminated(t *testing.T) {
	_, err := statements(`SELECT 'open;`)
	assert.ErrorIs(t, err, errUnterminatedString)
}

func TestLoad_SkipsEmptyAndNonSQL(t *testing.T) {
	fsys := fstest.MapFS{
		"m/002_b.sql": {Data: []byte("SELECT 2;")},
		"m/001_a.sql": {Data: []byte("SELECT 1;")},
		"m/003_c.sql": {Data: []byte("  \n")},
		"m/README.md": {Data: []byte("notes")},
		"m/sub/x.sql": {Data: []byte("SELECT 3;")},
	}
	files, err := load(fsys, "m")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "001_a.sql", files[0].name)
	assert.Equal(t, "002_b.sql", files[1].name)
	assert.Equal(t, "SELECT 2;", files[1].sql)
}

func TestEmbeddedClickhouseMigrationsParse(t *testing.T) {
	files, err := load(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	for _, m := range files {
		stmts, err := statements(m.sql)
		require.NoError(t, err, m.name)
		assert.NotEmpty(t, stmts, m.name)
	}
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://localhost:9000/copytrader")
	require.NoError(t, err)
	assert.Equal(t, "copytrader", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)

	_, err = databaseFromDSN("clickhouse://localhost:9000/copy;DROP")
	assert.Error(t, err)
}

func TestEmbeddedMigrations(t *testing.T) {
	pg, err := sqlFiles(PostgresFS, "postgres")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_core.sql"}, pg)

	ch, err := sqlFiles(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_decision_log.sql"}, ch)
}
