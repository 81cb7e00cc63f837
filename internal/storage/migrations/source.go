package migrations

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// errUnterminatedString is returned for SQL that ends inside a quoted literal.
var errUnterminatedString = errors.New("unterminated string literal")

// migration is one embedded SQL file.
type migration struct {
	name string
	sql  string
}

// load reads the non-empty .sql files of dir in lexical order.
func load(fsys fs.FS, dir string) ([]migration, error) {
	files, err := sqlFiles(fsys, dir)
	if err != nil {
		return nil, err
	}
	out := make([]migration, 0, len(files))
	for _, name := range files {
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		out = append(out, migration{name: name, sql: string(data)})
	}
	return out, nil
}

// sqlFiles lists the .sql files of dir in lexical order.
func sqlFiles(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// statements splits sql on semicolons outside single-quoted literals and
// strips -- comments. A doubled quote inside a literal is an escaped quote.
func statements(sql string) ([]string, error) {
	var (
		stmts    []string
		cur      strings.Builder
		inString bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case inString:
			cur.WriteByte(ch)
			if ch != '\'' {
				continue
			}
			if i+1 < len(sql) && sql[i+1] == '\'' {
				cur.WriteByte('\'')
				i++
				continue
			}
			inString = false
		case ch == '\'':
			inString = true
			cur.WriteByte(ch)
		case ch == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
			cur.WriteByte('\n')
		case ch == ';':
			flush()
		default:
			cur.WriteByte(ch)
		}
	}
	if inString {
		return nil, errUnterminatedString
	}
	flush()
	return stmts, nil
}
