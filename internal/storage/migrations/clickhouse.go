package migrations

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	chstore "dex-copy-engine/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the DSN's database when missing and applies
// every embedded ClickHouse file. The statements are idempotent DDL, so files
// are re-run on each start rather than tracked. All files are parsed before
// the first statement executes. The returned connection targets the database.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, error) {
	db, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}

	files, err := load(ClickhouseFS, "clickhouse")
	if err != nil {
		return nil, fmt.Errorf("read embedded clickhouse migrations: %w", err)
	}
	parsed := make([][]string, len(files))
	for i, m := range files {
		if parsed[i], err = statements(m.sql); err != nil {
			return nil, fmt.Errorf("parse migration %s: %w", m.name, err)
		}
	}

	if err := ensureDatabase(ctx, dsn, db); err != nil {
		return nil, err
	}
	conn, err := chstore.NewConnWithDatabase(ctx, dsn, db)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse %s: %w", db, err)
	}

	log := logrus.WithFields(logrus.Fields{"component": "migrations", "database": db})
	for i, m := range files {
		// The native protocol takes one statement per Exec.
		for _, stmt := range parsed[i] {
			if err := conn.Exec(ctx, stmt); err != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("apply migration %s: %w", m.name, err)
			}
		}
		log.WithFields(logrus.Fields{"file": m.name, "statements": len(parsed[i])}).Debug("clickhouse migration applied")
	}
	return conn, nil
}

func ensureDatabase(ctx context.Context, dsn, db string) error {
	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return fmt.Errorf("connect clickhouse admin: %w", err)
	}
	defer admin.Close()

	if err := admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+db); err != nil {
		return fmt.Errorf("create database %s: %w", db, err)
	}
	return nil
}

// databaseFromDSN returns the database named by the DSN path. The name is
// spliced into DDL, so only identifier characters are accepted.
func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", fmt.Errorf("clickhouse dsn missing database")
	}
	for _, r := range db {
		if r != '_' && (r < '0' || r > '9') && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return "", fmt.Errorf("clickhouse database %q: invalid identifier", db)
		}
	}
	return db, nil
}
