package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/missionctl/missionctl/internal/common/config"
	"github.com/missionctl/missionctl/internal/db/dialect"
)

// Open resolves the configured DATABASE_URL into a connection pool.
//
// postgres:// and postgresql:// URLs use pgx with a shared pool for reads
// and writes. Anything else is treated as a SQLite path; an empty URL falls
// back to cfg.SQLitePath. SQLite gets the writer/reader split.
func Open(cfg config.DatabaseConfig) (*Pool, error) {
	url := strings.TrimSpace(cfg.URL)
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		raw, err := OpenPostgres(url, cfg.MaxConns, cfg.MinConns)
		if err != nil {
			return nil, err
		}
		pg := sqlx.NewDb(raw, dialect.PGX)
		return NewPool(pg, pg), nil
	}

	path := url
	if path == "" {
		path = cfg.SQLitePath
	}
	if path == "" {
		return nil, fmt.Errorf("no database configured: set DATABASE_URL or a sqlite path")
	}

	writerRaw, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	readerRaw, err := OpenSQLiteReader(path)
	if err != nil {
		_ = writerRaw.Close()
		return nil, err
	}
	return NewPool(sqlx.NewDb(writerRaw, dialect.SQLite3), sqlx.NewDb(readerRaw, dialect.SQLite3)), nil
}

// OpenPostgres opens a PostgreSQL database connection using pgx.
// If maxConns or minConns are 0, they default to 25 and 5 respectively.
func OpenPostgres(dsn string, maxConns, minConns int) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	if maxConns <= 0 {
		maxConns = 25
	}
	if minConns <= 0 {
		minConns = 5
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	return db, nil
}
