package store

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// NewMySQLStore opens a MySQL-backed Store against dsn (go-sql-driver
// DSN form, e.g. "user:pass@tcp(host:3306)/graphexec?parseTime=true").
// parseTime=true is required: TIMESTAMP columns are scanned directly
// into time.Time. Intended for cluster deployments where the same
// MySQL cluster backs the DatabaseManager surface (§6).
func NewMySQLStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open mysql: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping mysql: %w", err)
	}

	s, err := newSQLStore(db, mysqlDialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
