package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:attendguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqlStore{db: db, dialect: dialect{name: "sqlite3", textTimes: true}}, nil
}
