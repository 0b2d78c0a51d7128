package db

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to the database selected by the DSN.
//
// Postgres DSNs are the production path; anything that looks like a file
// or memory DSN opens SQLite, which local development and tests use.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("db: empty dsn")
	}

	cfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	var dialector gorm.Dialector
	if isSQLiteDSN(dsn) {
		dialector = sqlite.Open(strings.TrimPrefix(dsn, "sqlite://"))
	} else {
		dialector = postgres.Open(dsn)
	}

	conn, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}

	if isSQLiteDSN(dsn) {
		// Each pooled connection to an in-memory database would see its
		// own empty schema; a single connection keeps one database.
		if sqlDB, errDB := conn.DB(); errDB == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	return conn, nil
}

// isSQLiteDSN reports whether the DSN targets SQLite.
func isSQLiteDSN(dsn string) bool {
	lowered := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lowered, "sqlite://"),
		strings.HasPrefix(lowered, "file:"),
		strings.HasSuffix(lowered, ".db"),
		strings.HasSuffix(lowered, ".sqlite"),
		lowered == ":memory:":
		return true
	}
	return false
}
