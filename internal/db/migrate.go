package db

import (
	"fmt"

	"github.com/tanamio/dashboard/internal/models"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.Plan{},
		&models.Chatbot{},
		&models.Balance{},
		&models.Payment{},
		&models.Transaction{},
		&models.ActionLog{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	switch DialectName(conn) {
	case DialectSQLite:
		return nil
	case DialectPostgres, "":
		return migratePostgresIndexes(conn)
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
}

// migratePostgresIndexes applies PostgreSQL-specific indexes.
func migratePostgresIndexes(conn *gorm.DB) error {
	// ddl defines an index or DDL statement to apply.
	type ddl struct {
		name string // Human-readable name for error reporting.
		sql  string // SQL to execute.
	}
	ddls := []ddl{
		{
			name: "idx_chatbots_status",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_chatbots_status
				ON chatbots (status)
			`,
		},
		{
			name: "idx_payments_status_created_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_payments_status_created_at
				ON payments (status, created_at DESC)
			`,
		},
		{
			name: "idx_transactions_type",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_transactions_type
				ON transactions (type)
			`,
		},
		{
			name: "idx_plans_price_per_month",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_plans_price_per_month
				ON plans (price_per_month ASC)
			`,
		},
	}
	for _, item := range ddls {
		if errDDL := conn.Exec(item.sql).Error; errDDL != nil {
			return fmt.Errorf("db: create index %s: %w", item.name, errDDL)
		}
	}
	return nil
}
