package ledger

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tanamio/dashboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Reconcile folds a transaction list into a balance.
//
// Topups add, usages subtract. The fold is pure and order-independent;
// running it twice over the same list yields the same value. Amounts the
// external writers recorded as negative are coerced to zero and logged,
// matching the tolerance the rest of the ledger has for malformed rows.
func Reconcile(entries []models.Transaction) int64 {
	var balance int64
	for _, entry := range entries {
		amount := entry.Amount
		if amount < 0 {
			log.Warnf("ledger: malformed amount %d on transaction %s, coerced to 0", amount, entry.ID)
			amount = 0
		}
		switch entry.Type {
		case models.TransactionTypeTopup:
			balance += amount
		case models.TransactionTypeUsage:
			balance -= amount
		default:
			log.Warnf("ledger: unknown transaction type %q on transaction %s, ignored", entry.Type, entry.ID)
		}
	}
	return balance
}

// UpsertBalance persists a balance keyed by user ID.
//
// Insert-or-replace semantics: concurrent writers race last-write-wins,
// and the next reconciliation pass repairs any divergence.
func UpsertBalance(ctx context.Context, db *gorm.DB, userID string, balance int64) error {
	if db == nil {
		return fmt.Errorf("ledger: nil db")
	}

	now := time.Now().UTC()
	record := models.Balance{
		UserID:    userID,
		Balance:   balance,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"balance", "updated_at"}),
	}).Create(&record).Error; err != nil {
		return fmt.Errorf("ledger: upsert balance: %w", err)
	}
	return nil
}
