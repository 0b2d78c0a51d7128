package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tanamio/dashboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IdempotencyKey derives a deterministic key for a compensating write
// from the action, its target, and the hour the attempt falls in.
//
// Retries of the same compensation within the hour produce the same key
// and collide on the unique index instead of double-applying.
func IdempotencyKey(action, target string, at time.Time) string {
	bucket := at.UTC().Truncate(time.Hour).Format(time.RFC3339)
	sum := sha256.Sum256([]byte(action + "|" + target + "|" + bucket))
	return hex.EncodeToString(sum[:])
}

// Compensator records ledger entries for gateway actions whose charges
// are not synchronously confirmed by the provider.
type Compensator struct {
	db  *gorm.DB
	now func() time.Time
}

// NewCompensator constructs a Compensator.
func NewCompensator(db *gorm.DB) *Compensator {
	return &Compensator{db: db, now: time.Now}
}

// RecordUsage appends a usage entry for a charge and refreshes the cached
// balance from the full log.
//
// The insert is guarded by the idempotency key: a retry that maps to the
// same key is silently dropped and reported as not applied. The balance
// row is recomputed from the transaction log rather than decremented in
// place, so a dropped duplicate leaves it untouched.
func (c *Compensator) RecordUsage(ctx context.Context, userID string, amount int64, description, action, target string) (bool, error) {
	if c == nil || c.db == nil {
		return false, fmt.Errorf("ledger: compensator not initialized")
	}
	if amount < 0 {
		return false, fmt.Errorf("ledger: negative compensation amount %d", amount)
	}

	key := IdempotencyKey(action, target, c.now())
	entry := models.Transaction{
		ID:             uuid.NewString(),
		UserID:         userID,
		Type:           models.TransactionTypeUsage,
		Amount:         amount,
		Description:    description,
		IdempotencyKey: &key,
	}

	result := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(&entry)
	if result.Error != nil {
		return false, fmt.Errorf("ledger: record usage: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	entries, errList := NewReader(c.db).Transactions(ctx, userID)
	if errList != nil {
		return true, errList
	}
	if errUpsert := UpsertBalance(ctx, c.db, userID, Reconcile(entries)); errUpsert != nil {
		return true, errUpsert
	}
	return true, nil
}
