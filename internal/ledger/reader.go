package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/tanamio/dashboard/internal/models"
	"gorm.io/gorm"
)

// ReadResult is the outcome of a balance read.
type ReadResult struct {
	Balance   int64 // Cached balance; zero when no record exists.
	HadRecord bool  // Whether a balance row was found.
}

// Reader serves balance and transaction reads for the ledger.
type Reader struct {
	db *gorm.DB
}

// NewReader constructs a Reader.
func NewReader(db *gorm.DB) *Reader {
	return &Reader{db: db}
}

// Read returns the cached balance for a user.
//
// A missing row is not an error: it is reported through HadRecord so the
// caller can reconcile instead of failing.
func (r *Reader) Read(ctx context.Context, userID string) (ReadResult, error) {
	if r == nil || r.db == nil {
		return ReadResult{}, fmt.Errorf("ledger: reader not initialized")
	}

	var row models.Balance
	errFind := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return ReadResult{Balance: 0, HadRecord: false}, nil
		}
		return ReadResult{}, fmt.Errorf("ledger: read balance: %w", errFind)
	}
	return ReadResult{Balance: row.Balance, HadRecord: true}, nil
}

// Transactions returns the full transaction history for a user, newest
// first. Ordering only matters for display; the reconciliation fold is
// commutative.
func (r *Reader) Transactions(ctx context.Context, userID string) ([]models.Transaction, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("ledger: reader not initialized")
	}

	var rows []models.Transaction
	if errFind := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("ledger: list transactions: %w", errFind)
	}
	return rows, nil
}

// Payments returns the payment history for a user, newest first.
func (r *Reader) Payments(ctx context.Context, userID string) ([]models.Payment, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("ledger: reader not initialized")
	}

	var rows []models.Payment
	if errFind := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("ledger: list payments: %w", errFind)
	}
	return rows, nil
}

// ReadReconciled returns the balance for a user, deriving and persisting
// it from the transaction log when no cached row exists.
//
// The derived value is written exactly once per call, via an upsert keyed
// on user_id, so a racing first read cannot create duplicate rows.
func (r *Reader) ReadReconciled(ctx context.Context, userID string) (int64, error) {
	result, errRead := r.Read(ctx, userID)
	if errRead != nil {
		return 0, errRead
	}
	if result.HadRecord {
		return result.Balance, nil
	}

	entries, errList := r.Transactions(ctx, userID)
	if errList != nil {
		return 0, errList
	}

	balance := Reconcile(entries)
	if errUpsert := UpsertBalance(ctx, r.db, userID, balance); errUpsert != nil {
		return 0, errUpsert
	}
	return balance, nil
}
