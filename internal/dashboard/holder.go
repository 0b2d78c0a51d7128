package dashboard

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tanamio/dashboard/internal/ledger"
	"github.com/tanamio/dashboard/internal/models"
	"gorm.io/gorm"
)

// defaultRefreshInterval spaces the background snapshot refreshes.
const defaultRefreshInterval = 5 * time.Second

// Snapshot is a point-in-time view of one user's dashboard data.
//
// All fields are loaded in the same refresh cycle and published together,
// so a reader never observes a balance from one cycle next to a
// transaction list from another.
type Snapshot struct {
	Balance      int64                // Reconciled balance.
	Transactions []models.Transaction // Full history, newest first.
	Payments     []models.Payment     // Payment history, newest first.
	Chatbots     []models.Chatbot     // Owned chatbots with plan preloaded.
	RefreshedAt  time.Time            // When this snapshot was taken.
	Generation   uint64               // Refresh cycle that produced it; zero until the first refresh.
}

// Holder maintains the dashboard snapshot for a single user and keeps it
// fresh on a timer.
//
// Each refresh cycle claims a generation number before issuing its reads
// and publishes its result only while it is still the newest claimed
// cycle. A slow cycle that is overtaken by a later one discards its
// result instead of overwriting fresher data.
type Holder struct {
	userID   string
	db       *gorm.DB
	reader   *ledger.Reader
	interval time.Duration

	generation atomic.Uint64

	mu       sync.RWMutex
	snapshot Snapshot

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHolder constructs a Holder for one user.
func NewHolder(db *gorm.DB, userID string) *Holder {
	return &Holder{
		userID:   userID,
		db:       db,
		reader:   ledger.NewReader(db),
		interval: defaultRefreshInterval,
	}
}

// Start launches the background refresh loop. It performs one immediate
// refresh so the first Snapshot call after Start has data.
func (h *Holder) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	if _, errRefresh := h.Refresh(runCtx); errRefresh != nil {
		log.WithError(errRefresh).Warn("dashboard: initial refresh failed")
	}

	h.wg.Add(1)
	go h.loop(runCtx)
}

// Stop terminates the refresh loop and waits for it to exit.
func (h *Holder) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
}

// Snapshot returns the latest published snapshot.
func (h *Holder) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshot
}

// Refresh runs one full fetch cycle and returns the resulting snapshot.
//
// The snapshot is assembled off to the side and published in a single
// store after every read has resolved; a cycle superseded by a newer one
// returns its data to the caller but does not publish it.
func (h *Holder) Refresh(ctx context.Context) (Snapshot, error) {
	if h == nil || h.db == nil {
		return Snapshot{}, fmt.Errorf("dashboard: holder not initialized")
	}

	gen := h.generation.Add(1)

	balance, errBalance := h.reader.ReadReconciled(ctx, h.userID)
	if errBalance != nil {
		return Snapshot{}, fmt.Errorf("dashboard: refresh balance: %w", errBalance)
	}
	transactions, errTx := h.reader.Transactions(ctx, h.userID)
	if errTx != nil {
		return Snapshot{}, fmt.Errorf("dashboard: refresh transactions: %w", errTx)
	}
	payments, errPay := h.reader.Payments(ctx, h.userID)
	if errPay != nil {
		return Snapshot{}, fmt.Errorf("dashboard: refresh payments: %w", errPay)
	}
	chatbots, errBots := h.listChatbots(ctx)
	if errBots != nil {
		return Snapshot{}, fmt.Errorf("dashboard: refresh chatbots: %w", errBots)
	}

	next := Snapshot{
		Balance:      balance,
		Transactions: transactions,
		Payments:     payments,
		Chatbots:     chatbots,
		RefreshedAt:  time.Now().UTC(),
		Generation:   gen,
	}
	h.publish(next)
	return next, nil
}

// publish installs the snapshot unless a newer cycle already did.
func (h *Holder) publish(next Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.generation.Load() != next.Generation || h.snapshot.Generation >= next.Generation {
		log.Debugf("dashboard: discarding superseded refresh for user %s (generation %d)", h.userID, next.Generation)
		return
	}
	h.snapshot = next
}

// listChatbots loads the user's chatbots with their plans, newest first.
func (h *Holder) listChatbots(ctx context.Context) ([]models.Chatbot, error) {
	var bots []models.Chatbot
	if errFind := h.db.WithContext(ctx).
		Preload("Plan").
		Where("user_id = ?", h.userID).
		Order("created_at DESC").
		Find(&bots).Error; errFind != nil {
		return nil, errFind
	}
	return bots, nil
}

// loop re-runs the refresh on the holder's interval until cancelled.
// A failed cycle keeps the previous snapshot; readers see stale data
// rather than an error.
func (h *Holder) loop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, errRefresh := h.Refresh(ctx); errRefresh != nil {
				log.WithError(errRefresh).Warn("dashboard: refresh failed")
			}
		}
	}
}
