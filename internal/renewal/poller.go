package renewal

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tanamio/dashboard/internal/models"
	"gorm.io/gorm"
)

// State is the confirmation poller's position in its lifecycle.
type State int

// State constants define the poller lifecycle.
const (
	// StateIdle means no renewal is in flight.
	StateIdle State = iota
	// StateRequested means the gateway action was invoked and a baseline captured.
	StateRequested
	// StatePolling means remote state is being re-read for a diff.
	StatePolling
	// StateConfirmed means a change from baseline was observed.
	StateConfirmed
	// StateTimedOut means polling exhausted without observing a change.
	StateTimedOut
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequested:
		return "requested"
	case StatePolling:
		return "polling"
	case StateConfirmed:
		return "confirmed"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Defaults for the confirmation loop.
const (
	// defaultPollInterval spaces the re-reads.
	defaultPollInterval = time.Second
	// defaultMaxAttempts bounds how long the caller waits before the
	// optimistic fallback.
	defaultMaxAttempts = 5
	// fallbackExtensionDays is the expiry extension applied on timeout.
	fallbackExtensionDays = 30
	// fallbackQuotaGrant is the quota increment applied on timeout.
	fallbackQuotaGrant = 10
)

// Baseline is the pre-request snapshot a renewal is confirmed against.
type Baseline struct {
	ExpiredAt *time.Time // Expiry before the renewal request.
	AIQuota   int64      // Quota before the renewal request.
}

// Outcome reports how a renewal confirmation ended.
type Outcome struct {
	State     State      // Terminal state: StateConfirmed or StateTimedOut.
	ExpiredAt *time.Time // Expiry after confirmation or fallback.
	AIQuota   int64      // Quota after confirmation or fallback.
	Pending   bool       // True when the fallback was applied and remote confirmation is still outstanding.
}

// Poller re-reads a chatbot's expiry and quota after a renewal action
// until it observes a change from the baseline or gives up.
//
// The gateway does not acknowledge the committed state synchronously, so
// the poller bounds how long the caller waits before optimistically
// reflecting the expected outcome.
type Poller struct {
	db          *gorm.DB
	interval    time.Duration
	maxAttempts int
	now         func() time.Time
}

// NewPoller constructs a Poller with production timings.
func NewPoller(db *gorm.DB) *Poller {
	return NewPollerWithTimings(db, defaultPollInterval, defaultMaxAttempts)
}

// NewPollerWithTimings constructs a Poller with explicit poll spacing
// and attempt count.
func NewPollerWithTimings(db *gorm.DB, interval time.Duration, maxAttempts int) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Poller{
		db:          db,
		interval:    interval,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Snapshot captures the confirmation baseline for a chatbot.
func (p *Poller) Snapshot(ctx context.Context, chatbotID, userID string) (Baseline, error) {
	if p == nil || p.db == nil {
		return Baseline{}, fmt.Errorf("renewal: poller not initialized")
	}

	var bot models.Chatbot
	if errFind := p.db.WithContext(ctx).
		Select("expired_at", "ai_quota").
		Where("id = ? AND user_id = ?", chatbotID, userID).
		First(&bot).Error; errFind != nil {
		return Baseline{}, fmt.Errorf("renewal: snapshot chatbot: %w", errFind)
	}
	return Baseline{ExpiredAt: bot.ExpiredAt, AIQuota: bot.AIQuota}, nil
}

// Confirm polls the chatbot row until expiry or quota differs from the
// baseline, or attempts are exhausted.
//
// Confirmation is a strict diff against the snapshot, not a check for an
// expected value, so it tolerates the gateway applying an increment
// rather than an absolute value. On timeout a deterministic local patch
// is persisted and the outcome is marked pending rather than failed.
func (p *Poller) Confirm(ctx context.Context, chatbotID, userID string, prior Baseline) (Outcome, error) {
	if p == nil || p.db == nil {
		return Outcome{}, fmt.Errorf("renewal: poller not initialized")
	}

	state := StateRequested
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return Outcome{State: state}, ctx.Err()
		case <-time.After(p.interval):
		}
		state = StatePolling

		latest, errRead := p.readLatest(ctx, chatbotID, userID)
		if errRead != nil {
			// Transient read failures burn an attempt but never abort
			// the confirmation loop.
			log.WithError(errRead).Warn("renewal: poll read failed")
			continue
		}

		if changed(prior, latest) {
			log.Infof("renewal: confirmed for chatbot %s after %d attempt(s)", chatbotID, attempt+1)
			return Outcome{State: StateConfirmed, ExpiredAt: latest.ExpiredAt, AIQuota: latest.AIQuota}, nil
		}
	}

	return p.applyFallback(ctx, chatbotID, userID, prior)
}

// readLatest fetches the current expiry and quota for the chatbot.
func (p *Poller) readLatest(ctx context.Context, chatbotID, userID string) (Baseline, error) {
	var bot models.Chatbot
	if errFind := p.db.WithContext(ctx).
		Select("expired_at", "ai_quota").
		Where("id = ? AND user_id = ?", chatbotID, userID).
		First(&bot).Error; errFind != nil {
		return Baseline{}, errFind
	}
	return Baseline{ExpiredAt: bot.ExpiredAt, AIQuota: bot.AIQuota}, nil
}

// changed reports whether either tracked field differs from the baseline.
func changed(prior, latest Baseline) bool {
	if latest.AIQuota != prior.AIQuota {
		return true
	}
	switch {
	case prior.ExpiredAt == nil && latest.ExpiredAt != nil:
		return true
	case prior.ExpiredAt != nil && latest.ExpiredAt != nil && !latest.ExpiredAt.Equal(*prior.ExpiredAt):
		return true
	}
	return false
}

// applyFallback persists the deterministic local patch after a timeout:
// expiry extends from max(now, prior expiry), quota grows by a fixed
// grant. The values are pure functions of the baseline and clock, so a
// re-run writes the same patch instead of stacking extensions.
func (p *Poller) applyFallback(ctx context.Context, chatbotID, userID string, prior Baseline) (Outcome, error) {
	now := p.now().UTC()
	base := now
	if prior.ExpiredAt != nil && prior.ExpiredAt.After(now) {
		base = prior.ExpiredAt.UTC()
	}
	expiry := base.AddDate(0, 0, fallbackExtensionDays)
	quota := prior.AIQuota + fallbackQuotaGrant

	errUpdate := p.db.WithContext(ctx).
		Model(&models.Chatbot{}).
		Where("id = ? AND user_id = ?", chatbotID, userID).
		Updates(map[string]any{
			"expired_at": expiry,
			"ai_quota":   quota,
			"updated_at": now,
		}).Error
	if errUpdate != nil {
		if errors.Is(errUpdate, context.Canceled) {
			return Outcome{State: StateTimedOut}, errUpdate
		}
		// The renewal was accepted upstream; a failed patch only delays
		// when the new expiry becomes visible.
		log.WithError(errUpdate).Warn("renewal: fallback patch failed")
		return Outcome{State: StateTimedOut, ExpiredAt: prior.ExpiredAt, AIQuota: prior.AIQuota, Pending: true}, nil
	}

	log.Infof("renewal: timed out for chatbot %s, applied fallback patch (expiry=%s quota=%d)", chatbotID, expiry.Format(time.RFC3339), quota)
	return Outcome{State: StateTimedOut, ExpiredAt: &expiry, AIQuota: quota, Pending: true}, nil
}
