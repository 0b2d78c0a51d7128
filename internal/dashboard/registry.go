package dashboard

import (
	"context"
	"sync"

	"gorm.io/gorm"
)

// Registry tracks one Holder per active user.
//
// Holders are created lazily on first access and torn down on Release or
// when the registry closes.
type Registry struct {
	db  *gorm.DB
	ctx context.Context

	mu      sync.Mutex
	holders map[string]*Holder
	closed  bool
}

// NewRegistry constructs a Registry whose holders run under ctx.
func NewRegistry(ctx context.Context, db *gorm.DB) *Registry {
	return &Registry{
		db:      db,
		ctx:     ctx,
		holders: make(map[string]*Holder),
	}
}

// Acquire returns the holder for a user, starting one if none exists.
func (r *Registry) Acquire(userID string) *Holder {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	if holder, ok := r.holders[userID]; ok {
		return holder
	}

	holder := NewHolder(r.db, userID)
	holder.Start(r.ctx)
	r.holders[userID] = holder
	return holder
}

// Release stops and evicts a user's holder, if any.
func (r *Registry) Release(userID string) {
	r.mu.Lock()
	holder, ok := r.holders[userID]
	if ok {
		delete(r.holders, userID)
	}
	r.mu.Unlock()

	// Stop outside the lock; it waits for the refresh goroutine.
	if ok {
		holder.Stop()
	}
}

// Close stops every holder and rejects further Acquire calls.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	stopped := make([]*Holder, 0, len(r.holders))
	for userID, holder := range r.holders {
		stopped = append(stopped, holder)
		delete(r.holders, userID)
	}
	r.mu.Unlock()

	for _, holder := range stopped {
		holder.Stop()
	}
}
