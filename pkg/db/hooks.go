package db

import (
	"context"
	"sync"

	"gorm.io/gorm"
)

type commitHooksKey struct{}

type commitHooks struct {
	mu  sync.Mutex
	fns []func()
}

func withCommitHooks(ctx context.Context, hooks *commitHooks) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, commitHooksKey{}, hooks)
}

func (h *commitHooks) add(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns = append(h.fns, fn)
}

func (h *commitHooks) run() {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// AfterCommit schedules fn to run after the transaction opened by
// Client.WithTx commits. It returns false when tx was not opened by WithTx;
// in that case fn is never called. Rolled back transactions drop their hooks.
func AfterCommit(tx *gorm.DB, fn func()) bool {
	if tx == nil || fn == nil || tx.Statement == nil || tx.Statement.Context == nil {
		return false
	}
	hooks, ok := tx.Statement.Context.Value(commitHooksKey{}).(*commitHooks)
	if !ok || hooks == nil {
		return false
	}
	hooks.add(fn)
	return true
}
