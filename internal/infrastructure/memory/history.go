package memory

import (
	"context"
	"sync"

	"github.com/Zhima-Mochi/keyshop/internal/domain/history"
)

type userHistory struct {
	mu      sync.Mutex
	charges []string
}

// HistoryLog records charge ids per user. Each user has its own lock so
// appends for different users never contend.
type HistoryLog struct {
	users sync.Map // user id -> *userHistory
}

var _ history.Log = (*HistoryLog)(nil)

// NewHistoryLog returns an empty log.
func NewHistoryLog() *HistoryLog {
	return &HistoryLog{}
}

func (l *HistoryLog) entry(userID string) *userHistory {
	if v, ok := l.users.Load(userID); ok {
		return v.(*userHistory)
	}
	v, _ := l.users.LoadOrStore(userID, &userHistory{})
	return v.(*userHistory)
}

// Append records chargeID for userID. Repeated charge ids are kept.
func (l *HistoryLog) Append(ctx context.Context, userID, chargeID string) error {
	_ = ctx
	e := l.entry(userID)
	e.mu.Lock()
	e.charges = append(e.charges, chargeID)
	e.mu.Unlock()
	return nil
}

// ListFor returns a copy of userID's charge ids, oldest first.
func (l *HistoryLog) ListFor(ctx context.Context, userID string) ([]string, error) {
	_ = ctx
	v, ok := l.users.Load(userID)
	if !ok {
		return []string{}, nil
	}
	e := v.(*userHistory)
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string{}, e.charges...), nil
}

// Capture copies every user's history.
func (l *HistoryLog) Capture(ctx context.Context) map[string][]string {
	_ = ctx
	out := make(map[string][]string)
	l.users.Range(func(k, v any) bool {
		e := v.(*userHistory)
		e.mu.Lock()
		if len(e.charges) > 0 {
			out[k.(string)] = append([]string{}, e.charges...)
		}
		e.mu.Unlock()
		return true
	})
	return out
}

// Restore replaces the log content. It must run before the log is shared.
func (l *HistoryLog) Restore(records map[string][]string) {
	l.users.Range(func(k, _ any) bool {
		l.users.Delete(k)
		return true
	})
	for user, charges := range records {
		l.users.Store(user, &userHistory{charges: append([]string{}, charges...)})
	}
}
