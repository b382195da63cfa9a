// File: internal/profile/store.go
package profile

import (
	"context"
)

// Store defines the interface for profile document storage.
//
// Put is a full-document upsert; there are no partial profile writes outside
// of UpdatePoints. UpdatePoints is conditional on the currently stored
// balance and fails with common.ErrConflict when another writer got there
// first, so read-modify-write sequences cannot silently lose updates.
type Store interface {
	Get(ctx context.Context, userID string) (*Profile, error)
	Put(ctx context.Context, userID string, p *Profile) error
	UpdatePoints(ctx context.Context, userID string, newValue, expectedPrev int64) error
	Subscribe(ctx context.Context, userID string) (*Subscription, error)
}

// Subscription is a cancellable stream of remote profile snapshots, delivered
// in order. C is closed after Cancel or when the underlying stream ends.
type Subscription struct {
	C      <-chan Profile
	cancel context.CancelFunc
}

// Cancel releases the underlying listener. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}
