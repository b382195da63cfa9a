// File: internal/profile/firestore_store.go
package profile

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"kopiclub_backend/internal/common"
	"kopiclub_backend/internal/config"
	"kopiclub_backend/internal/firebase"
)

// errStaleBalance aborts an UpdatePoints transaction when the stored balance
// no longer matches the caller's expectation.
var errStaleBalance = errors.New("stored points balance changed since it was read")

type firestoreStore struct {
	client     *firestore.Client
	collection string
	logger     *zap.Logger
}

// NewFirestoreStore creates a profile store backed by Firestore.
func NewFirestoreStore(fb *firebase.Service, cfg *config.Config, logger *zap.Logger) Store {
	return &firestoreStore{
		client:     fb.Firestore(),
		collection: cfg.ProfilesCollection,
		logger:     logger.Named("ProfileStore"),
	}
}

func (s *firestoreStore) doc(userID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(userID)
}

// Get retrieves a profile document by Firebase Auth UID.
func (s *firestoreStore) Get(ctx context.Context, userID string) (*Profile, error) {
	if userID == "" {
		return nil, common.ErrBadRequest.WithDetails("userID cannot be empty.")
	}
	snap, err := s.doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, common.ErrNotFound.WithDetails(
				fmt.Sprintf("No profile exists for user '%s'.", userID))
		}
		return nil, fmt.Errorf("failed to get profile for user '%s': %w", userID, err)
	}

	var p Profile
	if err := snap.DataTo(&p); err != nil {
		return nil, fmt.Errorf("failed to decode profile for user '%s': %w", userID, err)
	}
	p.UserID = snap.Ref.ID
	return &p, nil
}

// Put overwrites the whole profile document, creating it when absent.
func (s *firestoreStore) Put(ctx context.Context, userID string, p *Profile) error {
	if userID == "" {
		return common.ErrBadRequest.WithDetails("userID cannot be empty.")
	}
	if p.Points < 0 {
		return fmt.Errorf("refusing to persist negative points balance %d for user '%s'", p.Points, userID)
	}
	if _, err := s.doc(userID).Set(ctx, p); err != nil {
		return fmt.Errorf("failed to write profile for user '%s': %w", userID, err)
	}
	return nil
}

// UpdatePoints writes a new points balance only if the stored balance still
// equals expectedPrev. A lost race surfaces as common.ErrConflict; the caller
// should re-read and retry.
func (s *firestoreStore) UpdatePoints(ctx context.Context, userID string, newValue, expectedPrev int64) error {
	if userID == "" {
		return common.ErrBadRequest.WithDetails("userID cannot be empty.")
	}
	if newValue < 0 {
		return fmt.Errorf("refusing to persist negative points balance %d for user '%s'", newValue, userID)
	}

	doc := s.doc(userID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return common.ErrNotFound.WithDetails(
					fmt.Sprintf("No profile exists for user '%s'.", userID))
			}
			return err
		}
		stored, err := snap.DataAt("points")
		if err != nil {
			return fmt.Errorf("failed to read points field: %w", err)
		}
		current, ok := stored.(int64)
		if !ok {
			return fmt.Errorf("points field has unexpected type %T", stored)
		}
		if current != expectedPrev {
			return errStaleBalance
		}
		return tx.Update(doc, []firestore.Update{{Path: "points", Value: newValue}})
	})
	if err != nil {
		if errors.Is(err, errStaleBalance) {
			return common.ErrConflict.WithDetails("The points balance changed concurrently; please retry.")
		}
		return err
	}
	return nil
}

// Subscribe opens a snapshot listener on the user's profile document. The
// returned stream preserves delivery order; cancelling releases the listener.
func (s *firestoreStore) Subscribe(ctx context.Context, userID string) (*Subscription, error) {
	if userID == "" {
		return nil, common.ErrBadRequest.WithDetails("userID cannot be empty.")
	}

	subCtx, cancel := context.WithCancel(ctx)
	iter := s.doc(userID).Snapshots(subCtx)
	ch := make(chan Profile, 8)

	go func() {
		defer close(ch)
		defer iter.Stop()
		for {
			snap, err := iter.Next()
			if err != nil {
				if status.Code(err) != codes.Canceled {
					s.logger.Warn("Profile snapshot stream ended",
						zap.String("uid", userID), zap.Error(err))
				}
				return
			}
			if !snap.Exists() {
				continue
			}
			var p Profile
			if err := snap.DataTo(&p); err != nil {
				s.logger.Error("Failed to decode profile snapshot",
					zap.String("uid", userID), zap.Error(err))
				continue
			}
			p.UserID = snap.Ref.ID
			select {
			case ch <- p:
			case <-subCtx.Done():
				return
			}
		}
	}()

	return &Subscription{C: ch, cancel: cancel}, nil
}
