// File: internal/session/provider.go
package session

import (
	"context"
	"fmt"
	"sync"

	"firebase.google.com/go/v4/auth"
	"go.uber.org/zap"

	"kopiclub_backend/internal/common"
	"kopiclub_backend/internal/firebase"
)

// Identity describes the signed-in user as reported by the auth provider.
type Identity struct {
	UserID      string
	Email       string
	DisplayName string
	PhotoURL    string
}

// StateChange is delivered to auth-state subscribers. UserID is set on both
// sign-in and sign-out; SignedIn distinguishes the two.
type StateChange struct {
	UserID   string
	SignedIn bool
}

// Provider supplies the current user identity and a notification stream for
// sign-in state changes.
type Provider interface {
	// VerifyToken resolves a bearer ID token to the current user identity.
	VerifyToken(ctx context.Context, idToken string) (*Identity, error)
	// OnAuthStateChange registers a subscriber. The returned function
	// unsubscribes it and closes the channel.
	OnAuthStateChange() (<-chan StateChange, func())
	// SignOut revokes the user's refresh tokens and notifies subscribers.
	SignOut(ctx context.Context, userID string) error
}

// FirebaseProvider implements Provider on top of Firebase Auth.
type FirebaseProvider struct {
	authClient *auth.Client
	logger     *zap.Logger

	mu          sync.Mutex
	subscribers map[int]chan StateChange
	nextSubID   int
	seen        map[string]bool // uids already announced as signed in
}

var _ Provider = (*FirebaseProvider)(nil)

// NewFirebaseProvider creates a session provider backed by Firebase Auth.
func NewFirebaseProvider(fb *firebase.Service, logger *zap.Logger) *FirebaseProvider {
	return &FirebaseProvider{
		authClient:  fb.Auth(),
		logger:      logger.Named("Session"),
		subscribers: make(map[int]chan StateChange),
		seen:        make(map[string]bool),
	}
}

// VerifyToken verifies a Firebase ID token and returns the caller's identity.
// The first verification of a uid is announced to auth-state subscribers.
func (p *FirebaseProvider) VerifyToken(ctx context.Context, idToken string) (*Identity, error) {
	if idToken == "" {
		return nil, common.ErrUnauthorized.WithDetails("ID token must not be empty.")
	}

	token, err := p.authClient.VerifyIDToken(ctx, idToken)
	if err != nil {
		p.logger.Warn("Firebase ID token verification failed", zap.Error(err))
		return nil, common.ErrUnauthorized.WithDetails("Invalid or expired ID token.")
	}

	ident := &Identity{UserID: token.UID}
	if v, ok := token.Claims["email"].(string); ok {
		ident.Email = v
	}
	if v, ok := token.Claims["name"].(string); ok {
		ident.DisplayName = v
	}
	if v, ok := token.Claims["picture"].(string); ok {
		ident.PhotoURL = v
	}

	p.mu.Lock()
	first := !p.seen[token.UID]
	p.seen[token.UID] = true
	p.mu.Unlock()
	if first {
		p.broadcast(StateChange{UserID: token.UID, SignedIn: true})
	}

	return ident, nil
}

// OnAuthStateChange registers an auth-state subscriber.
func (p *FirebaseProvider) OnAuthStateChange() (<-chan StateChange, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSubID
	p.nextSubID++
	ch := make(chan StateChange, 16)
	p.subscribers[id] = ch

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if sub, ok := p.subscribers[id]; ok {
			delete(p.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

// SignOut revokes the user's refresh tokens and announces the sign-out.
func (p *FirebaseProvider) SignOut(ctx context.Context, userID string) error {
	if err := p.authClient.RevokeRefreshTokens(ctx, userID); err != nil {
		p.logger.Error("Failed to revoke refresh tokens", zap.Error(err), zap.String("uid", userID))
		return fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}

	p.mu.Lock()
	delete(p.seen, userID)
	p.mu.Unlock()

	p.broadcast(StateChange{UserID: userID, SignedIn: false})
	p.logger.Info("User signed out", zap.String("uid", userID))
	return nil
}

func (p *FirebaseProvider) broadcast(change StateChange) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subscribers {
		select {
		case ch <- change:
		default:
			// A subscriber that stopped draining must not block sign-out.
			p.logger.Warn("Dropping auth-state notification for slow subscriber",
				zap.String("uid", change.UserID))
		}
	}
}
