// File: internal/profile/manager.go
package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"kopiclub_backend/internal/common"
	"kopiclub_backend/internal/config"
	"kopiclub_backend/internal/points"
	"kopiclub_backend/internal/session"
	"kopiclub_backend/internal/upload"
)

// Manager is the registry of live per-user controllers. It creates them
// lazily on first use, tears them down on sign-out, and lets the idle
// sweeper reclaim sessions whose subscriptions would otherwise leak.
type Manager struct {
	store    Store
	uploader upload.Uploader
	stager   ImageStager
	journal  points.Journal
	sessions session.Provider
	rules    points.Rules
	retries  int
	logger   *zap.Logger

	// rootCtx scopes store subscriptions to the manager's lifetime rather
	// than any single request.
	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu          sync.Mutex
	controllers map[string]*Controller
}

// NewManager creates the controller registry and subscribes it to auth-state
// changes so sign-outs tear the user's session down. The returned cleanup
// closes every live controller.
func NewManager(
	store Store,
	uploader upload.Uploader,
	stager ImageStager,
	journal points.Journal,
	sessions session.Provider,
	cfg *config.Config,
	logger *zap.Logger,
) (*Manager, func()) {
	rootCtx, rootCancel := context.WithCancel(context.Background())
	m := &Manager{
		store:       store,
		uploader:    uploader,
		stager:      stager,
		journal:     journal,
		sessions:    sessions,
		rules:       points.NewRules(cfg),
		retries:     cfg.PointsUpdateRetries,
		logger:      logger.Named("ProfileManager"),
		rootCtx:     rootCtx,
		rootCancel:  rootCancel,
		controllers: make(map[string]*Controller),
	}

	authCh, unsubscribe := sessions.OnAuthStateChange()
	go m.watchAuthState(authCh)

	cleanup := func() {
		unsubscribe()
		rootCancel()
		m.CloseAll()
	}
	return m, cleanup
}

func (m *Manager) watchAuthState(ch <-chan session.StateChange) {
	for change := range ch {
		if !change.SignedIn {
			m.Release(change.UserID)
		}
	}
}

// Controller returns the live controller for the identified user, creating
// it (and, for a brand-new user, the profile document itself) on first use.
func (m *Manager) Controller(ctx context.Context, ident *session.Identity) (*Controller, error) {
	if ident == nil || ident.UserID == "" {
		return nil, common.ErrUnauthorized.WithDetails("No authenticated user.")
	}

	m.mu.Lock()
	if ctrl, ok := m.controllers[ident.UserID]; ok && !ctrl.Closed() {
		m.mu.Unlock()
		return ctrl, nil
	}
	m.mu.Unlock()

	initial, err := m.loadOrCreate(ctx, ident)
	if err != nil {
		return nil, err
	}

	sub, err := m.store.Subscribe(m.rootCtx, ident.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to profile updates: %w", err)
	}

	ctrl := NewController(ident.UserID, *initial, sub, m.store, m.uploader, m.stager,
		m.rules, m.journal, m.retries, m.logger)

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.controllers[ident.UserID]; ok && !existing.Closed() {
		// Lost a creation race; keep the first one.
		go ctrl.Close()
		return existing, nil
	}
	m.controllers[ident.UserID] = ctrl
	m.logger.Info("Profile session opened", zap.String("uid", ident.UserID))
	return ctrl, nil
}

// loadOrCreate fetches the profile, creating it from the auth identity when
// no document exists yet (a user record is created on first write).
func (m *Manager) loadOrCreate(ctx context.Context, ident *session.Identity) (*Profile, error) {
	p, err := m.store.Get(ctx, ident.UserID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	fresh := &Profile{
		UserID:      ident.UserID,
		DisplayName: ident.DisplayName,
		PhotoURL:    ident.PhotoURL,
		Email:       ident.Email,
		Points:      0,
	}
	if err := m.store.Put(ctx, ident.UserID, fresh); err != nil {
		return nil, fmt.Errorf("failed to create profile for user '%s': %w", ident.UserID, err)
	}
	m.logger.Info("Profile created on first use", zap.String("uid", ident.UserID))
	return fresh, nil
}

// Release closes and forgets the user's controller, if any.
func (m *Manager) Release(userID string) {
	m.mu.Lock()
	ctrl, ok := m.controllers[userID]
	if ok {
		delete(m.controllers, userID)
	}
	m.mu.Unlock()

	if ok {
		ctrl.Close()
		m.logger.Info("Profile session released", zap.String("uid", userID))
	}
}

// SignOut revokes the user's refresh tokens via the session provider; the
// auth-state notification then releases the controller. The user's local
// session state is gone either way, even if revocation fails.
func (m *Manager) SignOut(ctx context.Context, userID string) error {
	err := m.sessions.SignOut(ctx, userID)
	m.Release(userID)
	return err
}

// SweepIdle closes controllers that have seen no user action for at least
// ttl, so stale sessions do not hold live Firestore listeners forever.
// It returns the number of sessions closed.
func (m *Manager) SweepIdle(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	m.mu.Lock()
	var stale []*Controller
	for uid, ctrl := range m.controllers {
		if ctrl.LastActive().Before(cutoff) {
			stale = append(stale, ctrl)
			delete(m.controllers, uid)
		}
	}
	m.mu.Unlock()

	for _, ctrl := range stale {
		ctrl.Close()
		m.logger.Info("Idle profile session swept", zap.String("uid", ctrl.UserID()))
	}
	return len(stale)
}

// CloseAll tears down every live controller. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ctrls := make([]*Controller, 0, len(m.controllers))
	for _, ctrl := range m.controllers {
		ctrls = append(ctrls, ctrl)
	}
	m.controllers = make(map[string]*Controller)
	m.mu.Unlock()

	for _, ctrl := range ctrls {
		ctrl.Close()
	}
}
