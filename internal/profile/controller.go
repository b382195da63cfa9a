// File: internal/profile/controller.go
package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"kopiclub_backend/internal/common"
	"kopiclub_backend/internal/points"
	"kopiclub_backend/internal/upload"
)

// Mode is the edit-session state of a Controller.
type Mode string

const (
	ModeViewing Mode = "viewing"
	ModeEditing Mode = "editing"
	ModeSaving  Mode = "saving"
)

// ImageStager resolves and discards staged avatar files.
// *filestorage.StagingService satisfies it.
type ImageStager interface {
	Resolve(relativePath string) (string, error)
	Discard(relativePath string) error
}

// View is the display state reported to clients: the synced profile with the
// draft overlaid while an edit session is open.
type View struct {
	Mode         Mode    `json:"mode"`
	Profile      Profile `json:"profile"`
	PendingImage bool    `json:"pending_image,omitempty"`
}

// Controller owns one user's edit session and reconciles local edits against
// remote profile snapshots.
//
// It runs a goroutine that consumes the store subscription in delivery order.
// While an edit session is open (Editing or Saving) remote snapshots advance
// the synced copy, points included, but never touch the draft, so concurrent
// external writes cannot clobber input in progress. Save and the points
// operations perform their network round-trips without holding the state
// lock, so snapshot delivery, CancelEdit and Close never wait on in-flight
// I/O; a save generation counter makes results that complete after teardown
// be discarded instead of applied.
type Controller struct {
	userID   string
	store    Store
	uploader upload.Uploader
	stager   ImageStager
	rules    points.Rules
	journal  points.Journal
	retries  int
	logger   *zap.Logger

	sub *Subscription

	mu           sync.Mutex
	mode         Mode
	synced       Profile
	draft        *Draft
	pendingImage string
	saveGen      uint64
	closed       bool
	lastActive   time.Time
}

// NewController creates a controller for one user and starts consuming the
// given subscription. initial is the last known synced profile.
func NewController(
	userID string,
	initial Profile,
	sub *Subscription,
	store Store,
	uploader upload.Uploader,
	stager ImageStager,
	rules points.Rules,
	journal points.Journal,
	retries int,
	logger *zap.Logger,
) *Controller {
	if retries < 1 {
		retries = 1
	}
	c := &Controller{
		userID:     userID,
		store:      store,
		uploader:   uploader,
		stager:     stager,
		rules:      rules,
		journal:    journal,
		retries:    retries,
		logger:     logger.Named("ProfileSync").With(zap.String("uid", userID)),
		sub:        sub,
		mode:       ModeViewing,
		synced:     initial,
		lastActive: time.Now(),
	}
	go c.run()
	return c
}

func (c *Controller) run() {
	for p := range c.sub.C {
		c.applySnapshot(p)
	}
}

func (c *Controller) applySnapshot(p Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	// The draft is never touched here; an external points change made from
	// another device still becomes visible through the synced copy.
	c.synced = p
}

func (c *Controller) touch() {
	c.lastActive = time.Now()
}

// UserID returns the owning user's ID.
func (c *Controller) UserID() string {
	return c.userID
}

// LastActive reports when a user action last touched this session.
func (c *Controller) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// View returns the current display state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	display := c.synced
	if c.draft != nil {
		c.draft.applyTo(&display)
	}
	display.UserID = c.userID
	return View{
		Mode:         c.mode,
		Profile:      display,
		PendingImage: c.pendingImage != "",
	}
}

// BeginEdit opens an edit session, copying the synced fields into the draft.
// Valid only while Viewing.
func (c *Controller) BeginEdit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireMode(ModeViewing); err != nil {
		return err
	}
	c.touch()
	d := draftFrom(c.synced)
	c.draft = &d
	c.mode = ModeEditing
	return nil
}

// CancelEdit discards the draft and any staged image. Valid only while
// Editing; nothing is persisted and it never waits on in-flight I/O.
func (c *Controller) CancelEdit() error {
	c.mu.Lock()
	if err := c.requireMode(ModeEditing); err != nil {
		c.mu.Unlock()
		return err
	}
	c.touch()
	staged := c.pendingImage
	c.draft = nil
	c.pendingImage = ""
	c.mode = ModeViewing
	c.mu.Unlock()

	c.discardStaged(staged)
	return nil
}

// SetField mutates one editable draft field. Valid only while Editing.
func (c *Controller) SetField(name, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireMode(ModeEditing); err != nil {
		return err
	}
	c.touch()
	switch name {
	case "display_name":
		c.draft.DisplayName = value
	case "email":
		c.draft.Email = value
	case "phone":
		c.draft.Phone = value
	case "address":
		c.draft.Address = value
	default:
		return common.ErrBadRequest.WithDetails(
			fmt.Sprintf("'%s' is not an editable profile field.", name))
	}
	return nil
}

// PickImage records a staged local image for upload on save. Picking a new
// image replaces (and discards) a previously staged one. Valid only while
// Editing; nothing is uploaded until Save.
func (c *Controller) PickImage(localRef string) error {
	c.mu.Lock()
	if err := c.requireMode(ModeEditing); err != nil {
		c.mu.Unlock()
		return err
	}
	c.touch()
	previous := c.pendingImage
	c.pendingImage = localRef
	c.mu.Unlock()

	if previous != localRef {
		c.discardStaged(previous)
	}
	return nil
}

// Save persists the draft: a staged image is uploaded first, then the whole
// document is written once. Any failure returns the session to Editing with
// the draft intact (a successful upload survives in the draft, so a retried
// save skips re-uploading). Valid only while Editing.
func (c *Controller) Save(ctx context.Context) (*Profile, error) {
	c.mu.Lock()
	if err := c.requireMode(ModeEditing); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.touch()
	c.mode = ModeSaving
	gen := c.saveGen
	pending := c.pendingImage
	c.mu.Unlock()

	if pending != "" {
		url, err := c.uploadStaged(ctx, pending)
		if err != nil {
			c.revertToEditing(gen)
			c.logger.Warn("Avatar upload failed; draft preserved", zap.Error(err))
			return nil, common.ErrUploadFailed.WithDetails(err.Error())
		}
		c.mu.Lock()
		if c.saveGen != gen || c.mode != ModeSaving {
			c.mu.Unlock()
			return nil, common.ErrInvalidState.WithDetails("The edit session ended while saving.")
		}
		c.draft.PhotoURL = url
		c.pendingImage = ""
		c.mu.Unlock()
		c.discardStaged(pending)
	}

	// Assemble the full document: draft fields over the latest synced copy.
	// Points always carry the freshest known balance; a profile save never
	// authors a points value of its own.
	c.mu.Lock()
	if c.saveGen != gen || c.mode != ModeSaving {
		c.mu.Unlock()
		return nil, common.ErrInvalidState.WithDetails("The edit session ended while saving.")
	}
	doc := c.synced
	c.draft.applyTo(&doc)
	doc.UserID = c.userID
	c.mu.Unlock()

	if err := c.store.Put(ctx, c.userID, &doc); err != nil {
		c.revertToEditing(gen)
		c.logger.Warn("Profile write failed; draft preserved", zap.Error(err))
		return nil, common.ErrSyncFailed.WithDetails(err.Error())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saveGen != gen || c.mode != ModeSaving {
		// The session was torn down while the write was in flight; the
		// result is discarded rather than applied to a dead session.
		return nil, common.ErrInvalidState.WithDetails("The edit session ended while saving.")
	}
	// A snapshot may have advanced the balance while the write was in
	// flight; the freshest points win locally.
	doc.Points = c.synced.Points
	c.synced = doc
	c.draft = nil
	c.mode = ModeViewing
	return &doc, nil
}

func (c *Controller) uploadStaged(ctx context.Context, staged string) (string, error) {
	abs, err := c.stager.Resolve(staged)
	if err != nil {
		return "", err
	}
	return c.uploader.Upload(ctx, c.userID, abs)
}

func (c *Controller) revertToEditing(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saveGen == gen && c.mode == ModeSaving {
		c.mode = ModeEditing
	}
}

// Purchase applies the accrual rule for a purchase and persists the new
// balance conditionally, retrying a bounded number of times when a concurrent
// writer changed the balance first. Purchases below one accrual unit earn
// nothing and perform no write. Callable in any mode.
func (c *Controller) Purchase(ctx context.Context, amount int64) (points.Accrual, error) {
	c.mu.Lock()
	c.touch()
	balance := c.synced.Points
	c.mu.Unlock()

	for attempt := 0; attempt < c.retries; attempt++ {
		acc, err := c.rules.AccruePurchase(balance, amount)
		if err != nil {
			return points.Accrual{}, err
		}
		if acc.NoAccrual() {
			return acc, nil
		}
		err = c.store.UpdatePoints(ctx, c.userID, acc.NewBalance, balance)
		if err == nil {
			c.adoptBalance(acc.NewBalance)
			c.recordJournal(ctx, points.KindAccrual, amount, acc.Earned, balance, acc.NewBalance)
			return acc, nil
		}
		if !errors.Is(err, common.ErrConflict) {
			return points.Accrual{}, common.ErrSyncFailed.WithDetails(err.Error())
		}
		balance, err = c.refreshBalance(ctx)
		if err != nil {
			return points.Accrual{}, err
		}
	}
	return points.Accrual{}, common.ErrConflict.WithDetails(
		"The points balance kept changing concurrently; please retry.")
}

// RedeemPoints deducts the fixed redemption cost with the same conditional
// write discipline as Purchase. Fails with ErrInsufficientPoints when the
// balance cannot cover the cost. Callable in any mode.
func (c *Controller) RedeemPoints(ctx context.Context) (int64, error) {
	c.mu.Lock()
	c.touch()
	balance := c.synced.Points
	c.mu.Unlock()

	for attempt := 0; attempt < c.retries; attempt++ {
		newBalance, err := c.rules.Redeem(balance)
		if err != nil {
			return balance, err
		}
		err = c.store.UpdatePoints(ctx, c.userID, newBalance, balance)
		if err == nil {
			c.adoptBalance(newBalance)
			c.recordJournal(ctx, points.KindRedemption, 0, newBalance-balance, balance, newBalance)
			return newBalance, nil
		}
		if !errors.Is(err, common.ErrConflict) {
			return balance, common.ErrSyncFailed.WithDetails(err.Error())
		}
		balance, err = c.refreshBalance(ctx)
		if err != nil {
			return balance, err
		}
	}
	return balance, common.ErrConflict.WithDetails(
		"The points balance kept changing concurrently; please retry.")
}

func (c *Controller) adoptBalance(newBalance int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.synced.Points = newBalance
}

func (c *Controller) refreshBalance(ctx context.Context) (int64, error) {
	fresh, err := c.store.Get(ctx, c.userID)
	if err != nil {
		return 0, common.ErrSyncFailed.WithDetails(err.Error())
	}
	c.mu.Lock()
	c.synced.Points = fresh.Points
	c.mu.Unlock()
	return fresh.Points, nil
}

func (c *Controller) recordJournal(ctx context.Context, kind points.EntryKind, amount, delta, before, after int64) {
	if c.journal == nil {
		return
	}
	entry := &points.Entry{
		UserID:        c.userID,
		Kind:          kind,
		Amount:        amount,
		PointsDelta:   delta,
		BalanceBefore: before,
		BalanceAfter:  after,
	}
	if err := c.journal.Record(ctx, entry); err != nil {
		// The Firestore balance is the source of truth; a journal miss is
		// logged, not surfaced.
		c.logger.Warn("Failed to record points journal entry",
			zap.String("kind", string(kind)), zap.Error(err))
	}
}

// Close tears the session down: the subscription is released, local state is
// discarded and any save still in flight will have its result ignored. It
// never waits on in-flight network operations and is safe to call twice.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.saveGen++
	staged := c.pendingImage
	c.draft = nil
	c.pendingImage = ""
	c.mode = ModeViewing
	c.mu.Unlock()

	c.sub.Cancel()
	c.discardStaged(staged)
}

// Closed reports whether the session has been torn down.
func (c *Controller) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) discardStaged(staged string) {
	if staged == "" || c.stager == nil {
		return
	}
	if err := c.stager.Discard(staged); err != nil {
		c.logger.Warn("Failed to discard staged image", zap.String("ref", staged), zap.Error(err))
	}
}

// requireMode is called with c.mu held.
func (c *Controller) requireMode(want Mode) error {
	if c.closed {
		return common.ErrInvalidState.WithDetails("The session has ended.")
	}
	if c.mode != want {
		return common.ErrInvalidState.WithDetails(
			fmt.Sprintf("This action requires the %s state; the session is %s.", want, c.mode))
	}
	return nil
}
