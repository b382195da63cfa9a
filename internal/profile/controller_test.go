// File: internal/profile/controller_test.go
package profile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kopiclub_backend/internal/common"
	"kopiclub_backend/internal/points"
)

// MockStore is a mock type for profile.Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Get(ctx context.Context, userID string) (*Profile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Profile), args.Error(1)
}

func (m *MockStore) Put(ctx context.Context, userID string, p *Profile) error {
	args := m.Called(ctx, userID, p)
	return args.Error(0)
}

func (m *MockStore) UpdatePoints(ctx context.Context, userID string, newValue, expectedPrev int64) error {
	args := m.Called(ctx, userID, newValue, expectedPrev)
	return args.Error(0)
}

func (m *MockStore) Subscribe(ctx context.Context, userID string) (*Subscription, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Subscription), args.Error(1)
}

// MockUploader is a mock type for upload.Uploader
type MockUploader struct {
	mock.Mock
}

func (m *MockUploader) Upload(ctx context.Context, userID, localPath string) (string, error) {
	args := m.Called(ctx, userID, localPath)
	return args.String(0), args.Error(1)
}

// MockStager is a mock type for profile.ImageStager
type MockStager struct {
	mock.Mock
}

func (m *MockStager) Resolve(relativePath string) (string, error) {
	args := m.Called(relativePath)
	return args.String(0), args.Error(1)
}

func (m *MockStager) Discard(relativePath string) error {
	args := m.Called(relativePath)
	return args.Error(0)
}

type controllerFixture struct {
	controller *Controller
	store      *MockStore
	uploader   *MockUploader
	stager     *MockStager
	snapshots  chan Profile
	cancelled  *bool
}

func newControllerFixture(t *testing.T, initial Profile) *controllerFixture {
	t.Helper()

	store := new(MockStore)
	uploader := new(MockUploader)
	stager := new(MockStager)
	snapshots := make(chan Profile)
	cancelled := false
	sub := &Subscription{C: snapshots, cancel: func() { cancelled = true }}

	c := NewController(
		"user-1", initial, sub,
		store, uploader, stager,
		points.DefaultRules(), nil, 3,
		zap.NewNop(),
	)
	t.Cleanup(func() {
		c.Close()
		close(snapshots)
	})
	return &controllerFixture{
		controller: c,
		store:      store,
		uploader:   uploader,
		stager:     stager,
		snapshots:  snapshots,
		cancelled:  &cancelled,
	}
}

// deliver pushes a snapshot and waits until the run loop has applied it.
func (f *controllerFixture) deliver(t *testing.T, p Profile) {
	t.Helper()
	f.snapshots <- p
	require.Eventually(t, func() bool {
		f.controller.mu.Lock()
		defer f.controller.mu.Unlock()
		return f.controller.synced.UpdatedAt.Equal(p.UpdatedAt)
	}, time.Second, time.Millisecond)
}

func baseProfile() Profile {
	return Profile{
		DisplayName: "Budi",
		Email:       "budi@example.com",
		Points:      10,
		UpdatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestController_ViewOverlaysDraft(t *testing.T) {
	f := newControllerFixture(t, baseProfile())

	view := f.controller.View()
	assert.Equal(t, ModeViewing, view.Mode)
	assert.Equal(t, "Budi", view.Profile.DisplayName)
	assert.Equal(t, "user-1", view.Profile.UserID)

	require.NoError(t, f.controller.BeginEdit())
	require.NoError(t, f.controller.SetField("display_name", "Budi S."))

	view = f.controller.View()
	assert.Equal(t, ModeEditing, view.Mode)
	assert.Equal(t, "Budi S.", view.Profile.DisplayName)
	assert.Equal(t, "budi@example.com", view.Profile.Email, "untouched fields come from the draft copy")
}

func TestController_SnapshotWhileEditingDoesNotTouchDraft(t *testing.T) {
	f := newControllerFixture(t, baseProfile())

	require.NoError(t, f.controller.BeginEdit())
	require.NoError(t, f.controller.SetField("display_name", "Local Edit"))

	remote := baseProfile()
	remote.DisplayName = "Remote Rename"
	remote.Points = 42
	remote.UpdatedAt = remote.UpdatedAt.Add(time.Minute)
	f.deliver(t, remote)

	// The draft field survives; the points change is visible immediately.
	view := f.controller.View()
	assert.Equal(t, "Local Edit", view.Profile.DisplayName)
	assert.Equal(t, int64(42), view.Profile.Points)

	// Cancelling reveals the remote rename.
	require.NoError(t, f.controller.CancelEdit())
	view = f.controller.View()
	assert.Equal(t, "Remote Rename", view.Profile.DisplayName)
}

func TestController_BeginEditRequiresViewing(t *testing.T) {
	f := newControllerFixture(t, baseProfile())

	require.NoError(t, f.controller.BeginEdit())
	err := f.controller.BeginEdit()
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrInvalidState))
}

func TestController_SetField(t *testing.T) {
	f := newControllerFixture(t, baseProfile())

	err := f.controller.SetField("display_name", "X")
	require.Error(t, err, "editing a field outside an edit session must fail")
	assert.True(t, errors.Is(err, common.ErrInvalidState))

	require.NoError(t, f.controller.BeginEdit())
	require.NoError(t, f.controller.SetField("email", "new@example.com"))
	require.NoError(t, f.controller.SetField("phone", "+62 812 0000"))
	require.NoError(t, f.controller.SetField("address", "Jl. Sudirman 1"))

	err = f.controller.SetField("points", "999")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrBadRequest))

	view := f.controller.View()
	assert.Equal(t, "new@example.com", view.Profile.Email)
	assert.Equal(t, "+62 812 0000", view.Profile.Phone)
	assert.Equal(t, "Jl. Sudirman 1", view.Profile.Address)
}

func TestController_CancelEditDiscardsDraftAndStagedImage(t *testing.T) {
	f := newControllerFixture(t, baseProfile())
	f.stager.On("Discard", "user-1/avatar.jpg").Return(nil).Once()

	require.NoError(t, f.controller.BeginEdit())
	require.NoError(t, f.controller.SetField("display_name", "Scrapped"))
	require.NoError(t, f.controller.PickImage("user-1/avatar.jpg"))

	require.NoError(t, f.controller.CancelEdit())

	view := f.controller.View()
	assert.Equal(t, ModeViewing, view.Mode)
	assert.Equal(t, "Budi", view.Profile.DisplayName)
	assert.False(t, view.PendingImage)
	f.stager.AssertExpectations(t)
	f.store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything)
}

func TestController_PickImageReplacesPreviousStaged(t *testing.T) {
	f := newControllerFixture(t, baseProfile())
	f.stager.On("Discard", "user-1/first.jpg").Return(nil).Once()
	f.stager.On("Discard", "user-1/second.jpg").Return(nil).Once()

	require.NoError(t, f.controller.BeginEdit())
	require.NoError(t, f.controller.PickImage("user-1/first.jpg"))
	require.NoError(t, f.controller.PickImage("user-1/second.jpg"))
	require.NoError(t, f.controller.CancelEdit())

	f.stager.AssertExpectations(t)
}

func TestController_SaveWithoutImage(t *testing.T) {
	f := newControllerFixture(t, baseProfile())
	f.store.On("Put", mock.Anything, "user-1", mock.MatchedBy(func(p *Profile) bool {
		return p.DisplayName == "Renamed" && p.Points == 10
	})).Return(nil).Once()

	require.NoError(t, f.controller.BeginEdit())
	require.NoError(t, f.controller.SetField("display_name", "Renamed"))

	saved, err := f.controller.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Renamed", saved.DisplayName)

	view := f.controller.View()
	assert.Equal(t, ModeViewing, view.Mode)
	assert.Equal(t, "Renamed", view.Profile.DisplayName)

	f.store.AssertExpectations(t)
	f.uploader.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
}

func TestController_SaveUploadsStagedImageFirst(t *testing.T) {
	f := newControllerFixture(t, baseProfile())
	f.stager.On("Resolve", "user-1/avatar.jpg").Return("/tmp/staging/user-1/avatar.jpg", nil).Once()
	f.uploader.On("Upload", mock.Anything, "user-1", "/tmp/staging/user-1/avatar.jpg").
		Return("https://storage.googleapis.com/kopiclub/avatars/user-1/a.jpg", nil).Once()
	f.stager.On("Discard", "user-1/avatar.jpg").Return(nil).Once()
	f.store.On("Put", mock.Anything, "user-1", mock.MatchedBy(func(p *Profile) bool {
		return p.PhotoURL == "https://storage.googleapis.com/kopiclub/avatars/user-1/a.jpg"
	})).Return(nil).Once()

	require.NoError(t, f.controller.BeginEdit())
	require.NoError(t, f.controller.PickImage("user-1/avatar.jpg"))

	saved, err := f.controller.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://storage.googleapis.com/kopiclub/avatars/user-1/a.jpg", saved.PhotoURL)
	assert.False(t, f.controller.View().PendingImage)

	f.store.AssertExpectations(t)
	f.uploader.AssertExpectations(t)
	f.stager.AssertExpectations(t)
}

func TestController_SaveUploadFailureKeepsDraft(t *testing.T) {
	f := newControllerFixture(t, baseProfile())
	f.stager.On("Resolve", "user-1/avatar.jpg").Return("/tmp/staging/user-1/avatar.jpg", nil).Once()
	f.uploader.On("Upload", mock.Anything, "user-1", "/tmp/staging/user-1/avatar.jpg").
		Return("", errors.New("bucket unavailable")).Once()

	require.NoError(t, f.controller.BeginEdit())
	require.NoError(t, f.controller.SetField("display_name", "Keep Me"))
	require.NoError(t, f.controller.PickImage("user-1/avatar.jpg"))

	_, err := f.controller.Save(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrUploadFailed))

	// Back in Editing with the draft and staged image intact; no Put happened.
	view := f.controller.View()
	assert.Equal(t, ModeEditing, view.Mode)
	assert.Equal(t, "Keep Me", view.Profile.DisplayName)
	assert.True(t, view.PendingImage)
	f.store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything)
}

func TestController_SaveWriteFailureKeepsDraft(t *testing.T) {
	f := newControllerFixture(t, baseProfile())
	f.store.On("Put", mock.Anything, "user-1", mock.Anything).
		Return(errors.New("unavailable")).Once()

	require.NoError(t, f.controller.BeginEdit())
	require.NoError(t, f.controller.SetField("display_name", "Keep Me"))

	_, err := f.controller.Save(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrSyncFailed))

	view := f.controller.View()
	assert.Equal(t, ModeEditing, view.Mode)
	assert.Equal(t, "Keep Me", view.Profile.DisplayName)

	// A retried save succeeds with the same draft.
	f.store.On("Put", mock.Anything, "user-1", mock.Anything).Return(nil).Once()
	saved, err := f.controller.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Keep Me", saved.DisplayName)
	f.store.AssertExpectations(t)
}

func TestController_SaveAdoptsFreshestPoints(t *testing.T) {
	f := newControllerFixture(t, baseProfile())
	f.store.On("Put", mock.Anything, "user-1", mock.Anything).
		Run(func(args mock.Arguments) {
			// A points change lands remotely while the write is in flight.
			remote := baseProfile()
			remote.Points = 99
			f.controller.applySnapshot(remote)
		}).
		Return(nil).Once()

	require.NoError(t, f.controller.BeginEdit())
	require.NoError(t, f.controller.SetField("display_name", "Renamed"))

	saved, err := f.controller.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(99), saved.Points, "the freshest balance wins over the one the save started with")
	assert.Equal(t, int64(99), f.controller.View().Profile.Points)
}

func TestController_SaveTornDownMidFlight(t *testing.T) {
	f := newControllerFixture(t, baseProfile())

	putEntered := make(chan struct{})
	putRelease := make(chan struct{})
	f.store.On("Put", mock.Anything, "user-1", mock.Anything).
		Run(func(args mock.Arguments) {
			close(putEntered)
			<-putRelease
		}).
		Return(nil).Once()

	require.NoError(t, f.controller.BeginEdit())
	require.NoError(t, f.controller.SetField("display_name", "Too Late"))

	errCh := make(chan error, 1)
	go func() {
		_, err := f.controller.Save(context.Background())
		errCh <- err
	}()

	<-putEntered
	f.controller.Close()
	close(putRelease)

	err := <-errCh
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrInvalidState))
	assert.True(t, f.controller.Closed())
}

func TestController_PurchaseAccruesAndPersists(t *testing.T) {
	f := newControllerFixture(t, baseProfile())
	f.store.On("UpdatePoints", mock.Anything, "user-1", int64(12), int64(10)).Return(nil).Once()

	acc, err := f.controller.Purchase(context.Background(), 12000)
	require.NoError(t, err)
	assert.Equal(t, int64(2), acc.Earned)
	assert.Equal(t, int64(12), acc.NewBalance)
	assert.Equal(t, int64(12), f.controller.View().Profile.Points)
	f.store.AssertExpectations(t)
}

func TestController_PurchaseBelowUnitWritesNothing(t *testing.T) {
	f := newControllerFixture(t, baseProfile())

	acc, err := f.controller.Purchase(context.Background(), 4999)
	require.NoError(t, err)
	assert.True(t, acc.NoAccrual())
	assert.Equal(t, int64(10), f.controller.View().Profile.Points)
	f.store.AssertNotCalled(t, "UpdatePoints", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestController_PurchaseRetriesOnConflict(t *testing.T) {
	f := newControllerFixture(t, baseProfile())
	// First attempt loses the race; the balance is re-read and the retry wins.
	f.store.On("UpdatePoints", mock.Anything, "user-1", int64(12), int64(10)).
		Return(common.ErrConflict).Once()
	f.store.On("Get", mock.Anything, "user-1").
		Return(&Profile{DisplayName: "Budi", Points: 15}, nil).Once()
	f.store.On("UpdatePoints", mock.Anything, "user-1", int64(17), int64(15)).Return(nil).Once()

	acc, err := f.controller.Purchase(context.Background(), 12000)
	require.NoError(t, err)
	assert.Equal(t, int64(17), acc.NewBalance)
	f.store.AssertExpectations(t)
}

func TestController_PurchaseGivesUpAfterBoundedRetries(t *testing.T) {
	f := newControllerFixture(t, baseProfile())
	f.store.On("UpdatePoints", mock.Anything, "user-1", mock.Anything, mock.Anything).
		Return(common.ErrConflict).Times(3)
	f.store.On("Get", mock.Anything, "user-1").
		Return(&Profile{Points: 10}, nil).Times(3)

	_, err := f.controller.Purchase(context.Background(), 12000)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrConflict))
	f.store.AssertExpectations(t)
}

func TestController_RedeemPoints(t *testing.T) {
	f := newControllerFixture(t, baseProfile())
	f.store.On("UpdatePoints", mock.Anything, "user-1", int64(5), int64(10)).Return(nil).Once()

	balance, err := f.controller.RedeemPoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)
	f.store.AssertExpectations(t)
}

func TestController_RedeemInsufficientBalance(t *testing.T) {
	p := baseProfile()
	p.Points = 4
	f := newControllerFixture(t, p)

	_, err := f.controller.RedeemPoints(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrInsufficientPoints))
	f.store.AssertNotCalled(t, "UpdatePoints", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestController_CloseIsIdempotentAndCancelsSubscription(t *testing.T) {
	f := newControllerFixture(t, baseProfile())
	f.stager.On("Discard", "user-1/avatar.jpg").Return(nil).Once()

	require.NoError(t, f.controller.BeginEdit())
	require.NoError(t, f.controller.PickImage("user-1/avatar.jpg"))

	f.controller.Close()
	f.controller.Close()

	assert.True(t, f.controller.Closed())
	assert.True(t, *f.cancelled)
	f.stager.AssertExpectations(t)

	err := f.controller.BeginEdit()
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrInvalidState))
}

// casStore is an in-memory Store with the same conditional-write contract as
// the Firestore implementation.
type casStore struct {
	mu sync.Mutex
	p  Profile
}

func (s *casStore) Get(ctx context.Context, userID string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.p
	return &p, nil
}

func (s *casStore) Put(ctx context.Context, userID string, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p = *p
	return nil
}

func (s *casStore) UpdatePoints(ctx context.Context, userID string, newValue, expectedPrev int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.p.Points != expectedPrev {
		return common.ErrConflict
	}
	s.p.Points = newValue
	return nil
}

func (s *casStore) Subscribe(ctx context.Context, userID string) (*Subscription, error) {
	ch := make(chan Profile)
	return &Subscription{C: ch, cancel: func() { close(ch) }}, nil
}

func TestController_ConcurrentAccrualsAllLand(t *testing.T) {
	store := &casStore{p: Profile{DisplayName: "Budi", Points: 0}}
	snapshots := make(chan Profile)
	defer close(snapshots)

	c := NewController(
		"user-1", store.p, &Subscription{C: snapshots, cancel: func() {}},
		store, new(MockUploader), new(MockStager),
		points.DefaultRules(), nil, 50,
		zap.NewNop(),
	)
	defer c.Close()

	const workers = 8
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := c.Purchase(context.Background(), 5000)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	final, err := store.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(workers), final.Points, "every concurrent accrual must land exactly once")
}
