package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"jobcard-backend/internal/idalloc"
	"jobcard-backend/internal/inactivity"
	"jobcard-backend/internal/jobcard"
	"jobcard-backend/internal/mock"
	"jobcard-backend/internal/models"
	"jobcard-backend/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	sam = models.Identity{ID: "eng-1", Email: "sam@example.com", Name: "Sam Okafor", Role: models.RoleEngineer}
	ada = models.Identity{ID: "adm-1", Email: "ada@example.com", Name: "Ada Obi", Role: models.RoleAdmin}
)

type harness struct {
	auth    *mock.Auth
	remote  *mock.Remote
	cache   *mock.Cache
	clock   *inactivity.ManualClock
	monitor *inactivity.Monitor
	store   *jobcard.Store
	binder  *session.Binder
	tokens  []string
	reloads []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		auth:   mock.NewAuth(),
		remote: mock.NewRemote(),
		cache:  mock.NewCache(),
		clock:  inactivity.NewManualClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)),
	}
	h.auth.AddUser("pw", sam)
	h.auth.AddUser("pw", ada)
	h.monitor = inactivity.NewMonitor(h.clock, 4*time.Minute, 5*time.Minute)
	h.store = jobcard.NewStore(h.remote, h.cache, idalloc.New(h.remote, "JC"),
		jobcard.WithLocation(time.UTC),
		jobcard.WithTimeouts(100*time.Millisecond, 100*time.Millisecond),
	)
	h.binder = session.NewBinder(h.auth, h.store, h.cache, h.monitor, session.NewHub(),
		session.WithTokenHook(func(tok string) { h.tokens = append(h.tokens, tok) }),
		session.WithReloadHook(func(reason string) { h.reloads = append(h.reloads, reason) }),
	)
	return h
}

func draft() models.Draft {
	return models.Draft{
		HospitalName:     "General",
		MachineType:      "CT",
		MachineModel:     "Revolution",
		SerialNumber:     "CT-1",
		ProblemReported:  "noise",
		ServicePerformed: "fixed",
		DateTime:         "2026-06-01T08:00",
	}
}

func TestLogin_BindsAndLoads(t *testing.T) {
	h := newHarness(t)
	events, unsubscribe := h.binder.Hub().Subscribe(4)
	defer unsubscribe()

	sess, state, err := h.binder.Login(context.Background(), sam.Email, "pw")

	require.NoError(t, err)
	assert.Equal(t, sam, sess.User)
	assert.Equal(t, jobcard.StateLoaded, state)
	assert.Equal(t, []string{"token-eng-1"}, h.tokens)
	assert.True(t, h.monitor.Running())

	current, ok := h.binder.Current()
	assert.True(t, ok)
	assert.Equal(t, sam.ID, current.User.ID)

	ev := <-events
	assert.Equal(t, session.EventSignedIn, ev.Type)
	require.NotNil(t, ev.User)
	assert.Equal(t, sam.ID, ev.User.ID)
}

func TestLogin_BadCredentials(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.binder.Login(context.Background(), sam.Email, "wrong")

	assert.ErrorIs(t, err, mock.ErrInvalidCredentials)
	_, ok := h.binder.Current()
	assert.False(t, ok)
	assert.False(t, h.monitor.Running())
}

func TestTeardown_ClearsEverything(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, err := h.binder.Login(ctx, sam.Email, "pw")
	require.NoError(t, err)
	_, err = h.store.Create(ctx, sam, draft())
	require.NoError(t, err)
	require.NoError(t, h.binder.SaveDraft(ctx, draft()))

	require.NoError(t, h.binder.Teardown(ctx, session.ReasonLogout))

	_, ok := h.binder.Current()
	assert.False(t, ok)
	assert.False(t, h.monitor.Running())
	assert.Empty(t, h.store.All())
	assert.Equal(t, jobcard.StateEmpty, h.store.State())
	assert.Equal(t, []string{"token-eng-1"}, h.auth.SignOuts())
	assert.Equal(t, "", h.tokens[len(h.tokens)-1])

	_, found, _ := h.cache.Get(ctx, jobcard.CacheKey)
	assert.False(t, found)
	_, found, _ = h.cache.Get(ctx, "session:draft:eng-1")
	assert.False(t, found)
	assert.Empty(t, h.reloads)
}

func TestTeardown_SignOutFailureStillClearsLocalState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, err := h.binder.Login(ctx, sam.Email, "pw")
	require.NoError(t, err)
	h.auth.SignOutErr = errors.New("offline")

	err = h.binder.Teardown(ctx, session.ReasonLogout)

	assert.NoError(t, err)
	_, ok := h.binder.Current()
	assert.False(t, ok)
	assert.Empty(t, h.reloads)
}

func TestTeardown_ForcesResetWhenLocalClearFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, err := h.binder.Login(ctx, sam.Email, "pw")
	require.NoError(t, err)
	events, unsubscribe := h.binder.Hub().Subscribe(4)
	defer unsubscribe()
	h.cache.DeletePrefixErr = errors.New("disk full")

	err = h.binder.Teardown(ctx, session.ReasonLogout)

	assert.Error(t, err)
	_, ok := h.binder.Current()
	assert.False(t, ok)
	assert.Empty(t, h.store.All())
	assert.Equal(t, []string{session.ReasonLogout}, h.reloads)
	assert.Equal(t, session.EventReload, (<-events).Type)
}

func TestTeardown_WithoutSessionIsSafe(t *testing.T) {
	h := newHarness(t)

	assert.NoError(t, h.binder.Teardown(context.Background(), session.ReasonLogout))
	assert.NoError(t, h.binder.Teardown(context.Background(), session.ReasonLogout))
	assert.Empty(t, h.auth.SignOuts())
}

func TestTeardown_KeepsUnsyncedRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, err := h.binder.Login(ctx, sam.Email, "pw")
	require.NoError(t, err)
	h.remote.SetErrors(nil, errors.New("offline"), nil)
	id, err := h.store.Create(ctx, sam, draft())
	require.NoError(t, err)

	require.NoError(t, h.binder.Teardown(ctx, session.ReasonLogout))

	raw, found, err := h.cache.Get(ctx, jobcard.KeptCacheKey(sam.ID))
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, raw, `"`+id+`"`)

	h.remote.SetErrors(nil, nil, nil)
	_, _, err = h.binder.Login(ctx, sam.Email, "pw")
	require.NoError(t, err)
	assert.Empty(t, h.store.PendingIDs())
	require.Len(t, h.remote.Rows(), 1)
	assert.Equal(t, id, h.remote.Rows()[0].ID)
}

func TestLogin_SwitchDoesNotAdoptPreviousUsersRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, err := h.binder.Login(ctx, sam.Email, "pw")
	require.NoError(t, err)
	h.remote.SetErrors(nil, errors.New("offline"), nil)
	id, err := h.store.Create(ctx, sam, draft())
	require.NoError(t, err)

	_, _, err = h.binder.Login(ctx, ada.Email, "pw")
	require.NoError(t, err)

	_, ok := h.store.Get(id)
	assert.False(t, ok, "another engineer's unsynced record stays out of the collection")
	assert.Empty(t, h.store.PendingIDs())

	h.remote.SetErrors(nil, nil, nil)
	_, _, err = h.binder.Login(ctx, sam.Email, "pw")
	require.NoError(t, err)
	assert.Empty(t, h.store.PendingIDs())
	require.Len(t, h.remote.Rows(), 1)
	assert.Equal(t, id, h.remote.Rows()[0].ID)
}

func TestInactivity_TimeoutTearsDown(t *testing.T) {
	h := newHarness(t)
	events, unsubscribe := h.binder.Hub().Subscribe(8)
	defer unsubscribe()
	_, _, err := h.binder.Login(context.Background(), sam.Email, "pw")
	require.NoError(t, err)
	<-events

	h.clock.Advance(4 * time.Minute)
	warning := <-events
	assert.Equal(t, session.EventWarning, warning.Type)
	assert.Equal(t, 60, warning.SecondsRemaining)
	status := h.binder.Status()
	assert.True(t, status.Warning)
	assert.Equal(t, 60, status.SecondsRemaining)

	h.clock.Advance(time.Minute)
	out := <-events
	assert.Equal(t, session.EventSignedOut, out.Type)
	assert.Equal(t, session.ReasonTimeout, out.Reason)
	_, ok := h.binder.Current()
	assert.False(t, ok)
	assert.Equal(t, []string{"token-eng-1"}, h.auth.SignOuts())
}

func TestExtend_PushesLogout(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.binder.Login(context.Background(), sam.Email, "pw")
	require.NoError(t, err)

	h.clock.Advance(4*time.Minute + 30*time.Second)
	require.NoError(t, h.binder.Extend())
	h.clock.Advance(3 * time.Minute)

	_, ok := h.binder.Current()
	assert.True(t, ok)
	assert.False(t, h.binder.Status().Warning)
}

func TestActivityAndVisibility(t *testing.T) {
	h := newHarness(t)
	_, err := h.binder.RecordActivity(inactivity.ActivityClick)
	assert.ErrorIs(t, err, session.ErrNoSession)
	assert.ErrorIs(t, h.binder.SetVisible(false), session.ErrNoSession)
	assert.ErrorIs(t, h.binder.Extend(), session.ErrNoSession)

	_, _, err = h.binder.Login(context.Background(), sam.Email, "pw")
	require.NoError(t, err)

	moved, err := h.binder.RecordActivity(inactivity.ActivityScroll)
	require.NoError(t, err)
	assert.True(t, moved)

	require.NoError(t, h.binder.SetVisible(false))
	assert.True(t, h.binder.Status().Paused)
	h.clock.Advance(time.Hour)
	_, ok := h.binder.Current()
	assert.True(t, ok, "hidden sessions do not time out")

	require.NoError(t, h.binder.SetVisible(true))
	assert.Equal(t, 300, h.binder.Status().SecondsRemaining)
}

func TestLogin_SwitchingUserTearsDownPrevious(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, err := h.binder.Login(ctx, sam.Email, "pw")
	require.NoError(t, err)

	_, _, err = h.binder.Login(ctx, ada.Email, "pw")
	require.NoError(t, err)

	current, ok := h.binder.Current()
	require.True(t, ok)
	assert.Equal(t, ada.ID, current.User.ID)
	assert.Equal(t, []string{"token-eng-1"}, h.auth.SignOuts())
	assert.True(t, h.monitor.Running())
}

func TestDrafts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	assert.ErrorIs(t, h.binder.SaveDraft(ctx, draft()), session.ErrNoSession)

	_, _, err := h.binder.Login(ctx, sam.Email, "pw")
	require.NoError(t, err)

	_, found, err := h.binder.LoadDraft(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, h.binder.SaveDraft(ctx, draft()))
	d, found, err := h.binder.LoadDraft(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, draft(), d)

	require.NoError(t, h.binder.ClearDraft(ctx))
	_, found, err = h.binder.LoadDraft(ctx)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStatus_NoSession(t *testing.T) {
	h := newHarness(t)
	status := h.binder.Status()
	assert.False(t, status.Active)
	assert.Nil(t, status.User)
}
