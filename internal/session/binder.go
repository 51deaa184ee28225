// Package session ties the authenticated user to the job card store and the
// inactivity monitor, so a timeout has the same effect as signing out.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"jobcard-backend/internal/cache"
	"jobcard-backend/internal/errs"
	"jobcard-backend/internal/inactivity"
	"jobcard-backend/internal/jobcard"
	"jobcard-backend/internal/logging"
	"jobcard-backend/internal/models"
)

const (
	ReasonLogout  = "logout"
	ReasonTimeout = "inactivity"
	ReasonSwitch  = "user_switch"

	// EphemeralPrefix scopes cache keys that must not outlive a session.
	EphemeralPrefix = "session:"
	draftKeyPrefix  = EphemeralPrefix + "draft:"

	teardownSyncTimeout = 10 * time.Second
)

var ErrNoSession = errors.New("no active session")

// Authenticator is the auth provider the binder signs in and out through.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (*models.Session, error)
	SignOut(ctx context.Context, accessToken string) error
}

type Binder struct {
	auth    Authenticator
	store   *jobcard.Store
	cache   cache.Cache
	monitor *inactivity.Monitor
	hub     *Hub

	tokenHook func(accessToken string)
	reload    func(reason string)

	teardownMu sync.Mutex

	mu      sync.RWMutex
	session *models.Session
}

type Option func(*Binder)

// WithTokenHook is called with the user's access token on bind, and with ""
// on teardown.
func WithTokenHook(fn func(accessToken string)) Option {
	return func(b *Binder) { b.tokenHook = fn }
}

// WithReloadHook is called after a teardown had to force local state back to
// signed out.
func WithReloadHook(fn func(reason string)) Option {
	return func(b *Binder) { b.reload = fn }
}

func NewBinder(auth Authenticator, store *jobcard.Store, c cache.Cache, monitor *inactivity.Monitor, hub *Hub, opts ...Option) *Binder {
	if hub == nil {
		hub = NewHub()
	}
	b := &Binder{auth: auth, store: store, cache: c, monitor: monitor, hub: hub}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Binder) Hub() *Hub { return b.hub }

// Login authenticates, binds the session and loads the user's job cards.
// Signing in as a different user first tears down the current session.
func (b *Binder) Login(ctx context.Context, email, password string) (models.Session, jobcard.State, error) {
	sess, err := b.auth.SignIn(ctx, email, password)
	if err != nil {
		return models.Session{}, jobcard.StateEmpty, errs.Wrap(err, "sign in")
	}
	if sess == nil {
		return models.Session{}, jobcard.StateEmpty, errors.New("sign in returned no session")
	}

	if current, ok := b.Current(); ok && current.User.ID != sess.User.ID {
		if err := b.Teardown(ctx, ReasonSwitch); err != nil {
			logging.Warn(ctx, "previous session teardown incomplete", slog.Any("err", errs.Loggable(err)))
		}
	}

	b.Bind(ctx, *sess)
	state := b.store.Load(ctx)
	return *sess, state, nil
}

// Bind makes sess the current session and starts the inactivity countdown.
func (b *Binder) Bind(ctx context.Context, sess models.Session) {
	b.mu.Lock()
	s := sess
	b.session = &s
	b.mu.Unlock()
	b.store.SetOwner(sess.User.ID)

	if b.tokenHook != nil {
		b.tokenHook(sess.AccessToken)
	}

	b.monitor.OnWarning(b.warn)
	b.monitor.Start(func() {
		if err := b.Teardown(context.Background(), ReasonTimeout); err != nil {
			logging.Error(context.Background(), "inactivity teardown failed", slog.Any("err", errs.Loggable(err)))
		}
	})

	user := sess.User
	b.hub.Publish(Event{Type: EventSignedIn, At: time.Now(), User: &user})
	logging.Info(ctx, "session bound", slog.String("user_id", user.ID), slog.String("role", user.Role))
}

func (b *Binder) warn() {
	_, logoutAt, ok := b.monitor.Deadlines()
	if !ok {
		return
	}
	b.hub.Publish(Event{
		Type:             EventWarning,
		At:               time.Now(),
		LogoutAt:         &logoutAt,
		SecondsRemaining: seconds(b.monitor.Remaining()),
	})
}

// Teardown ends the session locally whether or not the auth provider can be
// reached. If clearing local state fails it forces a signed-out state and
// fires the reload hook. It is safe to call with no session bound.
func (b *Binder) Teardown(ctx context.Context, reason string) error {
	ctx = logging.WithAttrs(ctx, slog.String("component", "session"), slog.String("reason", reason))
	b.teardownMu.Lock()
	defer b.teardownMu.Unlock()

	b.monitor.Destroy()

	b.mu.RLock()
	sess := b.session
	b.mu.RUnlock()

	if sess != nil && len(b.store.PendingIDs()) > 0 {
		syncCtx, cancel := context.WithTimeout(ctx, teardownSyncTimeout)
		if _, err := b.store.SyncPending(syncCtx); err != nil {
			logging.Warn(ctx, "pending job cards not synced before sign out", slog.Any("err", errs.Loggable(err)))
		}
		cancel()
	}

	if sess != nil {
		if err := b.auth.SignOut(ctx, sess.AccessToken); err != nil {
			logging.Warn(ctx, "remote sign out failed, clearing local session anyway", slog.Any("err", errs.Loggable(err)))
		}
	}

	b.mu.Lock()
	b.session = nil
	b.mu.Unlock()
	if b.tokenHook != nil {
		b.tokenHook("")
	}

	kept, cacheErr := b.store.Clear(ctx)
	if kept > 0 {
		logging.Warn(ctx, "kept unsynced job cards on device", slog.Int("count", kept))
	}
	err := errors.Join(
		cacheErr,
		errs.Wrap(b.cache.DeletePrefix(ctx, EphemeralPrefix), "clear session storage"),
	)

	if err != nil {
		b.forceReset(ctx, reason, err)
		return err
	}

	b.hub.Publish(Event{Type: EventSignedOut, At: time.Now(), Reason: reason})
	if sess != nil {
		logging.Info(ctx, "session ended", slog.String("user_id", sess.User.ID))
	}
	return nil
}

func (b *Binder) forceReset(ctx context.Context, reason string, cause error) {
	logging.Error(ctx, "teardown incomplete, forcing signed-out state", slog.Any("err", errs.Loggable(cause)))
	b.monitor.Destroy()
	b.store.Reset()
	b.mu.Lock()
	b.session = nil
	b.mu.Unlock()

	b.hub.Publish(Event{Type: EventReload, At: time.Now(), Reason: reason})
	if b.reload != nil {
		b.reload(reason)
	}
}

func (b *Binder) Current() (models.Session, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.session == nil {
		return models.Session{}, false
	}
	return *b.session, true
}

func (b *Binder) Status() models.SessionStatusResponse {
	sess, ok := b.Current()
	if !ok {
		return models.SessionStatusResponse{}
	}
	user := sess.User
	status := models.SessionStatusResponse{
		Active:  true,
		User:    &user,
		Paused:  b.monitor.Paused(),
		Warning: b.monitor.Warned(),
	}
	if warnAt, logoutAt, ok := b.monitor.Deadlines(); ok {
		status.WarningAt = &warnAt
		status.LogoutAt = &logoutAt
		status.SecondsRemaining = seconds(b.monitor.Remaining())
	}
	return status
}

// Extend restarts the countdown, as when the user dismisses the warning.
func (b *Binder) Extend() error {
	if _, ok := b.Current(); !ok {
		return ErrNoSession
	}
	b.monitor.ResetTimer()
	return nil
}

func (b *Binder) RecordActivity(kind string) (bool, error) {
	if _, ok := b.Current(); !ok {
		return false, ErrNoSession
	}
	return b.monitor.RecordActivity(kind), nil
}

func (b *Binder) SetVisible(visible bool) error {
	if _, ok := b.Current(); !ok {
		return ErrNoSession
	}
	b.monitor.SetVisible(visible)
	return nil
}

// SaveDraft keeps an unsubmitted form in session storage; it is cleared on
// teardown.
func (b *Binder) SaveDraft(ctx context.Context, draft models.Draft) error {
	sess, ok := b.Current()
	if !ok {
		return ErrNoSession
	}
	raw, err := json.Marshal(draft)
	if err != nil {
		return errs.Wrap(err, "encode draft")
	}
	return errs.Wrap(b.cache.Set(ctx, draftKeyPrefix+sess.User.ID, string(raw)), "save draft")
}

func (b *Binder) LoadDraft(ctx context.Context) (models.Draft, bool, error) {
	sess, ok := b.Current()
	if !ok {
		return models.Draft{}, false, ErrNoSession
	}
	raw, found, err := b.cache.Get(ctx, draftKeyPrefix+sess.User.ID)
	if err != nil {
		return models.Draft{}, false, errs.Wrap(err, "load draft")
	}
	if !found {
		return models.Draft{}, false, nil
	}
	var d models.Draft
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return models.Draft{}, false, errs.Wrap(err, "decode draft")
	}
	return d, true, nil
}

func (b *Binder) ClearDraft(ctx context.Context) error {
	sess, ok := b.Current()
	if !ok {
		return ErrNoSession
	}
	return errs.Wrap(b.cache.Delete(ctx, draftKeyPrefix+sess.User.ID), "clear draft")
}

func seconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
