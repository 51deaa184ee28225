package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"jobcard-backend/internal/models"
)

var ErrInvalidCredentials = errors.New("invalid login credentials")

// Auth signs in any user registered with AddUser.
type Auth struct {
	mu         sync.Mutex
	users      map[string]authUser
	SignOutErr error

	SignedOut []string
}

type authUser struct {
	password string
	identity models.Identity
}

func NewAuth() *Auth {
	return &Auth{users: make(map[string]authUser)}
}

func (a *Auth) AddUser(password string, identity models.Identity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.users[identity.Email] = authUser{password: password, identity: identity}
}

func (a *Auth) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[email]
	if !ok || u.password != password {
		return nil, ErrInvalidCredentials
	}
	return &models.Session{
		AccessToken:  "token-" + u.identity.ID,
		RefreshToken: "refresh-" + u.identity.ID,
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         u.identity,
	}, nil
}

func (a *Auth) SignOut(ctx context.Context, accessToken string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.SignedOut = append(a.SignedOut, accessToken)
	return a.SignOutErr
}

func (a *Auth) SignOuts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.SignedOut...)
}
