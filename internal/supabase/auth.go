package supabase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/supabase-community/gotrue-go/types"

	"jobcard-backend/internal/async"
	"jobcard-backend/internal/models"
)

const authTimeout = 15 * time.Second

// AuthClient signs users in and out through Supabase Auth.
type AuthClient struct {
	client *Client
}

func NewAuthClient(client *Client) *AuthClient {
	return &AuthClient{client: client}
}

func (a *AuthClient) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	token, err := async.Race(ctx, authTimeout, func(context.Context) (*types.TokenResponse, error) {
		return a.client.anon.Auth.SignInWithEmailPassword(email, password)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}
	if token == nil || token.AccessToken == "" {
		return nil, errors.New("failed to sign in: empty token response")
	}

	expiresAt := time.Unix(token.ExpiresAt, 0)
	if token.ExpiresAt == 0 {
		expiresAt = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	}

	return &models.Session{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    expiresAt,
		User:         IdentityFromUser(token.User),
	}, nil
}

func (a *AuthClient) SignOut(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	_, err := async.Race(ctx, authTimeout, func(context.Context) (struct{}, error) {
		return struct{}{}, a.client.anon.Auth.WithToken(accessToken).Logout()
	})
	if err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	return nil
}

// IdentityFromUser reads the display name and role from the user's metadata.
// Role comes from app_metadata when present, since users cannot edit it.
func IdentityFromUser(u types.User) models.Identity {
	id := models.Identity{
		ID:    u.ID.String(),
		Email: u.Email,
		Role:  models.RoleEngineer,
	}

	for _, key := range []string{"full_name", "name"} {
		if v, ok := u.UserMetadata[key].(string); ok && strings.TrimSpace(v) != "" {
			id.Name = v
			break
		}
	}
	if id.Name == "" {
		id.Name = u.Email
	}

	if role, ok := u.AppMetadata["role"].(string); ok && role != "" {
		id.Role = role
	} else if role, ok := u.UserMetadata["role"].(string); ok && role != "" {
		id.Role = role
	}
	return id
}
