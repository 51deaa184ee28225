package supabase

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/supabase-community/supabase-go"

	"jobcard-backend/internal/config"
)

// Client holds the Supabase client for the current caller. Until a user signs
// in it authenticates with the publishable key; UseAccessToken swaps in a
// client that carries the user's token so row-level security applies.
type Client struct {
	Config *config.Config

	anon    *supabase.Client
	current atomic.Pointer[supabase.Client]
}

func NewClient(cfg *config.Config) (*Client, error) {
	client, err := supabase.NewClient(strings.TrimSuffix(cfg.SupabaseURL, "/"), cfg.SupabasePublishableKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	c := &Client{Config: cfg, anon: client}
	c.current.Store(client)
	return c, nil
}

// Supabase returns the client bound to the current access token.
func (c *Client) Supabase() *supabase.Client {
	return c.current.Load()
}

// UseAccessToken rebinds data and storage calls to token. An empty token
// reverts to the publishable key.
func (c *Client) UseAccessToken(token string) {
	if token == "" {
		c.current.Store(c.anon)
		return
	}
	client, err := supabase.NewClient(strings.TrimSuffix(c.Config.SupabaseURL, "/"), c.Config.SupabasePublishableKey, &supabase.ClientOptions{
		Headers: map[string]string{"Authorization": "Bearer " + token},
	})
	if err != nil {
		// Only reachable with an empty URL or key, which config validation rejects.
		return
	}
	c.current.Store(client)
}
