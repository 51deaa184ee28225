package models

import "time"

const (
	RoleEngineer = "engineer"
	RoleAdmin    = "admin"
)

// Identity is the authenticated user as seen by the job card flows.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

type Session struct {
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         Identity  `json:"user"`
}
