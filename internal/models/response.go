package models

import "time"

type LoginResponse struct {
	User      Identity  `json:"user"`
	ExpiresAt time.Time `json:"expires_at"`
	JobCards  int       `json:"job_cards"`
	Source    string    `json:"source"`
}

type CreateJobCardResponse struct {
	ID string `json:"id"`
	// Synced is false when the record only exists in the local cache.
	Synced  bool   `json:"synced"`
	Message string `json:"message,omitempty"`
}

type JobCardListResponse struct {
	JobCards []JobCard `json:"job_cards"`
	Pending  []string  `json:"pending,omitempty"`
}

type SyncResponse struct {
	Synced  int      `json:"synced"`
	Pending []string `json:"pending"`
	Message string   `json:"message,omitempty"`
}

type LogoutResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type SessionStatusResponse struct {
	Active           bool       `json:"active"`
	User             *Identity  `json:"user,omitempty"`
	Paused           bool       `json:"paused"`
	Warning          bool       `json:"warning"`
	WarningAt        *time.Time `json:"warning_at,omitempty"`
	LogoutAt         *time.Time `json:"logout_at,omitempty"`
	SecondsRemaining int        `json:"seconds_remaining"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	JobCards string `json:"job_cards"`
	Pending  int    `json:"pending"`
	Session  bool   `json:"session"`
}
