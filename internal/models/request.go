package models

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// ActivityRequest reports a user interaction from the form UI.
// Kind is one of: pointer, key, scroll, touch, click.
type ActivityRequest struct {
	Kind string `json:"kind" binding:"required" example:"click"`
}

type VisibilityRequest struct {
	Visible bool `json:"visible"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
