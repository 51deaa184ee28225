package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"jobcard-backend/internal/errs"
	"jobcard-backend/internal/jobcard"
	"jobcard-backend/internal/logging"
	"jobcard-backend/internal/models"
	"jobcard-backend/internal/session"
)

type AuthHandler struct {
	binder *session.Binder
	store  *jobcard.Store
}

func NewAuthHandler(binder *session.Binder, store *jobcard.Store) *AuthHandler {
	return &AuthHandler{binder: binder, store: store}
}

// Login godoc
// @Summary     Sign in
// @Description Signs in with Supabase email/password, binds the session to this device and loads job cards. Signing in as a different user ends the current session first.
// @Tags        auth
// @Accept      json
// @Produce     json
// @Param       request body models.LoginRequest true "Credentials"
// @Success     200 {object} models.LoginResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Router      /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request", Message: err.Error()})
		return
	}

	sess, state, err := h.binder.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		logging.Warn(c.Request.Context(), "sign in failed", slog.Any("err", errs.Loggable(err)))
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "sign in failed", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, models.LoginResponse{
		User:      sess.User,
		ExpiresAt: sess.ExpiresAt,
		JobCards:  len(h.store.All()),
		Source:    state.String(),
	})
}

// Logout godoc
// @Summary     Sign out
// @Description Ends the session. Local state is cleared even when the auth provider cannot be reached; unsynced job cards stay on the device.
// @Tags        auth
// @Produce     json
// @Security    Bearer
// @Success     200 {object} models.LogoutResponse
// @Failure     401 {object} models.ErrorResponse
// @Router      /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	response := models.LogoutResponse{Status: "signed_out"}
	if err := h.binder.Teardown(c.Request.Context(), session.ReasonLogout); err != nil {
		response.Message = "local data could not be fully cleared; the session was reset"
	}
	c.JSON(http.StatusOK, response)
}
