package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"jobcard-backend/internal/errs"
	"jobcard-backend/internal/inactivity"
	"jobcard-backend/internal/logging"
	"jobcard-backend/internal/models"
	"jobcard-backend/internal/session"
)

const (
	eventsWriteWait  = 10 * time.Second
	eventsPingPeriod = 30 * time.Second
	eventsBuffer     = 16
)

type SessionHandler struct {
	binder   *session.Binder
	upgrader websocket.Upgrader
}

func NewSessionHandler(binder *session.Binder) *SessionHandler {
	return &SessionHandler{
		binder: binder,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The form UI is served from a different origin than the API.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// RecordActivity godoc
// @Summary     Report user activity
// @Description Resets the inactivity countdown. Ignored while the page is hidden. Kind is one of pointer, key, scroll, touch, click.
// @Tags        session
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       request body models.ActivityRequest true "Activity"
// @Success     200 {object} models.SessionStatusResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Router      /session/activity [post]
func (h *SessionHandler) RecordActivity(c *gin.Context) {
	var req models.ActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request", Message: err.Error()})
		return
	}
	if !inactivity.IsQualifying(req.Kind) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "unknown activity kind", Message: req.Kind})
		return
	}
	if _, err := h.binder.RecordActivity(req.Kind); err != nil {
		sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.binder.Status())
}

// SetVisibility godoc
// @Summary     Report page visibility
// @Description Hiding the page pauses the countdown; showing it again restarts a full countdown.
// @Tags        session
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       request body models.VisibilityRequest true "Visibility"
// @Success     200 {object} models.SessionStatusResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Router      /session/visibility [post]
func (h *SessionHandler) SetVisibility(c *gin.Context) {
	var req models.VisibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request", Message: err.Error()})
		return
	}
	if err := h.binder.SetVisible(req.Visible); err != nil {
		sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.binder.Status())
}

// Extend godoc
// @Summary     Stay signed in
// @Description Dismisses the inactivity warning and restarts the countdown.
// @Tags        session
// @Produce     json
// @Security    Bearer
// @Success     200 {object} models.SessionStatusResponse
// @Failure     401 {object} models.ErrorResponse
// @Router      /session/extend [post]
func (h *SessionHandler) Extend(c *gin.Context) {
	if err := h.binder.Extend(); err != nil {
		sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.binder.Status())
}

// Status godoc
// @Summary     Session status
// @Tags        session
// @Produce     json
// @Security    Bearer
// @Success     200 {object} models.SessionStatusResponse
// @Router      /session/status [get]
func (h *SessionHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.binder.Status())
}

// GetDraft godoc
// @Summary     Load the unsubmitted form
// @Tags        session
// @Produce     json
// @Security    Bearer
// @Success     200 {object} models.Draft
// @Failure     401 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /session/draft [get]
func (h *SessionHandler) GetDraft(c *gin.Context) {
	draft, found, err := h.binder.LoadDraft(c.Request.Context())
	if err != nil {
		sessionError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "no saved draft"})
		return
	}
	c.JSON(http.StatusOK, draft)
}

// SaveDraft godoc
// @Summary     Save the unsubmitted form
// @Description Keeps the form for the rest of this session. It is discarded on sign out.
// @Tags        session
// @Accept      json
// @Security    Bearer
// @Param       request body models.Draft true "Form state"
// @Success     204
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Router      /session/draft [put]
func (h *SessionHandler) SaveDraft(c *gin.Context) {
	var draft models.Draft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request", Message: err.Error()})
		return
	}
	if err := h.binder.SaveDraft(c.Request.Context(), draft); err != nil {
		sessionError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Events godoc
// @Summary     Session events
// @Description Websocket stream of signed_in, session_warning, signed_out and session_reload events. The first message is a status snapshot.
// @Tags        session
// @Security    Bearer
// @Success     101
// @Router      /session/events [get]
func (h *SessionHandler) Events(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response.
		logging.Warn(c.Request.Context(), "websocket upgrade failed", slog.Any("err", errs.Loggable(err)))
		return
	}
	defer conn.Close()

	events, unsubscribe := h.binder.Hub().Subscribe(eventsBuffer)
	defer unsubscribe()

	// Reads only detect the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	write := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
		return conn.WriteJSON(v)
	}

	if err := write(h.binder.Status()); err != nil {
		return
	}

	ping := time.NewTicker(eventsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := write(e); err != nil {
				return
			}
			if e.Type == session.EventSignedOut || e.Type == session.EventReload {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, e.Type),
					time.Now().Add(eventsWriteWait))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventsWriteWait)); err != nil {
				return
			}
		}
	}
}

func sessionError(c *gin.Context, err error) {
	if errors.Is(err, session.ErrNoSession) {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "no active session"})
		return
	}
	logging.Error(c.Request.Context(), "session request failed", slog.Any("err", errs.Loggable(err)))
	c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "session request failed", Message: err.Error()})
}
