package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"jobcard-backend/internal/jobcard"
	"jobcard-backend/internal/middleware"
	"jobcard-backend/internal/models"
)

type HealthHandler struct {
	store    *jobcard.Store
	sessions middleware.SessionSource
}

func NewHealthHandler(store *jobcard.Store, sessions middleware.SessionSource) *HealthHandler {
	return &HealthHandler{store: store, sessions: sessions}
}

// Health godoc
// @Summary     Health check
// @Description Returns the health status of the API, the job card store state and how many records wait to sync
// @Tags        health
// @Accept      json
// @Produce     json
// @Success     200 {object} models.HealthResponse
// @Router      /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	response := models.HealthResponse{
		Status:   "ok",
		JobCards: h.store.State().String(),
		Pending:  len(h.store.PendingIDs()),
	}
	if h.sessions != nil {
		_, response.Session = h.sessions.Current()
	}
	c.JSON(http.StatusOK, response)
}
