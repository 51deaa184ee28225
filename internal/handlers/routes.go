package handlers

import (
	"github.com/gin-gonic/gin"
)

type Set struct {
	Health   *HealthHandler
	Auth     *AuthHandler
	JobCards *JobCardsHandler
	Session  *SessionHandler
}

// Register mounts the API. Everything under /api/v1 except login goes
// through auth.
func Register(router gin.IRouter, auth gin.HandlerFunc, h Set) {
	router.GET("/health", h.Health.Health)

	api := router.Group("/api/v1")
	api.POST("/auth/login", h.Auth.Login)

	protected := api.Group("")
	protected.Use(auth)

	protected.POST("/auth/logout", h.Auth.Logout)

	// Job cards
	protected.GET("/jobcards", h.JobCards.ListJobCards)
	protected.POST("/jobcards", h.JobCards.CreateJobCard)
	protected.POST("/jobcards/manual", h.JobCards.UploadManualJobCard)
	protected.GET("/jobcards/export", h.JobCards.ExportJobCards)
	protected.POST("/jobcards/sync", h.JobCards.SyncJobCards)
	protected.GET("/jobcards/:id", h.JobCards.GetJobCard)

	// Session
	protected.POST("/session/activity", h.Session.RecordActivity)
	protected.POST("/session/visibility", h.Session.SetVisibility)
	protected.POST("/session/extend", h.Session.Extend)
	protected.GET("/session/status", h.Session.Status)
	protected.GET("/session/draft", h.Session.GetDraft)
	protected.PUT("/session/draft", h.Session.SaveDraft)
	protected.GET("/session/events", h.Session.Events)
}
