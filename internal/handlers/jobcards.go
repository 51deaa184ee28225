package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"jobcard-backend/internal/errs"
	"jobcard-backend/internal/export"
	"jobcard-backend/internal/jobcard"
	"jobcard-backend/internal/logging"
	"jobcard-backend/internal/middleware"
	"jobcard-backend/internal/models"
	"jobcard-backend/internal/services"
	"jobcard-backend/internal/session"
)

const (
	maxManualFileSize = 20 << 20
	xlsxContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	exportDateLayout  = "2006-01-02"
)

var manualFileTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
}

type JobCardsHandler struct {
	store       *jobcard.Store
	submissions *services.SubmissionService
	exporter    *export.Service
	binder      *session.Binder
}

func NewJobCardsHandler(store *jobcard.Store, submissions *services.SubmissionService, exporter *export.Service, binder *session.Binder) *JobCardsHandler {
	return &JobCardsHandler{
		store:       store,
		submissions: submissions,
		exporter:    exporter,
		binder:      binder,
	}
}

// ListJobCards godoc
// @Summary     List job cards
// @Description Engineers see their own job cards, admins see all. Newest first. Pending lists ids that only exist on this device.
// @Tags        jobcards
// @Produce     json
// @Security    Bearer
// @Success     200 {object} models.JobCardListResponse
// @Failure     401 {object} models.ErrorResponse
// @Router      /jobcards [get]
func (h *JobCardsHandler) ListJobCards(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, models.JobCardListResponse{
		JobCards: h.visible(who),
		Pending:  h.visiblePending(who),
	})
}

// GetJobCard godoc
// @Summary     Get a job card
// @Tags        jobcards
// @Produce     json
// @Security    Bearer
// @Param       id path string true "Job card id, e.g. JC-00042"
// @Success     200 {object} models.JobCard
// @Failure     401 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /jobcards/{id} [get]
func (h *JobCardsHandler) GetJobCard(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	card, found := h.store.Get(c.Param("id"))
	// Engineers cannot tell another engineer's card from a missing one.
	if !found || (!who.IsAdmin() && card.EngineerID != who.ID) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "job card not found"})
		return
	}
	c.JSON(http.StatusOK, card)
}

// CreateJobCard godoc
// @Summary     Submit a job card
// @Description Validates the service form, allocates the next id and stores the job card. When the database cannot be reached the job card is kept on this device and synced later (synced=false).
// @Tags        jobcards
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       request body models.Draft true "Service form"
// @Success     201 {object} models.CreateJobCardResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Router      /jobcards [post]
func (h *JobCardsHandler) CreateJobCard(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}

	var draft models.Draft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request", Message: err.Error()})
		return
	}

	resp, err := h.submissions.Submit(c.Request.Context(), who, draft)
	if err != nil {
		h.submitError(c, err)
		return
	}
	h.clearDraft(c)
	c.JSON(http.StatusCreated, resp)
}

// UploadManualJobCard godoc
// @Summary     Submit a manual job card
// @Description Uploads a scanned or photographed paper job card (pdf, jpeg or png, up to 20MB) with the reason the form could not be used.
// @Tags        jobcards
// @Accept      multipart/form-data
// @Produce     json
// @Security    Bearer
// @Param       file     formData file   true  "Manual job card"
// @Param       reason   formData string true  "Why the form was not used"
// @Param       dateTime formData string false "Service date, YYYY-MM-DDTHH:MM"
// @Success     201 {object} models.CreateJobCardResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     503 {object} models.ErrorResponse
// @Router      /jobcards/manual [post]
func (h *JobCardsHandler) UploadManualJobCard(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "no file uploaded", Message: err.Error()})
		return
	}
	if file.Size > maxManualFileSize {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "file too large",
			Message: fmt.Sprintf("manual job cards are limited to %d MB", maxManualFileSize>>20),
		})
		return
	}

	contentType := manualContentType(file.Filename, file.Header.Get("Content-Type"))
	if !manualFileTypes[contentType] {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "unsupported file type",
			Message: fmt.Sprintf("got %s; upload a pdf, jpeg or png", contentType),
		})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "failed to open file", Message: err.Error()})
		return
	}
	data, err := io.ReadAll(io.LimitReader(src, maxManualFileSize))
	src.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "failed to read file data", Message: err.Error()})
		return
	}

	resp, err := h.submissions.SubmitManual(c.Request.Context(), who, services.ManualUpload{
		Filename:    filepath.Base(file.Filename),
		ContentType: contentType,
		Data:        data,
		Reason:      c.PostForm("reason"),
		DateTime:    c.PostForm("dateTime"),
	})
	if err != nil {
		h.submitError(c, err)
		return
	}
	h.clearDraft(c)
	c.JSON(http.StatusCreated, resp)
}

// ExportJobCards godoc
// @Summary     Export job cards
// @Description Admin only. Downloads job cards as an Excel workbook, optionally limited to a creation date range.
// @Tags        jobcards
// @Produce     application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security    Bearer
// @Param       from query string false "First day, YYYY-MM-DD"
// @Param       to   query string false "Last day, YYYY-MM-DD"
// @Success     200 {file} file
// @Failure     400 {object} models.ErrorResponse
// @Failure     403 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Router      /jobcards/export [get]
func (h *JobCardsHandler) ExportJobCards(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}
	if !who.IsAdmin() {
		c.JSON(http.StatusForbidden, models.ErrorResponse{Error: "admin access required"})
		return
	}

	from, err := dateParam(c, "from", h.exporter.Location())
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid from date", Message: err.Error()})
		return
	}
	to, err := dateParam(c, "to", h.exporter.Location())
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid to date", Message: err.Error()})
		return
	}

	pending := make(map[string]bool)
	for _, id := range h.store.PendingIDs() {
		pending[id] = true
	}

	data, err := h.exporter.JobCardsXLSX(c.Request.Context(), export.Filter(h.store.All(), from, to), pending)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to export job cards", Message: err.Error()})
		return
	}

	filename := fmt.Sprintf("job-cards-%s.xlsx", time.Now().Format(exportDateLayout))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// SyncJobCards godoc
// @Summary     Sync job cards saved on this device
// @Description Retries every job card that could not be written to the database. Job cards that did reach the database earlier are not inserted twice.
// @Tags        jobcards
// @Produce     json
// @Security    Bearer
// @Success     200 {object} models.SyncResponse
// @Failure     401 {object} models.ErrorResponse
// @Router      /jobcards/sync [post]
func (h *JobCardsHandler) SyncJobCards(c *gin.Context) {
	if _, ok := identity(c); !ok {
		return
	}
	n, err := h.store.SyncPending(c.Request.Context())
	resp := models.SyncResponse{Synced: n, Pending: h.store.PendingIDs()}
	if resp.Pending == nil {
		resp.Pending = []string{}
	}
	if err != nil {
		resp.Message = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *JobCardsHandler) visible(who models.Identity) []models.JobCard {
	cards := h.store.All()
	if !who.IsAdmin() {
		cards = h.store.ByEngineer(who.ID)
	}
	if cards == nil {
		cards = []models.JobCard{}
	}
	return cards
}

func (h *JobCardsHandler) visiblePending(who models.Identity) []string {
	var out []string
	for _, id := range h.store.PendingIDs() {
		if who.IsAdmin() {
			out = append(out, id)
			continue
		}
		if card, ok := h.store.Get(id); ok && card.EngineerID == who.ID {
			out = append(out, id)
		}
	}
	return out
}

func (h *JobCardsHandler) submitError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, jobcard.ErrInvalidDraft):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid job card", Message: err.Error()})
	case errors.Is(err, services.ErrStorageUnavailable):
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "file storage unavailable", Message: err.Error()})
	default:
		logging.Error(c.Request.Context(), "job card submission failed", slog.Any("err", errs.Loggable(err)))
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to save job card", Message: err.Error()})
	}
}

func (h *JobCardsHandler) clearDraft(c *gin.Context) {
	if h.binder == nil {
		return
	}
	if err := h.binder.ClearDraft(c.Request.Context()); err != nil {
		logging.Warn(c.Request.Context(), "failed to clear saved draft", slog.Any("err", errs.Loggable(err)))
	}
}

func identity(c *gin.Context) (models.Identity, bool) {
	who, ok := middleware.CurrentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "no active session"})
		return models.Identity{}, false
	}
	return who, true
}

func dateParam(c *gin.Context, name string, loc *time.Location) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(exportDateLayout, raw, loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func manualContentType(filename, declared string) string {
	if declared != "" && declared != "application/octet-stream" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			return mt
		}
	}
	if byExt := mime.TypeByExtension(filepath.Ext(filename)); byExt != "" {
		if mt, _, err := mime.ParseMediaType(byExt); err == nil {
			return mt
		}
	}
	return "application/octet-stream"
}
