package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"jobcard-backend/internal/errs"
	"jobcard-backend/internal/jobcard"
	"jobcard-backend/internal/logging"
	"jobcard-backend/internal/models"
)

const notifyTimeout = 30 * time.Second

var ErrStorageUnavailable = errors.New("file storage unavailable")

// FileStore keeps the files attached to manual submissions.
type FileStore interface {
	UploadManualFile(engineerID, filename, contentType string, data []byte) (storagePath, publicURL string, err error)
	DeleteFile(storagePath string) error
}

// Notifier tells other devices about a new job card.
type Notifier interface {
	PublishJobCard(ctx context.Context, card models.JobCard, synced bool) error
}

type ManualUpload struct {
	Filename    string
	ContentType string
	Data        []byte
	Reason      string
	DateTime    string
}

// SubmissionService turns form submissions into job cards. Notifications run
// after the create and their failure never undoes it.
type SubmissionService struct {
	store    *jobcard.Store
	files    FileStore
	notifier Notifier

	wg sync.WaitGroup
}

func NewSubmissionService(store *jobcard.Store, files FileStore, notifier Notifier) *SubmissionService {
	return &SubmissionService{store: store, files: files, notifier: notifier}
}

func (s *SubmissionService) Submit(ctx context.Context, who models.Identity, draft models.Draft) (models.CreateJobCardResponse, error) {
	draft.ManualUpload = false
	draft.ManualFile = ""
	draft.ManualReason = ""
	return s.create(ctx, who, draft)
}

// SubmitManual uploads the attached file and records a job card pointing at
// it. The file is removed again if the job card is rejected.
func (s *SubmissionService) SubmitManual(ctx context.Context, who models.Identity, upload ManualUpload) (models.CreateJobCardResponse, error) {
	if s.files == nil {
		return models.CreateJobCardResponse{}, ErrStorageUnavailable
	}

	draft := models.Draft{
		ManualUpload: true,
		ManualFile:   upload.Filename,
		ManualReason: upload.Reason,
		DateTime:     upload.DateTime,
	}
	if err := jobcard.ValidateDraft(draft); err != nil {
		return models.CreateJobCardResponse{}, err
	}

	storagePath, _, err := s.files.UploadManualFile(who.ID, upload.Filename, upload.ContentType, upload.Data)
	if err != nil {
		return models.CreateJobCardResponse{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	draft.ManualFile = storagePath

	resp, err := s.create(ctx, who, draft)
	if err != nil {
		if delErr := s.files.DeleteFile(storagePath); delErr != nil {
			logging.Warn(ctx, "failed to remove orphaned upload",
				slog.String("path", storagePath), slog.Any("err", errs.Loggable(delErr)))
		}
		return models.CreateJobCardResponse{}, err
	}
	return resp, nil
}

func (s *SubmissionService) create(ctx context.Context, who models.Identity, draft models.Draft) (models.CreateJobCardResponse, error) {
	created, err := s.store.Add(ctx, who, draft)
	if err != nil {
		return models.CreateJobCardResponse{}, err
	}

	id, synced := created.ID, !created.Pending
	resp := models.CreateJobCardResponse{ID: id, Synced: synced}
	if !synced {
		resp.Message = "saved on this device; it will sync when the connection returns"
	}

	if card, ok := s.store.Get(id); ok {
		s.notify(ctx, card, synced)
	}
	return resp, nil
}

func (s *SubmissionService) notify(ctx context.Context, card models.JobCard, synced bool) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		if err := s.notifier.PublishJobCard(ctx, card, synced); err != nil {
			logging.Warn(ctx, "job card notification failed",
				slog.String("id", card.ID), slog.Any("err", errs.Loggable(err)))
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (s *SubmissionService) Wait() {
	s.wg.Wait()
}
