// Package mock provides in-memory stand-ins for the Supabase-backed
// dependencies, for use in tests.
package mock

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"jobcard-backend/internal/models"
)

// Remote is an in-memory job_cards table. Errors and blocking can be switched
// on per operation.
type Remote struct {
	mu   sync.Mutex
	rows []models.JobCardRow

	ListErr   error
	InsertErr error
	RecentErr error

	// Block, when set, holds every call until it is closed or the caller's
	// context ends.
	Block chan struct{}
	// CommitOnBlock keeps inserts that were blocked, like a write that lands
	// after the client gave up waiting.
	CommitOnBlock bool

	ListCalls   int
	InsertCalls int
	RecentCalls int
}

func NewRemote(rows ...models.JobCardRow) *Remote {
	return &Remote{rows: slices.Clone(rows)}
}

func (r *Remote) wait(ctx context.Context) error {
	r.mu.Lock()
	block := r.Block
	r.mu.Unlock()
	if block == nil {
		return nil
	}
	select {
	case <-block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Remote) SetBlock(ch chan struct{}) {
	r.mu.Lock()
	r.Block = ch
	r.mu.Unlock()
}

func (r *Remote) SetErrors(list, insert, recent error) {
	r.mu.Lock()
	r.ListErr, r.InsertErr, r.RecentErr = list, insert, recent
	r.mu.Unlock()
}

func (r *Remote) ListJobCards(ctx context.Context) ([]models.JobCardRow, error) {
	r.mu.Lock()
	r.ListCalls++
	r.mu.Unlock()
	if err := r.wait(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ListErr != nil {
		return nil, r.ListErr
	}
	out := slices.Clone(r.rows)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *Remote) InsertJobCard(ctx context.Context, row models.JobCardRow) (*models.JobCardRow, error) {
	r.mu.Lock()
	r.InsertCalls++
	commitOnBlock := r.CommitOnBlock
	r.mu.Unlock()
	if err := r.wait(ctx); err != nil {
		if commitOnBlock {
			r.mu.Lock()
			r.rows = append(r.rows, row)
			r.mu.Unlock()
		}
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.InsertErr != nil {
		return nil, r.InsertErr
	}
	for _, existing := range r.rows {
		if existing.ID == row.ID {
			return nil, &DuplicateError{ID: row.ID}
		}
	}
	r.rows = append(r.rows, row)
	saved := row
	return &saved, nil
}

func (r *Remote) GetJobCard(ctx context.Context, id string) (*models.JobCardRow, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ListErr != nil {
		return nil, r.ListErr
	}
	for _, row := range r.rows {
		if row.ID == id {
			found := row
			return &found, nil
		}
	}
	return nil, nil
}

func (r *Remote) RecentJobCardIDs(ctx context.Context, prefix string, limit int) ([]string, error) {
	r.mu.Lock()
	r.RecentCalls++
	r.mu.Unlock()
	if err := r.wait(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.RecentErr != nil {
		return nil, r.RecentErr
	}
	rows := slices.Clone(r.rows)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
	var ids []string
	for _, row := range rows {
		if !strings.HasPrefix(row.ID, prefix+"-") {
			continue
		}
		ids = append(ids, row.ID)
		if limit > 0 && len(ids) == limit {
			break
		}
	}
	return ids, nil
}

// Inserts reports how many inserts have been attempted.
func (r *Remote) Inserts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.InsertCalls
}

// Rows returns a copy of everything committed so far.
func (r *Remote) Rows() []models.JobCardRow {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.rows)
}

type DuplicateError struct{ ID string }

func (e *DuplicateError) Error() string {
	return "duplicate key value violates unique constraint: " + e.ID
}
