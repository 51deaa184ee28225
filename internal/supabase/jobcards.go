package supabase

import (
	"context"
	"errors"
	"fmt"

	postgrest "github.com/supabase-community/postgrest-go"

	"jobcard-backend/internal/models"
)

const JobCardsTable = "job_cards"

// JobCardTable reads and writes job cards through PostgREST with the
// signed-in user's token. The PostgREST client has no context support, so
// callers bound these calls with their own timeout.
type JobCardTable struct {
	client *Client
}

func NewJobCardTable(client *Client) *JobCardTable {
	return &JobCardTable{client: client}
}

func (t *JobCardTable) InsertJobCard(ctx context.Context, row models.JobCardRow) (*models.JobCardRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	normalizeArrays(&row)

	var saved []models.JobCardRow
	_, err := t.client.Supabase().From(JobCardsTable).
		Insert(row, false, "", "representation", "").
		ExecuteTo(&saved)
	if err != nil {
		return nil, fmt.Errorf("failed to insert job card: %w", err)
	}
	if len(saved) == 0 {
		return nil, errors.New("failed to insert job card: no row returned")
	}
	return &saved[0], nil
}

func (t *JobCardTable) ListJobCards(ctx context.Context) ([]models.JobCardRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []models.JobCardRow
	_, err := t.client.Supabase().From(JobCardsTable).
		Select("*", "", false).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list job cards: %w", err)
	}
	return rows, nil
}

// GetJobCard returns the row with the given id, or nil when there is none.
func (t *JobCardTable) GetJobCard(ctx context.Context, id string) (*models.JobCardRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []models.JobCardRow
	_, err := t.client.Supabase().From(JobCardsTable).
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get job card: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (t *JobCardTable) RecentJobCardIDs(ctx context.Context, prefix string, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []struct {
		ID string `json:"id"`
	}
	_, err := t.client.Supabase().From(JobCardsTable).
		Select("id", "", false).
		Like("id", prefix+"-*").
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Limit(limit, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent job card ids: %w", err)
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids, nil
}

// normalizeArrays sends empty arrays rather than null for the image columns.
func normalizeArrays(row *models.JobCardRow) {
	if row.BeforeServiceImages == nil {
		row.BeforeServiceImages = []string{}
	}
	if row.AfterServiceImages == nil {
		row.AfterServiceImages = []string{}
	}
}
