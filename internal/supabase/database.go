package supabase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"jobcard-backend/internal/models"
)

const jobCardColumns = `id, hospital_name, machine_type, machine_model, serial_number,
	problem_reported, service_performed, engineer_name, engineer_id, date_time,
	created_at, status, facility_signature, engineer_signature,
	before_service_images, after_service_images, facility_stamp_image,
	manual_upload, manual_file, manual_reason`

// DatabaseClient talks to the Supabase Postgres database directly. It is used
// instead of PostgREST when DATABASE_URL is configured.
type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(connectionString string) (*DatabaseClient, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (d *DatabaseClient) InsertJobCard(ctx context.Context, row models.JobCardRow) (*models.JobCardRow, error) {
	var dateTime any
	if row.DateTime != "" {
		dateTime = row.DateTime
	}

	saved, err := scanJobCard(d.db.QueryRowContext(ctx, `
		INSERT INTO job_cards (`+jobCardColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING `+jobCardColumns,
		row.ID, row.HospitalName, row.MachineType, row.MachineModel, row.SerialNumber,
		row.ProblemReported, row.ServicePerformed, row.EngineerName, row.EngineerID, dateTime,
		row.CreatedAt, row.Status, row.FacilitySignature, row.EngineerSignature,
		pq.Array(nonNil(row.BeforeServiceImages)), pq.Array(nonNil(row.AfterServiceImages)), row.FacilityStampImage,
		row.ManualUpload, row.ManualFile, row.ManualReason,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to insert job card: %w", err)
	}
	return saved, nil
}

func (d *DatabaseClient) ListJobCards(ctx context.Context) ([]models.JobCardRow, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+jobCardColumns+`
		FROM job_cards
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list job cards: %w", err)
	}
	defer rows.Close()

	var out []models.JobCardRow
	for rows.Next() {
		row, err := scanJobCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job card: %w", err)
		}
		out = append(out, *row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list job cards: %w", err)
	}
	return out, nil
}

func (d *DatabaseClient) GetJobCard(ctx context.Context, id string) (*models.JobCardRow, error) {
	row, err := scanJobCard(d.db.QueryRowContext(ctx, `
		SELECT `+jobCardColumns+`
		FROM job_cards
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job card: %w", err)
	}
	return row, nil
}

func (d *DatabaseClient) RecentJobCardIDs(ctx context.Context, prefix string, limit int) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id
		FROM job_cards
		WHERE id LIKE $1
		ORDER BY created_at DESC
		LIMIT $2
	`, likePrefix(prefix+"-"), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent job card ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan job card id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (d *DatabaseClient) Close() error {
	return d.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJobCard(s rowScanner) (*models.JobCardRow, error) {
	var (
		row      models.JobCardRow
		dateTime sql.NullTime
		before   pq.StringArray
		after    pq.StringArray
	)
	err := s.Scan(
		&row.ID, &row.HospitalName, &row.MachineType, &row.MachineModel, &row.SerialNumber,
		&row.ProblemReported, &row.ServicePerformed, &row.EngineerName, &row.EngineerID, &dateTime,
		&row.CreatedAt, &row.Status, &row.FacilitySignature, &row.EngineerSignature,
		&before, &after, &row.FacilityStampImage,
		&row.ManualUpload, &row.ManualFile, &row.ManualReason,
	)
	if err != nil {
		return nil, err
	}
	if dateTime.Valid {
		row.DateTime = dateTime.Time.UTC().Format(time.RFC3339)
	}
	row.CreatedAt = row.CreatedAt.UTC()
	row.BeforeServiceImages = []string(before)
	row.AfterServiceImages = []string(after)
	return &row, nil
}

func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
