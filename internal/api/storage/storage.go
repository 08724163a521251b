package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/quanglt/vulnscan-be/internal/api/domain"
	"github.com/quanglt/vulnscan-be/internal/api/model"
	"github.com/quanglt/vulnscan-be/shared/postgresql"
)

type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

// CreateJob inserts the initial pending job row. Insertion is keyed on job_id
// so replaying the same submission can never produce a second row.
func (s *Storage) CreateJob(ctx context.Context, job *model.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, job_type, target, status, created_at
		) VALUES (
			$1, $2, $3, $4, $5
		)
		ON CONFLICT (job_id) DO NOTHING
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.JobType,
		job.Target,
		job.Status,
		job.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// MarkEnqueueFailed records a publish failure so the job is not left pending
// forever with no message behind it
func (s *Storage) MarkEnqueueFailed(ctx context.Context, jobID, errorMsg string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    error_message = $2,
		    updated_at = NOW()
		WHERE job_id = $3
	`

	_, err := s.db.ExecContext(ctx, query, domain.JobStatusFailed, errorMsg, jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job enqueue failure: %w", err)
	}

	return nil
}

func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*model.Job, error) {
	var job model.Job
	query := `
		SELECT
			job_id, job_type, target, status, processed_via,
			error_message, result_summary, created_at, processed_at,
			completed_at, updated_at
		FROM jobs
		WHERE job_id = $1
	`

	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// GetJobResults returns the detail rows of a job, stable-ordered
func (s *Storage) GetJobResults(ctx context.Context, jobID string) ([]model.ResultDetail, error) {
	var results []model.ResultDetail
	query := `
		SELECT
			id, job_id, result_type, result_key, port, protocol, state,
			service, version, cve_id, severity, cvss_score, description,
			raw_payload
		FROM job_results
		WHERE job_id = $1
		ORDER BY id
	`

	err := s.db.SelectContext(ctx, &results, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job results: %w", err)
	}

	return results, nil
}

type JobFilter struct {
	JobType  string
	Status   string
	PageSize int
	Cursor   *JobCursor
}

type JobCursor struct {
	CreatedAt int64
	JobID     string
}

func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `
		SELECT
			job_id, job_type, target, status, processed_via,
			error_message, result_summary, created_at, processed_at,
			completed_at, updated_at
		FROM jobs
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	// Filters
	if filter.JobType != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, filter.JobType)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order by created_at DESC, job_id DESC for consistent pagination
	query += " ORDER BY created_at DESC, job_id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []model.Job
	err := s.db.SelectContext(ctx, &jobs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// StatusCounts holds per-status job counts for the queue status endpoint
type StatusCounts struct {
	Pending    int
	Processing int
	Completed  int
	Failed     int
}

func (s *Storage) CountByStatus(ctx context.Context) (*StatusCounts, error) {
	query := `SELECT status, COUNT(*) AS count FROM jobs GROUP BY status`

	rows, err := s.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	defer rows.Close()

	var counts StatusCounts
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}

		switch status {
		case domain.JobStatusPending:
			counts.Pending = count
		case domain.JobStatusProcessing:
			counts.Processing = count
		case domain.JobStatusCompleted:
			counts.Completed = count
		case domain.JobStatusFailed:
			counts.Failed = count
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read status counts: %w", err)
	}

	return &counts, nil
}
