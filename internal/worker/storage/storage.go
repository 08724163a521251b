package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/quanglt/vulnscan-be/internal/worker/domain"
)

// Storage handles all database operations for the worker. Every write is
// guarded by the current status so redelivered messages can never regress a
// job's state machine.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// ClaimProcessing transitions a job to processing and stamps processed_at.
// Claiming an already-processing job succeeds (redelivery after a worker
// crash re-runs the idempotent work); processed_at keeps its first value.
// Claiming a finalized job returns ErrJobFinalized.
func (s *Storage) ClaimProcessing(ctx context.Context, jobID string, processedAt int64) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    processed_at = COALESCE(processed_at, $2),
		    processed_via = $3,
		    updated_at = NOW()
		WHERE job_id = $4
		  AND status IN ($5, $1)
		RETURNING job_id, job_type, target
	`

	var job domain.Job
	err := s.db.QueryRowContext(ctx, query,
		domain.JobStatusProcessing,
		processedAt,
		domain.ProcessedViaQueue,
		jobID,
		domain.JobStatusPending,
	).Scan(
		&job.JobID,
		&job.JobType,
		&job.Target,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Either the row does not exist or it is already terminal
			exists, existsErr := s.jobExists(ctx, jobID)
			if existsErr != nil {
				return nil, existsErr
			}
			if !exists {
				return nil, domain.ErrJobNotFound
			}

			s.logger.Warn("Job already finalized, skipping",
				slog.String("job_id", jobID),
			)
			return nil, domain.ErrJobFinalized
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	job.Status = domain.JobStatusProcessing

	s.logger.Info("Job claimed for processing",
		slog.String("job_id", jobID),
		slog.String("job_type", job.JobType),
	)

	return &job, nil
}

func (s *Storage) jobExists(ctx context.Context, jobID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM jobs WHERE job_id = $1)`, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to check job existence: %w", err)
	}
	return exists, nil
}

// CompleteJob finalizes a successful job and bulk-inserts its detail rows in
// one transaction, so detail rows can never outlive a completion that did not
// commit. The (job_id, result_key) uniqueness makes re-runs after redelivery
// no-ops, and a job already finalized by a concurrent worker is left alone.
func (s *Storage) CompleteJob(ctx context.Context, jobID string, completedAt int64, summary domain.ResultSummary, rows []domain.ResultRow) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal result summary: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin completion transaction: %w", err)
	}
	defer tx.Rollback()

	updateQuery := `
		UPDATE jobs
		SET status = $1,
		    result_summary = $2,
		    completed_at = COALESCE(completed_at, $3),
		    updated_at = NOW()
		WHERE job_id = $4
		  AND status IN ($5, $6)
	`

	result, err := tx.ExecContext(ctx, updateQuery,
		domain.JobStatusCompleted,
		summaryJSON,
		completedAt,
		jobID,
		domain.JobStatusPending,
		domain.JobStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get completion row count: %w", err)
	}
	if affected == 0 {
		// Already terminal; do not attach rows to a settled job
		s.logger.Warn("Job already finalized, completion skipped",
			slog.String("job_id", jobID),
		)
		return nil
	}

	insertQuery := `
		INSERT INTO job_results (
			job_id, result_type, result_key, port, protocol, state,
			service, version, cve_id, severity, cvss_score, description,
			raw_payload
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13
		)
		ON CONFLICT (job_id, result_key) DO NOTHING
	`

	for _, row := range rows {
		_, err := tx.ExecContext(ctx, insertQuery,
			jobID,
			row.ResultType,
			row.ResultKey,
			row.Port,
			nullable(row.Protocol),
			nullable(row.State),
			nullable(row.Service),
			nullable(row.Version),
			nullable(row.CVEID),
			nullable(row.Severity),
			row.CVSSScore,
			nullable(row.Description),
			[]byte(row.Raw),
		)
		if err != nil {
			return fmt.Errorf("failed to insert result row %s: %w", row.ResultKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit completion transaction: %w", err)
	}

	s.logger.Info("Job marked completed",
		slog.String("job_id", jobID),
		slog.Int("total_results", summary.TotalResults),
	)

	return nil
}

// MarkFailed finalizes a failed job with a human-readable cause
func (s *Storage) MarkFailed(ctx context.Context, jobID string, completedAt int64, errorMsg string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    error_message = $2,
		    completed_at = COALESCE(completed_at, $3),
		    updated_at = NOW()
		WHERE job_id = $4
		  AND status IN ($5, $6)
	`

	_, err := s.db.ExecContext(ctx, query,
		domain.JobStatusFailed,
		errorMsg,
		completedAt,
		jobID,
		domain.JobStatusPending,
		domain.JobStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	s.logger.Info("Job marked failed",
		slog.String("job_id", jobID),
		slog.String("error_message", errorMsg),
	)

	return nil
}

// PurgeOlderThan deletes terminal jobs created before the cutoff; detail rows
// go with them via the cascade
func (s *Storage) PurgeOlderThan(ctx context.Context, cutoff int64) (int64, error) {
	query := `
		DELETE FROM jobs
		WHERE created_at < $1
		  AND status IN ($2, $3)
	`

	result, err := s.db.ExecContext(ctx, query, cutoff, domain.JobStatusCompleted, domain.JobStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to purge old jobs: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get purged row count: %w", err)
	}

	return deleted, nil
}

// nullable maps empty strings to SQL NULL
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
