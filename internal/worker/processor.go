package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quanglt/vulnscan-be/internal/worker/domain"
	"github.com/quanglt/vulnscan-be/internal/worker/lookup"
	"github.com/quanglt/vulnscan-be/internal/worker/scanner"
)

// processJob drives one message through the job state machine:
// claim (pending -> processing), run the unit of work, persist the outcome.
// The returned error classifies the ack decision for the pool.
func (c *Consumer) processJob(ctx context.Context, msg *domain.JobMessage) error {
	jobID := msg.Msg.JobID

	// Mark processing before any external work so partial progress is
	// observable even if this worker dies mid-task.
	job, err := c.store.ClaimProcessing(ctx, jobID, c.clock.Now(ctx))
	if err != nil {
		if errors.Is(err, domain.ErrJobFinalized) {
			// Redelivery of an already-settled job; nothing to redo
			c.logger.Info("Skipping redelivered message for finalized job",
				slog.String("job_id", jobID),
			)
			return nil
		}
		if errors.Is(err, domain.ErrJobNotFound) {
			// No row behind the message; terminal, do not loop it
			return fmt.Errorf("message references unknown job %s: %w", jobID, err)
		}
		return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	summary, rows, workErr := c.executeJob(ctx, job)
	if workErr != nil {
		c.logger.Error("Unit of work failed",
			slog.String("job_id", job.JobID),
			slog.String("job_type", job.JobType),
			slog.String("error", workErr.Error()),
		)

		if markErr := c.store.MarkFailed(ctx, job.JobID, c.clock.Now(ctx), workErr.Error()); markErr != nil {
			// The failure is not recorded yet; force redelivery
			return domain.NewRetryableError(fmt.Errorf("failed to record job failure: %w", markErr))
		}

		return fmt.Errorf("job execution failed: %w", workErr)
	}

	// Detail rows and the terminal status commit together, so a failed
	// completion leaves nothing behind and a later MarkFailed on redelivery
	// cannot strand detail rows on a failed job.
	if err := c.store.CompleteJob(ctx, job.JobID, c.clock.Now(ctx), summary, rows); err != nil {
		return domain.NewRetryableError(fmt.Errorf("failed to record job completion: %w", err))
	}

	return nil
}

// executeJob runs the type-specific unit of work and maps its output to
// detail rows plus the denormalized summary
func (c *Consumer) executeJob(ctx context.Context, job *domain.Job) (domain.ResultSummary, []domain.ResultRow, error) {
	switch job.JobType {
	case domain.JobTypeScan:
		report, err := c.scanner.Scan(ctx, job.Target)
		if err != nil {
			return domain.ResultSummary{}, nil, err
		}
		return buildScanResults(report)

	case domain.JobTypeLookup:
		records, err := c.lookup.Search(ctx, job.Target)
		if err != nil {
			return domain.ResultSummary{}, nil, err
		}
		return buildLookupResults(records)

	default:
		return domain.ResultSummary{}, nil, fmt.Errorf("unknown job type %q", job.JobType)
	}
}

func buildScanResults(report *scanner.Report) (domain.ResultSummary, []domain.ResultRow, error) {
	rows := make([]domain.ResultRow, 0, len(report.Ports)+len(report.Findings))

	for _, p := range report.Ports {
		port := p.Port
		raw, err := json.Marshal(p)
		if err != nil {
			return domain.ResultSummary{}, nil, fmt.Errorf("failed to encode port finding: %w", err)
		}

		rows = append(rows, domain.ResultRow{
			ResultType: domain.ResultTypePort,
			ResultKey:  fmt.Sprintf("%s/%d", p.Protocol, p.Port),
			Port:       &port,
			Protocol:   p.Protocol,
			State:      p.State,
			Service:    p.Service,
			Version:    p.Version,
			Raw:        raw,
		})
	}

	for _, f := range report.Findings {
		port := f.Port
		raw, err := json.Marshal(f)
		if err != nil {
			return domain.ResultSummary{}, nil, fmt.Errorf("failed to encode vuln finding: %w", err)
		}

		rows = append(rows, domain.ResultRow{
			ResultType:  domain.ResultTypeVuln,
			ResultKey:   fmt.Sprintf("vuln:%s/%d:%s", f.Protocol, f.Port, f.Script),
			Port:        &port,
			Protocol:    f.Protocol,
			Service:     f.Script,
			Description: f.Output,
			Raw:         raw,
		})
	}

	summary := domain.ResultSummary{
		TotalResults:    len(rows),
		OpenPorts:       len(report.Ports),
		Vulnerabilities: len(report.Findings),
		OSGuess:         report.OSGuess,
	}

	return summary, rows, nil
}

func buildLookupResults(records []lookup.CVERecord) (domain.ResultSummary, []domain.ResultRow, error) {
	rows := make([]domain.ResultRow, 0, len(records))

	for _, r := range records {
		score := r.CVSSScore
		rows = append(rows, domain.ResultRow{
			ResultType:  domain.ResultTypeCVE,
			ResultKey:   r.ID,
			CVEID:       r.ID,
			Severity:    r.Severity,
			CVSSScore:   &score,
			Description: r.Description,
			Raw:         r.Raw,
		})
	}

	summary := domain.ResultSummary{
		TotalResults:    len(rows),
		Vulnerabilities: len(rows),
	}

	return summary, rows, nil
}
