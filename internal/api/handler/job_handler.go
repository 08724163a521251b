package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/quanglt/vulnscan-be/internal/api/domain"
	"github.com/quanglt/vulnscan-be/internal/api/dto"
	"github.com/quanglt/vulnscan-be/internal/api/model"
	"github.com/quanglt/vulnscan-be/internal/api/storage"
)

// SubmitScan handles POST /api/v1/scans
// Accepts a scan target and enqueues an asynchronous scan job
func (h *JobHandler) SubmitScan(c *gin.Context) {
	h.submit(c, domain.JobTypeScan)
}

// SubmitLookup handles POST /api/v1/lookups
// Accepts a keyword and enqueues an asynchronous CVE lookup job
func (h *JobHandler) SubmitLookup(c *gin.Context) {
	h.submit(c, domain.JobTypeLookup)
}

func (h *JobHandler) submit(c *gin.Context, jobType string) {
	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	jobID, err := h.producer.Submit(c.Request.Context(), jobType, req.Target)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidTarget):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
		case errors.Is(err, domain.ErrPublishFailed):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Failed to enqueue job",
			})
		default:
			h.logger.Error("Failed to submit job", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to submit job",
			})
		}
		return
	}

	// 202: the job is accepted, processing happens out of band
	c.JSON(http.StatusAccepted, dto.SubmitJobResponse{
		JobID:  jobID,
		Status: "queued",
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
// Returns the job plus its result detail rows
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.storage.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	results, err := h.storage.GetJobResults(c.Request.Context(), jobID)
	if err != nil {
		h.logger.Error("Failed to get job results", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job results",
		})
		return
	}

	resp := dto.JobDetailResponse{
		JobDTO:  toJobDTO(job),
		Results: make([]dto.ResultDetailDTO, len(results)),
	}
	for i, r := range results {
		resp.Results[i] = toResultDTO(&r)
	}

	c.JSON(http.StatusOK, resp)
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest-first with optional filtering and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := storage.JobFilter{
		JobType:  req.JobType,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	jobs, err := h.storage.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i, job := range jobs {
		jobResponse[i] = toJobDTO(&job)
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.JobID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

func toJobDTO(job *model.Job) dto.JobDTO {
	out := dto.JobDTO{
		JobID:         job.JobID,
		JobType:       job.JobType,
		Target:        job.Target,
		Status:        job.Status,
		ProcessedVia:  job.ProcessedVia,
		ErrorMessage:  job.ErrorMessage,
		ResultSummary: job.ResultSummary,
		CreatedAt:     job.CreatedAt,
	}
	if job.ProcessedAt.Valid {
		v := job.ProcessedAt.Int64
		out.ProcessedAt = &v
	}
	if job.CompletedAt.Valid {
		v := job.CompletedAt.Int64
		out.CompletedAt = &v
	}
	return out
}

func toResultDTO(r *model.ResultDetail) dto.ResultDetailDTO {
	out := dto.ResultDetailDTO{
		ResultType:  r.ResultType,
		Protocol:    r.Protocol.String,
		State:       r.State.String,
		Service:     r.Service.String,
		Version:     r.Version.String,
		CVEID:       r.CVEID.String,
		Severity:    r.Severity.String,
		Description: r.Description.String,
		RawPayload:  r.RawPayload,
	}
	if r.Port.Valid {
		v := r.Port.Int32
		out.Port = &v
	}
	if r.CVSSScore.Valid {
		v := r.CVSSScore.Float64
		out.CVSSScore = &v
	}
	return out
}
