package dto

import "encoding/json"

type SubmitJobRequest struct {
	Target string `json:"target" binding:"required"`
}

type SubmitJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type ListJobsRequest struct {
	JobType  string `form:"job_type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID         string          `json:"job_id"`
	JobType       string          `json:"job_type"`
	Target        string          `json:"target"`
	Status        string          `json:"status"`
	ProcessedVia  string          `json:"processed_via,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	ResultSummary json.RawMessage `json:"result_summary,omitempty"`
	CreatedAt     int64           `json:"created_at"`
	ProcessedAt   *int64          `json:"processed_at,omitempty"`
	CompletedAt   *int64          `json:"completed_at,omitempty"`
}

type JobDetailResponse struct {
	JobDTO
	Results []ResultDetailDTO `json:"results"`
}

type ResultDetailDTO struct {
	ResultType  string          `json:"result_type"`
	Port        *int32          `json:"port,omitempty"`
	Protocol    string          `json:"protocol,omitempty"`
	State       string          `json:"state,omitempty"`
	Service     string          `json:"service,omitempty"`
	Version     string          `json:"version,omitempty"`
	CVEID       string          `json:"cve_id,omitempty"`
	Severity    string          `json:"severity,omitempty"`
	CVSSScore   *float64        `json:"cvss_score,omitempty"`
	Description string          `json:"description,omitempty"`
	RawPayload  json.RawMessage `json:"raw_payload,omitempty"`
}

type QueueStatusResponse struct {
	Pending       int  `json:"pending"`
	Processing    int  `json:"processing"`
	Completed     int  `json:"completed"`
	Failed        int  `json:"failed"`
	QueueDepth    int  `json:"queue_depth"`
	BrokerHealthy bool `json:"broker_healthy"`
}
