package model

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Job is one unit of requested asynchronous work
type Job struct {
	JobID         string          `db:"job_id"`
	JobType       string          `db:"job_type"`
	Target        string          `db:"target"`
	Status        string          `db:"status"`
	ProcessedVia  string          `db:"processed_via"`
	ErrorMessage  string          `db:"error_message"`
	ResultSummary json.RawMessage `db:"result_summary"`
	CreatedAt     int64           `db:"created_at"`
	ProcessedAt   sql.NullInt64   `db:"processed_at"`
	CompletedAt   sql.NullInt64   `db:"completed_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

// ResultDetail is one enumerable sub-result of a completed job, either an
// open port (scan) or a CVE record (lookup)
type ResultDetail struct {
	ID          int64           `db:"id"`
	JobID       string          `db:"job_id"`
	ResultType  string          `db:"result_type"`
	ResultKey   string          `db:"result_key"`
	Port        sql.NullInt32   `db:"port"`
	Protocol    sql.NullString  `db:"protocol"`
	State       sql.NullString  `db:"state"`
	Service     sql.NullString  `db:"service"`
	Version     sql.NullString  `db:"version"`
	CVEID       sql.NullString  `db:"cve_id"`
	Severity    sql.NullString  `db:"severity"`
	CVSSScore   sql.NullFloat64 `db:"cvss_score"`
	Description sql.NullString  `db:"description"`
	RawPayload  json.RawMessage `db:"raw_payload"`
}
