package domain

import (
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Job is the worker's view of a claimed job row
type Job struct {
	JobID   string
	JobType string
	Target  string
	Status  string
}

// QueueMessage is the wire format read off the broker
type QueueMessage struct {
	JobID     string `json:"job_id"`
	JobType   string `json:"job_type"`
	Target    string `json:"target"`
	CreatedAt int64  `json:"created_at"`
}

// JobMessage pairs a parsed queue message with its delivery so the pool can
// ack or nack after processing
type JobMessage struct {
	Msg      QueueMessage
	Delivery amqp.Delivery
}

// ResultRow is one detail row produced by a completed unit of work. ResultKey
// makes re-inserts after redelivery a no-op (unique per job).
type ResultRow struct {
	ResultType  string
	ResultKey   string
	Port        *int
	Protocol    string
	State       string
	Service     string
	Version     string
	CVEID       string
	Severity    string
	CVSSScore   *float64
	Description string
	Raw         json.RawMessage
}

// ResultSummary is the denormalized aggregate stored on the job row
type ResultSummary struct {
	TotalResults    int    `json:"total_results"`
	OpenPorts       int    `json:"open_ports,omitempty"`
	Vulnerabilities int    `json:"vulnerabilities,omitempty"`
	OSGuess         string `json:"os_guess,omitempty"`
}
