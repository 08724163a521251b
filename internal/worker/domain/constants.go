package domain

// Job status constants
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Job types
const (
	JobTypeScan   = "scan"
	JobTypeLookup = "lookup"
)

// Result detail discriminators
const (
	ResultTypePort = "port"
	ResultTypeVuln = "vuln"
	ResultTypeCVE  = "cve"
)

// ProcessedViaQueue tags jobs handled by the queue consumer
const ProcessedViaQueue = "queue_consumer"
