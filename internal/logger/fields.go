package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Standard Tracing Fields (Context level)
// These fields are propagated through the call chain
// ============================================

const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldJobID is the queue job ID
	FieldJobID = "job_id"

	// FieldJobType is the queue job type
	FieldJobType = "job_type"

	// FieldAccountID is the automation account profile ID
	FieldAccountID = "account_id"

	// FieldLeadID is the outreach lead ID
	FieldLeadID = "lead_id"

	// FieldRunID is the runner pass ID (one per lock ownership)
	FieldRunID = "run_id"

	// FieldComponent is the component/module name
	FieldComponent = "component"
)

// ============================================
// Standard Metric Fields (Entry level)
// These fields are used for aggregation and alerting
// ============================================

const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldAttempt is the job attempt number
	FieldAttempt = "attempt"

	// FieldStatus is the operation status
	FieldStatus = "status"
)
