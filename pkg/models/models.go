// Package models provides data structures used throughout the assistant pipeline.
package models

import "time"

// QueryRequest represents one request into the pipeline. Exactly one of
// Question or SQL is set: Question enters the generation path, SQL the
// direct-execution path. UserID is an opaque tenant identifier and is
// never empty.
type QueryRequest struct {
	Question string `json:"question,omitempty"`
	SQL      string `json:"sql,omitempty"`
	UserID   string `json:"user_id"`
}

// ContextKind classifies one retrieval context entry.
type ContextKind string

const (
	// ContextExample is a previously seen question/SQL pair.
	ContextExample ContextKind = "example_question"
	// ContextDDL is a schema fragment.
	ContextDDL ContextKind = "ddl"
	// ContextDoc is a documentation fragment.
	ContextDoc ContextKind = "doc"
)

// ContextEntry is one retrieved fragment with its similarity score in [0,1].
type ContextEntry struct {
	Text  string      `json:"text"`
	Score float64     `json:"score"`
	Kind  ContextKind `json:"kind"`
}

// RetrievalContext is the ranked context for one question, most-similar
// first within each kind. Built fresh per request and never persisted.
type RetrievalContext struct {
	Examples []ContextEntry `json:"examples"`
	DDL      []ContextEntry `json:"ddl"`
	Docs     []ContextEntry `json:"docs"`
}

// TopScore returns the highest example similarity, or 0 when retrieval
// found nothing.
func (rc RetrievalContext) TopScore() float64 {
	if len(rc.Examples) == 0 {
		return 0
	}
	return rc.Examples[0].Score
}

// ViolationKind identifies one validation rule breach.
type ViolationKind string

const (
	ViolationUnparsable        ViolationKind = "unparsable"
	ViolationMultiStatement    ViolationKind = "multi_statement"
	ViolationWriteOperation    ViolationKind = "write_operation"
	ViolationSideEffectingCall ViolationKind = "side_effecting_call"
	ViolationSuspiciousComment ViolationKind = "suspicious_comment"
)

// Verdict is the validator's deterministic output for one SQL string.
// Valid is true exactly when Violations is empty. HasTenantFilter is
// only meaningful when tenant-filter detection was requested.
type Verdict struct {
	Valid           bool            `json:"valid"`
	Violations      []ViolationKind `json:"violations"`
	HasTenantFilter bool            `json:"has_tenant_filter"`
}

// ExecutionResult carries the rows returned for one executed statement.
// Rows follow the exact column order the engine returned. RowCount is
// the number of rows actually returned, not an estimate.
type ExecutionResult struct {
	Columns         []string        `json:"columns"`
	Rows            [][]interface{} `json:"rows"`
	RowCount        int64           `json:"row_count"`
	ExecutionTimeMS float64         `json:"execution_time_ms"`
}

// GeneratedSQL is the outcome of the generation path before execution.
type GeneratedSQL struct {
	SQL         string  `json:"sql"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// SearchHit is one result from the external similarity-search service.
type SearchHit struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// RequestAudit captures what the pipeline saw and decided for one
// request. Emitted to the structured log, never persisted by this core.
type RequestAudit struct {
	RequestID   string        `json:"request_id"`
	UserID      string        `json:"user_id"`
	OriginalSQL string        `json:"original_sql"`
	FinalSQL    string        `json:"final_sql"`
	Rewritten   bool          `json:"rewritten"`
	Duration    time.Duration `json:"duration"`
}
