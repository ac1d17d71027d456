// Package models defines the core domain models for event-driven flow orchestration.
package models

import "time"

// ExecutionStatus represents the lifecycle state of a flow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"   // Accepted locally, not yet acknowledged by the backend
	ExecutionStatusRunning   ExecutionStatus = "running"   // Backend acknowledged the invocation
	ExecutionStatusSuccess   ExecutionStatus = "success"   // Terminal, output available
	ExecutionStatusFailed    ExecutionStatus = "failed"    // Terminal, error available
	ExecutionStatusCancelled ExecutionStatus = "cancelled" // Terminal, cancelled before completion
	ExecutionStatusTimedOut  ExecutionStatus = "timed_out" // Terminal locally; the backend execution may continue
)

// IsTerminal reports whether no further transitions follow this status.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusSuccess, ExecutionStatusFailed, ExecutionStatusCancelled, ExecutionStatusTimedOut:
		return true
	default:
		return false
	}
}

// ExecutionResult tracks one invocation of a flow from dispatch to terminal state.
type ExecutionResult struct {
	ExecutionID string          `json:"execution_id"`
	FlowID      string          `json:"flow_id"`
	Status      ExecutionStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	InputData   map[string]any  `json:"input_data,omitempty"`
	OutputData  map[string]any  `json:"output_data,omitempty"`
	Error       string          `json:"error,omitempty"`
}

func (r *ExecutionResult) IsSuccess() bool {
	return r.Status == ExecutionStatusSuccess
}

func (r *ExecutionResult) IsFailed() bool {
	return r.Status == ExecutionStatusFailed
}

func (r *ExecutionResult) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// Duration is derived from the two timestamps, never stored independently.
// It returns zero until the execution completes.
func (r *ExecutionResult) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}

	return r.CompletedAt.Sub(r.StartedAt)
}

// Clone returns a copy safe for handing to callers while the executor keeps
// mutating the tracked record.
func (r *ExecutionResult) Clone() *ExecutionResult {
	clone := *r

	if r.CompletedAt != nil {
		completedAt := *r.CompletedAt
		clone.CompletedAt = &completedAt
	}

	return &clone
}

// ExecutionRequest is one unit of a multi-flow execution batch.
type ExecutionRequest struct {
	FlowID    string         `json:"flow_id"    validate:"required"`
	InputData map[string]any `json:"input_data"`
}

// BackendExecutionRecord is a backend-side history entry, distinct from the
// orchestrator's local history. Used only for reconciliation.
type BackendExecutionRecord struct {
	ExecutionID string          `json:"execution_id"`
	Status      ExecutionStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
}
