// Package connector provides the client abstraction for invoking external
// automation flows and polling their status.
package connector

import (
	"context"
	"time"

	"github.com/dukex/identiflow/pkg/models"
)

// InvokeResult is the backend's acknowledgement of a flow invocation.
type InvokeResult struct {
	ExecutionID string                 `json:"execution_id"`
	FlowID      string                 `json:"flow_id"`
	Status      models.ExecutionStatus `json:"status"`
	StartedAt   time.Time              `json:"started_at"`
}

// StatusResult is the backend's view of one execution.
type StatusResult struct {
	ExecutionID string                 `json:"execution_id"`
	FlowID      string                 `json:"flow_id"`
	Status      models.ExecutionStatus `json:"status"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Output      map[string]any         `json:"output,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// ListFilter narrows ListFlows by flow type. Empty means all flows.
type ListFilter struct {
	Type string
}

// Connector is the sole boundary to the automation backend. Implementations
// are stateless from the orchestrator's view and safe for concurrent use.
type Connector interface {
	// InvokeFlow starts a flow and returns the backend-assigned execution id.
	// Fails with ErrConnection when the backend is unreachable and
	// ErrInvalidFlow when the flow id is unknown.
	InvokeFlow(ctx context.Context, flowID string, input map[string]any) (*InvokeResult, error)

	// GetStatus returns the current status of an execution. Fails with
	// ErrNotFound for unknown execution ids.
	GetStatus(ctx context.Context, executionID string) (*StatusResult, error)

	// ListFlows returns metadata for the flows the backend exposes.
	ListFlows(ctx context.Context, filter ListFilter) ([]models.FlowMetadata, error)

	// GetExecutionHistory returns the backend-side execution history for a
	// flow, distinct from the orchestrator's local history.
	GetExecutionHistory(ctx context.Context, flowID string, limit int) ([]models.BackendExecutionRecord, error)

	Close() error
}
