package models

// FlowMetadata describes an externally defined automation flow. The flow's
// internals are opaque to the orchestrator; only its identity, classification
// and expected input shape are visible.
type FlowMetadata struct {
	FlowID      string         `json:"flow_id"     validate:"required"`
	Name        string         `json:"name"        validate:"required,min=3"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Enabled     bool           `json:"enabled"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}
