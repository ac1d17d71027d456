package connector

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/dukex/identiflow/pkg/models"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
)

// SimulatorConfig controls the simulated backend. Simulation is an explicit
// choice made at construction, never inferred from the environment.
type SimulatorConfig struct {
	MinLatency  time.Duration
	MaxLatency  time.Duration
	FailureRate float64 // probability in [0,1] that an execution fails
	Seed        int64   // 0 picks a time-based seed
	Flows       []models.FlowMetadata
}

type simulatedExecution struct {
	flowID      string
	input       map[string]any
	startedAt   time.Time
	completesAt time.Time
	fails       bool
}

// Simulator is an in-memory Connector used for demos and tests. It returns
// randomized latency and occasional synthetic failures.
type Simulator struct {
	config SimulatorConfig
	logger *slog.Logger

	mu         sync.Mutex
	rng        *rand.Rand
	flows      map[string]models.FlowMetadata
	flowOrder  []string
	executions map[string]*simulatedExecution
}

// NewSimulator creates a simulated backend. With no configured flows the
// default identity flow catalog is used.
func NewSimulator(config SimulatorConfig, logger *slog.Logger) *Simulator {
	if config.MaxLatency <= 0 {
		config.MaxLatency = 50 * time.Millisecond
	}

	if config.MinLatency < 0 || config.MinLatency > config.MaxLatency {
		config.MinLatency = 0
	}

	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	flows := config.Flows
	if len(flows) == 0 {
		flows = DefaultFlowCatalog()
	}

	s := &Simulator{
		config:     config,
		logger:     logger.With("module", "simulator"),
		rng:        rand.New(rand.NewSource(seed)),
		flows:      make(map[string]models.FlowMetadata, len(flows)),
		executions: make(map[string]*simulatedExecution),
	}

	for _, flow := range flows {
		s.flows[flow.FlowID] = flow
		s.flowOrder = append(s.flowOrder, flow.FlowID)
	}

	return s
}

func (s *Simulator) InvokeFlow(ctx context.Context, flowID string, input map[string]any) (*InvokeResult, error) {
	if input == nil {
		input = make(map[string]any)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	flow, ok := s.flows[flowID]
	if !ok {
		return nil, &ConnectorError{Op: "invoke flow", ID: flowID, Err: ErrInvalidFlow}
	}

	if !flow.Enabled {
		return nil, &ConnectorError{Op: "invoke flow", ID: flowID, Err: ErrInvalidFlow}
	}

	if err := s.validateInput(flow, input); err != nil {
		return nil, &ConnectorError{Op: "invoke flow", ID: flowID, Err: err}
	}

	now := time.Now().UTC()
	latency := s.config.MinLatency
	if spread := s.config.MaxLatency - s.config.MinLatency; spread > 0 {
		latency += time.Duration(s.rng.Int63n(int64(spread)))
	}

	execution := &simulatedExecution{
		flowID:      flowID,
		input:       input,
		startedAt:   now,
		completesAt: now.Add(latency),
		fails:       s.rng.Float64() < s.config.FailureRate,
	}

	executionID := "exec-" + uuid.New().String()[:8]
	s.executions[executionID] = execution

	s.logger.DebugContext(ctx, "Simulated flow invocation",
		"flow_id", flowID, "execution_id", executionID, "latency", latency, "fails", execution.fails)

	return &InvokeResult{
		ExecutionID: executionID,
		FlowID:      flowID,
		Status:      models.ExecutionStatusRunning,
		StartedAt:   now,
	}, nil
}

func (s *Simulator) GetStatus(_ context.Context, executionID string) (*StatusResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	execution, ok := s.executions[executionID]
	if !ok {
		return nil, &ConnectorError{Op: "get status", ID: executionID, Err: ErrNotFound}
	}

	result := &StatusResult{
		ExecutionID: executionID,
		FlowID:      execution.flowID,
		Status:      models.ExecutionStatusRunning,
		StartedAt:   execution.startedAt,
	}

	if time.Now().UTC().Before(execution.completesAt) {
		return result, nil
	}

	completedAt := execution.completesAt
	result.CompletedAt = &completedAt

	if execution.fails {
		result.Status = models.ExecutionStatusFailed
		result.Error = "synthetic failure injected by simulator"
	} else {
		result.Status = models.ExecutionStatusSuccess
		result.Output = map[string]any{
			"result":            "success",
			"actions_completed": len(execution.input) + 1,
		}
	}

	return result, nil
}

func (s *Simulator) ListFlows(_ context.Context, filter ListFilter) ([]models.FlowMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flows := make([]models.FlowMetadata, 0, len(s.flowOrder))

	for _, flowID := range s.flowOrder {
		flow := s.flows[flowID]
		if filter.Type != "" && flow.Type != filter.Type {
			continue
		}

		flows = append(flows, flow)
	}

	return flows, nil
}

func (s *Simulator) GetExecutionHistory(_ context.Context, flowID string, limit int) ([]models.BackendExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.flows[flowID]; !ok {
		return nil, &ConnectorError{Op: "get execution history", ID: flowID, Err: ErrInvalidFlow}
	}

	now := time.Now().UTC()
	records := make([]models.BackendExecutionRecord, 0)

	for executionID, execution := range s.executions {
		if execution.flowID != flowID || now.Before(execution.completesAt) {
			continue
		}

		record := models.BackendExecutionRecord{
			ExecutionID: executionID,
			Status:      models.ExecutionStatusSuccess,
			StartedAt:   execution.startedAt,
		}

		completedAt := execution.completesAt
		record.CompletedAt = &completedAt

		if execution.fails {
			record.Status = models.ExecutionStatusFailed
			record.Error = "synthetic failure injected by simulator"
		}

		records = append(records, record)

		if limit > 0 && len(records) >= limit {
			break
		}
	}

	return records, nil
}

func (s *Simulator) Close() error {
	return nil
}

// validateInput checks invocation input against the flow's declared schema.
func (s *Simulator) validateInput(flow models.FlowMetadata, input map[string]any) error {
	if len(flow.InputSchema) == 0 {
		return nil
	}

	schemaLoader := gojsonschema.NewGoLoader(flow.InputSchema)
	dataLoader := gojsonschema.NewGoLoader(input)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	if !result.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidInput, result.Errors())
	}

	return nil
}

// DefaultFlowCatalog lists the simulated identity automation flows.
func DefaultFlowCatalog() []models.FlowMetadata {
	return []models.FlowMetadata{
		{
			FlowID:      "flow_new_hire_onboarding",
			Name:        "New Hire Onboarding",
			Type:        "lifecycle",
			Description: "Automate new employee provisioning and access setup",
			Enabled:     true,
		},
		{
			FlowID:      "flow_offboarding",
			Name:        "Employee Offboarding",
			Type:        "lifecycle",
			Description: "Revoke access and archive user data",
			Enabled:     true,
		},
		{
			FlowID:      "flow_mfa_remediation",
			Name:        "MFA Enrollment Remediation",
			Type:        "remediation",
			Description: "Automatically enroll users in MFA",
			Enabled:     true,
		},
		{
			FlowID:      "flow_access_request",
			Name:        "Application Access Request",
			Type:        "lifecycle",
			Description: "Process and approve application access requests",
			Enabled:     true,
		},
		{
			FlowID:      "flow_password_expiry",
			Name:        "Password Expiry Notification",
			Type:        "remediation",
			Description: "Notify users before password expiration",
			Enabled:     true,
		},
	}
}
