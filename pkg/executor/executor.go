// Package executor orchestrates flow executions: state-machine tracking,
// timeout and poll semantics, batch execution, history and analytics.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/identiflow/pkg/connector"
	"github.com/dukex/identiflow/pkg/models"
	"github.com/dukex/identiflow/pkg/otelhelper"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTimeout      = 300 * time.Second
	DefaultPollInterval = 2 * time.Second
)

// ErrFlowIDRequired is raised at the call site for a blank flow id. All other
// failures are captured inside the returned ExecutionResult.
var ErrFlowIDRequired = errors.New("flow id is required")

// ErrExecutionNotFound is returned by queries for unknown execution ids.
var ErrExecutionNotFound = errors.New("execution not found")

// Config carries the executor's recognized options.
type Config struct {
	DefaultTimeout time.Duration
	PollInterval   time.Duration
	MaxParallel    int // 0 means no cap on parallel batch concurrency
}

// ExecuteOptions controls a single execution. Zero values fall back to the
// executor's configuration.
type ExecuteOptions struct {
	Timeout           time.Duration
	WaitForCompletion bool
	PollInterval      time.Duration
}

// Executor drives flow invocations through the connector and exclusively owns
// ExecutionResult mutation.
type Executor struct {
	connector connector.Connector
	config    Config
	logger    *slog.Logger
	tracer    trace.Tracer

	history   *historyStore
	callbacks *callbackRegistry

	cancelMu sync.Mutex
	cancels  map[string]chan struct{}
}

func NewExecutor(conn connector.Connector, config Config, logger *slog.Logger) *Executor {
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = DefaultTimeout
	}

	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}

	return &Executor{
		connector: conn,
		config:    config,
		logger:    logger.With("module", "flow_executor"),
		history:   newHistoryStore(),
		callbacks: newCallbackRegistry(),
		cancels:   make(map[string]chan struct{}),
	}
}

// SetTracer enables span emission around executions.
func (e *Executor) SetTracer(tracer trace.Tracer) {
	e.tracer = tracer
}

// OnStart registers a callback fired immediately after an execution reaches
// the running state.
func (e *Executor) OnStart(cb Callback) { e.callbacks.addStart(cb) }

// OnComplete registers a callback fired on any terminal transition.
func (e *Executor) OnComplete(cb Callback) { e.callbacks.addComplete(cb) }

// OnError registers a callback fired additionally on failed or timed out
// executions.
func (e *Executor) OnError(cb Callback) { e.callbacks.addError(cb) }

// Execute invokes a flow and tracks it to completion when requested. Per
// execution failures (unreachable backend, unknown flow, timeout) are
// captured inside the result, never returned as an error.
func (e *Executor) Execute(ctx context.Context, flowID string, input map[string]any, opts ExecuteOptions) (*models.ExecutionResult, error) {
	if flowID == "" {
		return nil, ErrFlowIDRequired
	}

	if e.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, e.tracer, "executor.execute",
			attribute.String(otelhelper.FlowIDKey, flowID))
		defer span.End()
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.config.DefaultTimeout
	}

	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = e.config.PollInterval
	}

	logger := e.logger.With("flow_id", flowID)
	logger.InfoContext(ctx, "Executing flow", "timeout", timeout, "wait_for_completion", opts.WaitForCompletion)

	invocation, err := e.connector.InvokeFlow(ctx, flowID, input)
	if err != nil {
		logger.ErrorContext(ctx, "Flow invocation failed", "error", err)

		return e.recordInvocationFailure(flowID, input, err), nil
	}

	result := &models.ExecutionResult{
		ExecutionID: invocation.ExecutionID,
		FlowID:      flowID,
		Status:      models.ExecutionStatusPending,
		StartedAt:   invocation.StartedAt,
		InputData:   input,
	}

	if result.StartedAt.IsZero() {
		result.StartedAt = time.Now().UTC()
	}

	e.history.append(result)

	running, _ := e.history.transition(invocation.ExecutionID, models.ExecutionStatusRunning, nil, "", nil)
	e.callbacks.fireStart(logger, running)

	logger = logger.With("execution_id", invocation.ExecutionID)
	logger.InfoContext(ctx, "Execution running")

	if !opts.WaitForCompletion {
		return running, nil
	}

	return e.waitForCompletion(ctx, logger, invocation.ExecutionID, timeout, pollInterval), nil
}

// ExecuteMultiple executes a batch of requests. The returned slice is
// index-aligned with the input regardless of completion order. In parallel
// mode all requests are dispatched before any is awaited; one request's
// timeout never cancels its siblings. Sequential mode awaits each execution
// to a terminal state before dispatching the next.
func (e *Executor) ExecuteMultiple(ctx context.Context, requests []models.ExecutionRequest, parallel bool) []*models.ExecutionResult {
	e.logger.InfoContext(ctx, "Executing flow batch", "count", len(requests), "parallel", parallel)

	results := make([]*models.ExecutionResult, len(requests))

	if !parallel {
		for i, request := range requests {
			results[i] = e.executeBatchItem(ctx, request)
		}

		return results
	}

	var sem chan struct{}
	if e.config.MaxParallel > 0 {
		sem = make(chan struct{}, e.config.MaxParallel)
	}

	var wg sync.WaitGroup

	for i, request := range requests {
		wg.Add(1)

		go func(i int, request models.ExecutionRequest) {
			defer wg.Done()

			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}

			results[i] = e.executeBatchItem(ctx, request)
		}(i, request)
	}

	wg.Wait()

	return results
}

// executeBatchItem never lets one request's failure surface as an error so a
// failure cannot abort sibling work.
func (e *Executor) executeBatchItem(ctx context.Context, request models.ExecutionRequest) *models.ExecutionResult {
	result, err := e.Execute(ctx, request.FlowID, request.InputData, ExecuteOptions{WaitForCompletion: true})
	if err != nil {
		return e.recordInvocationFailure(request.FlowID, request.InputData, err)
	}

	return result
}

// Cancel stops an in-flight execution's polling and marks it cancelled
// without affecting sibling executions.
func (e *Executor) Cancel(executionID string) error {
	e.cancelMu.Lock()
	signal, waiting := e.cancels[executionID]

	if waiting {
		delete(e.cancels, executionID)
	}
	e.cancelMu.Unlock()

	if waiting {
		close(signal)

		return nil
	}

	result, ok := e.history.get(executionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}

	if result.IsTerminal() {
		return fmt.Errorf("execution %s already reached terminal status %s", executionID, result.Status)
	}

	cancelled, changed := e.history.transition(executionID, models.ExecutionStatusCancelled, nil, "execution cancelled", nil)
	if changed {
		e.callbacks.fireComplete(e.logger, cancelled)
	}

	return nil
}

// GetExecutionStatus returns the tracked result, refreshing non-terminal
// executions from the backend. Terminal results are returned as-is, so
// repeated queries after completion are idempotent.
func (e *Executor) GetExecutionStatus(ctx context.Context, executionID string) (*models.ExecutionResult, error) {
	local, known := e.history.get(executionID)
	if known && local.IsTerminal() {
		return local, nil
	}

	status, err := e.connector.GetStatus(ctx, executionID)
	if err != nil {
		if known {
			e.logger.WarnContext(ctx, "Status refresh failed, returning local view",
				"execution_id", executionID, "error", err)

			return local, nil
		}

		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}

	if !known {
		// Backend knows an execution we never tracked; adopt it.
		adopted := &models.ExecutionResult{
			ExecutionID: executionID,
			FlowID:      status.FlowID,
			Status:      models.ExecutionStatusRunning,
			StartedAt:   status.StartedAt,
		}
		e.history.append(adopted)
	}

	if status.Status.IsTerminal() {
		final, changed := e.history.transition(executionID, status.Status, status.Output, status.Error, status.CompletedAt)
		e.finish(ctx, final, changed)

		return final, nil
	}

	refreshed, _ := e.history.get(executionID)

	return refreshed, nil
}

// GetExecutionHistory returns the local execution history filtered by flow id
// and status. Empty filters match everything.
func (e *Executor) GetExecutionHistory(flowID string, status models.ExecutionStatus) []*models.ExecutionResult {
	return e.history.list(flowID, status)
}

// GetSuccessRate reports successes over terminal executions for the given
// flow, or across all flows when flowID is empty. It is exactly 0 when no
// terminal executions exist.
func (e *Executor) GetSuccessRate(flowID string) float64 {
	return e.history.successRate(flowID)
}

func (e *Executor) Close() error {
	return e.connector.Close()
}

// waitForCompletion suspends on the poll interval until the backend reports a
// terminal status, the timeout elapses, or the wait is cancelled.
func (e *Executor) waitForCompletion(ctx context.Context, logger *slog.Logger, executionID string, timeout, pollInterval time.Duration) *models.ExecutionResult {
	signal := make(chan struct{})
	e.registerCancel(executionID, signal)
	defer e.unregisterCancel(executionID)

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	poll := time.NewTimer(pollInterval)
	defer poll.Stop()

	for {
		status, err := e.connector.GetStatus(ctx, executionID)
		if err != nil {
			// Transient poll failures do not fail the execution; the
			// timeout is the judge.
			logger.WarnContext(ctx, "Status poll failed", "error", err)
		} else if status.Status.IsTerminal() {
			final, changed := e.history.transition(executionID, status.Status, status.Output, status.Error, status.CompletedAt)
			e.finish(ctx, final, changed)

			return final
		}

		select {
		case <-ctx.Done():
			return e.cancelExecution(ctx, executionID)
		case <-signal:
			return e.cancelExecution(ctx, executionID)
		case <-deadline.C:
			return e.timeoutExecution(ctx, logger, executionID, timeout)
		case <-poll.C:
			poll.Reset(pollInterval)
		}
	}
}

func (e *Executor) cancelExecution(ctx context.Context, executionID string) *models.ExecutionResult {
	cancelled, changed := e.history.transition(executionID, models.ExecutionStatusCancelled, nil, "execution cancelled", nil)
	if changed {
		e.logger.InfoContext(ctx, "Execution cancelled", "execution_id", executionID)
		e.callbacks.fireComplete(e.logger, cancelled)
	}

	return cancelled
}

// timeoutExecution marks the execution timed out after one best-effort final
// status read. The backend execution may continue independently.
func (e *Executor) timeoutExecution(ctx context.Context, logger *slog.Logger, executionID string, timeout time.Duration) *models.ExecutionResult {
	status, err := e.connector.GetStatus(ctx, executionID)
	if err == nil && status.Status.IsTerminal() {
		final, changed := e.history.transition(executionID, status.Status, status.Output, status.Error, status.CompletedAt)
		e.finish(ctx, final, changed)

		return final
	}

	errMsg := fmt.Sprintf("execution timed out after %s", timeout)

	final, changed := e.history.transition(executionID, models.ExecutionStatusTimedOut, nil, errMsg, nil)
	if changed {
		logger.WarnContext(ctx, "Execution timed out", "execution_id", executionID, "timeout", timeout)
	}

	e.finish(ctx, final, changed)

	return final
}

// finish fires terminal callbacks exactly once per execution.
func (e *Executor) finish(ctx context.Context, result *models.ExecutionResult, changed bool) {
	if !changed || result == nil {
		return
	}

	e.logger.InfoContext(ctx, "Execution completed",
		"execution_id", result.ExecutionID,
		"flow_id", result.FlowID,
		"status", result.Status,
		"duration", result.Duration(),
	)

	e.callbacks.fireComplete(e.logger, result)

	if result.Status == models.ExecutionStatusFailed || result.Status == models.ExecutionStatusTimedOut {
		e.callbacks.fireError(e.logger, result)
	}
}

// recordInvocationFailure tracks an execution that never reached the backend
// as a failed entry with a locally generated id.
func (e *Executor) recordInvocationFailure(flowID string, input map[string]any, err error) *models.ExecutionResult {
	result := &models.ExecutionResult{
		ExecutionID: "exec-" + uuid.New().String()[:8],
		FlowID:      flowID,
		Status:      models.ExecutionStatusPending,
		StartedAt:   time.Now().UTC(),
		InputData:   input,
	}

	e.history.append(result)

	failed, _ := e.history.transition(result.ExecutionID, models.ExecutionStatusFailed, nil, err.Error(), nil)
	e.callbacks.fireComplete(e.logger, failed)
	e.callbacks.fireError(e.logger, failed)

	return failed
}

func (e *Executor) registerCancel(executionID string, signal chan struct{}) {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()

	e.cancels[executionID] = signal
}

func (e *Executor) unregisterCancel(executionID string) {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()

	delete(e.cancels, executionID)
}
