// Package trigger matches identity lifecycle events against declarative rules
// and dispatches flow executions, keeping the correlation trail from event to
// executions.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/identiflow/pkg/connector"
	"github.com/dukex/identiflow/pkg/events"
	"github.com/dukex/identiflow/pkg/executor"
	"github.com/dukex/identiflow/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	ErrRuleNotFound  = errors.New("trigger rule not found")
	ErrDuplicateRule = errors.New("trigger rule already registered")
)

// Config carries the trigger's recognized options.
type Config struct {
	// WaitForCompletion makes rule-dispatched executions block until
	// terminal. Off by default for event-processing responsiveness.
	WaitForCompletion bool
}

// Trigger owns the rule registry, the event-to-execution correlation map and
// the event-history buffer.
type Trigger struct {
	executor *executor.Executor
	flows    connector.Connector // nil skips flow validation at rule registration
	config   Config
	logger   *slog.Logger
	validate *validator.Validate

	mu           sync.RWMutex
	rules        []TriggerRule
	correlations map[string][]string
	eventHistory []events.LifecycleEvent
}

func NewTrigger(exec *executor.Executor, flows connector.Connector, config Config, logger *slog.Logger) *Trigger {
	return &Trigger{
		executor:     exec,
		flows:        flows,
		config:       config,
		logger:       logger.With("module", "event_trigger"),
		validate:     validator.New(),
		correlations: make(map[string][]string),
	}
}

// AddRule registers a trigger rule. Malformed rules and rules targeting a
// flow the backend does not know fail here, at the call site.
func (t *Trigger) AddRule(ctx context.Context, rule TriggerRule) error {
	if err := t.validate.Struct(rule); err != nil {
		return fmt.Errorf("invalid trigger rule: %w", err)
	}

	if t.flows != nil {
		if err := t.checkFlowExists(ctx, rule.FlowID); err != nil {
			return err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, existing := range t.rules {
		if existing.RuleID == rule.RuleID {
			return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.RuleID)
		}
	}

	t.rules = append(t.rules, rule)

	t.logger.InfoContext(ctx, "Added trigger rule", "rule_id", rule.RuleID, "flow_id", rule.FlowID)

	return nil
}

// RemoveRule removes a rule by id.
func (t *Trigger) RemoveRule(ruleID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, rule := range t.rules {
		if rule.RuleID == ruleID {
			t.rules = append(t.rules[:i], t.rules[i+1:]...)
			t.logger.Info("Removed trigger rule", "rule_id", ruleID)

			return nil
		}
	}

	return fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
}

func (t *Trigger) GetRule(ruleID string) (TriggerRule, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, rule := range t.rules {
		if rule.RuleID == ruleID {
			return rule, nil
		}
	}

	return TriggerRule{}, fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
}

func (t *Trigger) ListRules(enabledOnly bool) []TriggerRule {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rules := make([]TriggerRule, 0, len(t.rules))

	for _, rule := range t.rules {
		if enabledOnly && !rule.Enabled {
			continue
		}

		rules = append(rules, rule)
	}

	return rules
}

// RegisterDefaultRules loads the default rule set.
func (t *Trigger) RegisterDefaultRules(ctx context.Context) error {
	for _, rule := range DefaultRules() {
		if err := t.AddRule(ctx, rule); err != nil {
			return err
		}
	}

	return nil
}

// ProcessEvent matches the event against enabled rules and dispatches one
// execution per passing rule. An empty result list is a valid outcome when
// nothing matches. Per-rule failures are captured in the result list and
// never abort sibling rules.
func (t *Trigger) ProcessEvent(ctx context.Context, event events.LifecycleEvent) []*models.ExecutionResult {
	logger := t.logger.With("event_id", event.EventID, "event_type", event.Type, "subject_id", event.SubjectID)
	logger.InfoContext(ctx, "Processing lifecycle event")

	matching := t.matchingRules(ctx, event)

	results := make([]*models.ExecutionResult, 0, len(matching))
	executionIDs := make([]string, 0, len(matching))

	for _, rule := range matching {
		result := t.dispatchRule(ctx, logger, rule, event)
		results = append(results, result)
		executionIDs = append(executionIDs, result.ExecutionID)
	}

	t.recordEvent(event, executionIDs)

	if len(matching) == 0 {
		logger.DebugContext(ctx, "No matching rules for event")
	}

	return results
}

// ProcessEventsBatch processes events in parallel or strictly in order,
// returning a map from event id to that event's execution results.
func (t *Trigger) ProcessEventsBatch(ctx context.Context, batch []events.LifecycleEvent, parallel bool) map[string][]*models.ExecutionResult {
	t.logger.InfoContext(ctx, "Processing event batch", "count", len(batch), "parallel", parallel)

	resultLists := make([][]*models.ExecutionResult, len(batch))

	if parallel {
		var wg sync.WaitGroup

		for i, event := range batch {
			wg.Add(1)

			go func(i int, event events.LifecycleEvent) {
				defer wg.Done()

				resultLists[i] = t.ProcessEvent(ctx, event)
			}(i, event)
		}

		wg.Wait()
	} else {
		for i, event := range batch {
			resultLists[i] = t.ProcessEvent(ctx, event)
		}
	}

	resultMap := make(map[string][]*models.ExecutionResult, len(batch))
	for i, event := range batch {
		resultMap[event.EventID] = resultLists[i]
	}

	return resultMap
}

// SimulateEvent constructs a synthetic event and processes it immediately.
// There is no semantic difference from a real event.
func (t *Trigger) SimulateEvent(ctx context.Context, eventType events.EventType, subjectID, subjectIdentifier string, metadata map[string]any) []*models.ExecutionResult {
	event := events.SimulatedEvent(eventType, subjectID, subjectIdentifier, metadata)

	t.logger.InfoContext(ctx, "Simulating lifecycle event", "event_type", eventType)

	return t.ProcessEvent(ctx, event)
}

// WorkflowsForEvent returns the execution ids an event triggered, in dispatch
// order.
func (t *Trigger) WorkflowsForEvent(eventID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, len(t.correlations[eventID]))
	copy(ids, t.correlations[eventID])

	return ids
}

// EventHistory returns the most recent processed events matching the optional
// type and subject filters, up to limit.
func (t *Trigger) EventHistory(eventType events.EventType, subjectID string, limit int) []events.LifecycleEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()

	matched := make([]events.LifecycleEvent, 0, len(t.eventHistory))

	for _, event := range t.eventHistory {
		if eventType != "" && event.Type != eventType {
			continue
		}

		if subjectID != "" && event.SubjectID != subjectID {
			continue
		}

		matched = append(matched, event)
	}

	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}

	return matched
}

func (t *Trigger) Close() error {
	return t.executor.Close()
}

// matchingRules selects enabled rules listening for the event type whose
// condition accepts the event. A panicking condition skips its rule only.
func (t *Trigger) matchingRules(ctx context.Context, event events.LifecycleEvent) []TriggerRule {
	t.mu.RLock()
	defer t.mu.RUnlock()

	matching := make([]TriggerRule, 0)

	for _, rule := range t.rules {
		if !rule.Enabled || !rule.matches(event.Type) {
			continue
		}

		if rule.Condition != nil && !t.evaluateCondition(ctx, rule, event) {
			continue
		}

		matching = append(matching, rule)
	}

	return matching
}

func (t *Trigger) evaluateCondition(ctx context.Context, rule TriggerRule, event events.LifecycleEvent) (passed bool) {
	defer func() {
		if recovered := recover(); recovered != nil {
			t.logger.ErrorContext(ctx, "Rule condition panicked, skipping rule",
				"rule_id", rule.RuleID, "panic", recovered)

			passed = false
		}
	}()

	return rule.Condition(event)
}

// dispatchRule transforms the event and issues the execution. A transformer
// failure yields a failed-shaped result for this rule only.
func (t *Trigger) dispatchRule(ctx context.Context, logger *slog.Logger, rule TriggerRule, event events.LifecycleEvent) *models.ExecutionResult {
	input, err := t.transformEvent(rule, event)
	if err != nil {
		logger.ErrorContext(ctx, "Rule transformer failed", "rule_id", rule.RuleID, "error", err)

		return transformFailureResult(rule, err)
	}

	result, err := t.executor.Execute(ctx, rule.FlowID, input, executor.ExecuteOptions{
		WaitForCompletion: t.config.WaitForCompletion,
	})
	if err != nil {
		logger.ErrorContext(ctx, "Rule dispatch failed", "rule_id", rule.RuleID, "error", err)

		return transformFailureResult(rule, err)
	}

	logger.InfoContext(ctx, "Triggered flow",
		"rule_id", rule.RuleID, "flow_id", rule.FlowID, "execution_id", result.ExecutionID)

	return result
}

func (t *Trigger) transformEvent(rule TriggerRule, event events.LifecycleEvent) (input map[string]any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			input = nil
			err = fmt.Errorf("transform failed for rule %s: %v", rule.RuleID, recovered)
		}
	}()

	if rule.Transformer == nil {
		return defaultTransform(event), nil
	}

	input, err = rule.Transformer(event)
	if err != nil {
		return nil, fmt.Errorf("transform failed for rule %s: %w", rule.RuleID, err)
	}

	return input, nil
}

// recordEvent appends the correlation record and the event-history entry
// atomically with respect to concurrent event processing.
func (t *Trigger) recordEvent(event events.LifecycleEvent, executionIDs []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(executionIDs) > 0 {
		t.correlations[event.EventID] = append(t.correlations[event.EventID], executionIDs...)
	}

	t.eventHistory = append(t.eventHistory, event)
}

func (t *Trigger) checkFlowExists(ctx context.Context, flowID string) error {
	flows, err := t.flows.ListFlows(ctx, connector.ListFilter{})
	if err != nil {
		return fmt.Errorf("failed to verify flow %s: %w", flowID, err)
	}

	for _, flow := range flows {
		if flow.FlowID == flowID {
			return nil
		}
	}

	return fmt.Errorf("%w: %s", connector.ErrInvalidFlow, flowID)
}

// defaultTransform is the projection used when a rule has no transformer.
func defaultTransform(event events.LifecycleEvent) map[string]any {
	return map[string]any{
		"event_id":   event.EventID,
		"event_type": string(event.Type),
		"user_id":    event.SubjectID,
		"user_email": event.SubjectIdentifier,
		"timestamp":  event.Timestamp,
	}
}

// transformFailureResult is terminal on construction and is never mutated
// afterwards; it exists so sibling rules' results stay index-complete.
func transformFailureResult(rule TriggerRule, err error) *models.ExecutionResult {
	now := time.Now().UTC()

	return &models.ExecutionResult{
		ExecutionID: "exec-" + uuid.New().String()[:8],
		FlowID:      rule.FlowID,
		Status:      models.ExecutionStatusFailed,
		StartedAt:   now,
		CompletedAt: &now,
		Error:       err.Error(),
	}
}
