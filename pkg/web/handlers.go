package web

import (
	"strconv"

	"github.com/dukex/identiflow/pkg/connector"
	"github.com/dukex/identiflow/pkg/events"
	"github.com/dukex/identiflow/pkg/executor"
	"github.com/dukex/identiflow/pkg/models"
	"github.com/dukex/identiflow/pkg/trigger"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const maxEventHistoryPage = 500

type APIHandlers struct {
	trigger   *trigger.Trigger
	executor  *executor.Executor
	connector connector.Connector
	validator *validator.Validate
}

func NewAPIHandlers(
	t *trigger.Trigger,
	exec *executor.Executor,
	conn connector.Connector,
	validate *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		trigger:   t,
		executor:  exec,
		connector: conn,
		validator: validate,
	}
}

// ProcessEvent ingests one lifecycle event and returns the executions it
// triggered. An empty list is a valid outcome.
func (h *APIHandlers) ProcessEvent(c fiber.Ctx) error {
	var req ProcessEventRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event := req.toEvent()
	results := h.trigger.ProcessEvent(c.Context(), event)

	return c.JSON(fiber.Map{
		"event_id":   event.EventID,
		"executions": results,
	})
}

// SimulateEvent constructs a synthetic event and processes it immediately.
func (h *APIHandlers) SimulateEvent(c fiber.Ctx) error {
	var req SimulateEventRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	results := h.trigger.SimulateEvent(c.Context(),
		events.EventType(req.EventType), req.SubjectID, req.SubjectIdentifier, req.Metadata)

	return c.JSON(fiber.Map{
		"executions": results,
	})
}

// ProcessEventsBatch ingests a batch of events, in parallel when requested.
func (h *APIHandlers) ProcessEventsBatch(c fiber.Ctx) error {
	var req BatchEventsRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	batch := make([]events.LifecycleEvent, 0, len(req.Events))
	for i := range req.Events {
		batch = append(batch, req.Events[i].toEvent())
	}

	results := h.trigger.ProcessEventsBatch(c.Context(), batch, req.Parallel)

	return c.JSON(fiber.Map{
		"results": results,
	})
}

// GetEventHistory lists processed events with optional type/subject filters.
func (h *APIHandlers) GetEventHistory(c fiber.Ctx) error {
	limit := 100

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			return badRequest(c, "Invalid limit parameter")
		}

		limit = parsed
	}

	if limit > maxEventHistoryPage {
		limit = maxEventHistoryPage
	}

	history := h.trigger.EventHistory(
		events.EventType(c.Query("event_type")),
		c.Query("subject_id"),
		limit,
	)

	return c.JSON(fiber.Map{
		"events": history,
		"count":  len(history),
	})
}

// GetEventWorkflows returns the correlation record for an event.
func (h *APIHandlers) GetEventWorkflows(c fiber.Ctx) error {
	eventID := c.Params("id")
	if eventID == "" {
		return badRequest(c, "Event ID is required")
	}

	return c.JSON(fiber.Map{
		"event_id":      eventID,
		"execution_ids": h.trigger.WorkflowsForEvent(eventID),
	})
}

// GetExecution returns the tracked status of one execution.
func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	executionID := c.Params("id")
	if executionID == "" {
		return badRequest(c, "Execution ID is required")
	}

	result, err := h.executor.GetExecutionStatus(c.Context(), executionID)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(result)
}

// CancelExecution cancels an in-flight execution.
func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	executionID := c.Params("id")
	if executionID == "" {
		return badRequest(c, "Execution ID is required")
	}

	if err := h.executor.Cancel(executionID); err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

// GetExecutions lists the local execution history.
func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	flowID := c.Query("flow_id")
	status := models.ExecutionStatus(c.Query("status"))

	results := h.executor.GetExecutionHistory(flowID, status)

	return c.JSON(fiber.Map{
		"executions": results,
		"count":      len(results),
	})
}

// GetSuccessRate reports the success ratio over terminal executions.
func (h *APIHandlers) GetSuccessRate(c fiber.Ctx) error {
	flowID := c.Query("flow_id")

	return c.JSON(fiber.Map{
		"flow_id":      flowID,
		"success_rate": h.executor.GetSuccessRate(flowID),
	})
}

// GetRules lists trigger rules.
func (h *APIHandlers) GetRules(c fiber.Ctx) error {
	enabledOnly := c.Query("enabled") == "true"

	rules := h.trigger.ListRules(enabledOnly)

	responses := make([]RuleResponse, 0, len(rules))
	for _, rule := range rules {
		responses = append(responses, newRuleResponse(rule))
	}

	return c.JSON(fiber.Map{
		"rules": responses,
	})
}

// CreateRule registers a trigger rule. Unknown flow ids fail here.
func (h *APIHandlers) CreateRule(c fiber.Ctx) error {
	var req CreateRuleRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	eventTypes := make([]events.EventType, 0, len(req.EventTypes))
	for _, t := range req.EventTypes {
		eventTypes = append(eventTypes, events.EventType(t))
	}

	rule := trigger.TriggerRule{
		RuleID:     req.RuleID,
		EventTypes: eventTypes,
		FlowID:     req.FlowID,
		Enabled:    req.Enabled,
	}

	if len(req.MetadataEquals) > 0 {
		expected := req.MetadataEquals
		rule.Condition = func(event events.LifecycleEvent) bool {
			for key, value := range expected {
				if event.Metadata[key] != value {
					return false
				}
			}

			return true
		}
	}

	if err := h.trigger.AddRule(c.Context(), rule); err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(newRuleResponse(rule))
}

// DeleteRule removes a rule by id.
func (h *APIHandlers) DeleteRule(c fiber.Ctx) error {
	ruleID := c.Params("id")
	if ruleID == "" {
		return badRequest(c, "Rule ID is required")
	}

	if err := h.trigger.RemoveRule(ruleID); err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// GetFlows lists the flows the automation backend exposes.
func (h *APIHandlers) GetFlows(c fiber.Ctx) error {
	flows, err := h.connector.ListFlows(c.Context(), connector.ListFilter{Type: c.Query("type")})
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{
		"flows": flows,
	})
}

// GetFlowBackendHistory returns the backend-side execution history for a flow.
func (h *APIHandlers) GetFlowBackendHistory(c fiber.Ctx) error {
	flowID := c.Params("id")
	if flowID == "" {
		return badRequest(c, "Flow ID is required")
	}

	limit := 50

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			return badRequest(c, "Invalid limit parameter")
		}

		limit = parsed
	}

	records, err := h.connector.GetExecutionHistory(c.Context(), flowID, limit)
	if err != nil {
		if connector.IsInvalidFlowError(err) {
			return notFound(c, "flow not found")
		}

		return handleError(c, err)
	}

	return c.JSON(fiber.Map{
		"flow_id":    flowID,
		"executions": records,
	})
}

// HealthCheck reports service liveness.
func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
	})
}
