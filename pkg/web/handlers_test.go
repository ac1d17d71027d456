package web

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/dukex/identiflow/pkg/connector"
	"github.com/dukex/identiflow/pkg/executor"
	"github.com/dukex/identiflow/pkg/trigger"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	sim := connector.NewSimulator(connector.SimulatorConfig{
		MaxLatency: 10 * time.Millisecond,
		Seed:       1,
	}, logger)
	exec := executor.NewExecutor(sim, executor.Config{
		PollInterval: 2 * time.Millisecond,
	}, logger)
	trg := trigger.NewTrigger(exec, sim, trigger.Config{WaitForCompletion: true}, logger)
	require.NoError(t, trg.RegisterDefaultRules(t.Context()))

	handlers := NewAPIHandlers(trg, exec, sim, validator.New(validator.WithRequiredStructEnabled()))

	app := fiber.New()

	app.Post("/events", handlers.ProcessEvent)
	app.Post("/events/simulate", handlers.SimulateEvent)
	app.Post("/events/batch", handlers.ProcessEventsBatch)
	app.Get("/events", handlers.GetEventHistory)
	app.Get("/events/:id/executions", handlers.GetEventWorkflows)
	app.Get("/executions", handlers.GetExecutions)
	app.Get("/executions/:id", handlers.GetExecution)
	app.Post("/executions/:id/cancel", handlers.CancelExecution)
	app.Get("/rules", handlers.GetRules)
	app.Post("/rules", handlers.CreateRule)
	app.Delete("/rules/:id", handlers.DeleteRule)
	app.Get("/flows", handlers.GetFlows)
	app.Get("/flows/:id/executions", handlers.GetFlowBackendHistory)
	app.Get("/stats/success-rate", handlers.GetSuccessRate)
	app.Get("/health", handlers.HealthCheck)

	return app
}

func doJSON(t *testing.T, app *fiber.App, method, target string, payload any) (*http.Response, map[string]any) {
	t.Helper()

	var body io.Reader

	if payload != nil {
		encoded, err := json.Marshal(payload)
		require.NoError(t, err)

		body = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, target, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = resp.Body.Close()
	})

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	decoded := map[string]any{}
	if len(raw) > 0 && resp.Header.Get("Content-Type") != "" {
		_ = json.Unmarshal(raw, &decoded)
	}

	return resp, decoded
}

func TestProcessEventEndpoint(t *testing.T) {
	app := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/events", map[string]any{
		"event_type":         "user.lifecycle.create",
		"subject_id":         "user-001",
		"subject_identifier": "alice@example.com",
	})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["event_id"])

	executions, ok := body["executions"].([]any)
	require.True(t, ok)
	require.Len(t, executions, 1)

	execution, ok := executions[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "flow_new_hire_onboarding", execution["flow_id"])
	assert.Equal(t, "success", execution["status"])
}

func TestProcessEventEndpoint_MissingEventType(t *testing.T) {
	app := setupTestApp(t)

	resp, _ := doJSON(t, app, http.MethodPost, "/events", map[string]any{
		"subject_id": "user-001",
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSimulateEventEndpoint(t *testing.T) {
	app := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/events/simulate", map[string]any{
		"event_type":         "user.lifecycle.deactivate",
		"subject_id":         "user-002",
		"subject_identifier": "bob@example.com",
	})

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	executions, ok := body["executions"].([]any)
	require.True(t, ok)
	assert.Len(t, executions, 1)
}

func TestBatchEventsEndpoint(t *testing.T) {
	app := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/events/batch", map[string]any{
		"parallel": true,
		"events": []map[string]any{
			{"event_id": "evt-batch-1", "event_type": "user.lifecycle.create", "subject_id": "user-001"},
			{"event_id": "evt-batch-2", "event_type": "user.authentication.sso.logout", "subject_id": "user-002"},
		},
	})

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	results, ok := body["results"].(map[string]any)
	require.True(t, ok)
	require.Len(t, results, 2)
	assert.Len(t, results["evt-batch-1"], 1)
	assert.Empty(t, results["evt-batch-2"])
}

func TestBatchEventsEndpoint_EmptyBatchRejected(t *testing.T) {
	app := setupTestApp(t)

	resp, _ := doJSON(t, app, http.MethodPost, "/events/batch", map[string]any{
		"events": []map[string]any{},
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEventHistoryEndpoint(t *testing.T) {
	app := setupTestApp(t)

	for range 3 {
		resp, _ := doJSON(t, app, http.MethodPost, "/events", map[string]any{
			"event_type": "user.authentication.sso.logout",
			"subject_id": "user-001",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, body := doJSON(t, app, http.MethodGet, "/events?event_type=user.authentication.sso.logout&limit=2", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 2, body["count"], 0)

	resp, _ = doJSON(t, app, http.MethodGet, "/events?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEventWorkflowsEndpoint(t *testing.T) {
	app := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/events", map[string]any{
		"event_id":   "evt-correlated",
		"event_type": "user.lifecycle.create",
		"subject_id": "user-001",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	executions := body["executions"].([]any)
	executionID := executions[0].(map[string]any)["execution_id"]

	resp, body = doJSON(t, app, http.MethodGet, "/events/evt-correlated/executions", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "evt-correlated", body["event_id"])

	ids, ok := body["execution_ids"].([]any)
	require.True(t, ok)
	require.Len(t, ids, 1)
	assert.Equal(t, executionID, ids[0])
}

func TestGetExecutionEndpoint(t *testing.T) {
	app := setupTestApp(t)

	_, body := doJSON(t, app, http.MethodPost, "/events", map[string]any{
		"event_type": "user.lifecycle.create",
		"subject_id": "user-001",
	})

	executionID := body["executions"].([]any)[0].(map[string]any)["execution_id"].(string)

	resp, execution := doJSON(t, app, http.MethodGet, "/executions/"+executionID, nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, executionID, execution["execution_id"])
	assert.Equal(t, "success", execution["status"])

	resp, _ = doJSON(t, app, http.MethodGet, "/executions/exec-missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelExecutionEndpoint_Terminal(t *testing.T) {
	app := setupTestApp(t)

	_, body := doJSON(t, app, http.MethodPost, "/events", map[string]any{
		"event_type": "user.lifecycle.create",
		"subject_id": "user-001",
	})

	executionID := body["executions"].([]any)[0].(map[string]any)["execution_id"].(string)

	// The execution already completed, so cancellation is rejected.
	resp, _ := doJSON(t, app, http.MethodPost, "/executions/"+executionID+"/cancel", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/executions/exec-missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetExecutionsAndSuccessRate(t *testing.T) {
	app := setupTestApp(t)

	for range 2 {
		resp, _ := doJSON(t, app, http.MethodPost, "/events", map[string]any{
			"event_type": "user.lifecycle.create",
			"subject_id": "user-001",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, body := doJSON(t, app, http.MethodGet, "/executions?flow_id=flow_new_hire_onboarding", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 2, body["count"], 0)

	resp, body = doJSON(t, app, http.MethodGet, "/stats/success-rate?flow_id=flow_new_hire_onboarding", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 1.0, body["success_rate"], 1e-9)
}

func TestRulesEndpoints(t *testing.T) {
	app := setupTestApp(t)

	resp, created := doJSON(t, app, http.MethodPost, "/rules", map[string]any{
		"rule_id":     "rule_risky_login",
		"event_types": []string{"user.authentication.risk.detected"},
		"flow_id":     "flow_mfa_remediation",
		"enabled":     true,
		"metadata_equals": map[string]string{
			"risk_level": "high",
		},
	})

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "rule_risky_login", created["rule_id"])
	assert.Equal(t, true, created["has_condition"])
	assert.Equal(t, false, created["has_transformer"])

	// The declarative condition gates dispatch.
	resp, body := doJSON(t, app, http.MethodPost, "/events", map[string]any{
		"event_type": "user.authentication.risk.detected",
		"subject_id": "user-001",
		"metadata":   map[string]any{"risk_level": "low"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["executions"])

	resp, body = doJSON(t, app, http.MethodPost, "/events", map[string]any{
		"event_type": "user.authentication.risk.detected",
		"subject_id": "user-001",
		"metadata":   map[string]any{"risk_level": "high"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["executions"], 1)

	// Duplicate registration conflicts.
	resp, _ = doJSON(t, app, http.MethodPost, "/rules", map[string]any{
		"rule_id":     "rule_risky_login",
		"event_types": []string{"user.authentication.risk.detected"},
		"flow_id":     "flow_mfa_remediation",
		"enabled":     true,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Unknown flows fail at registration time.
	resp, _ = doJSON(t, app, http.MethodPost, "/rules", map[string]any{
		"rule_id":     "rule_ghost",
		"event_types": []string{"user.lifecycle.create"},
		"flow_id":     "flow_ghost",
		"enabled":     true,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodDelete, "/rules/rule_risky_login", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodDelete, "/rules/rule_risky_login", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetFlowsEndpoint(t *testing.T) {
	app := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodGet, "/flows", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	flows, ok := body["flows"].([]any)
	require.True(t, ok)
	assert.Len(t, flows, len(connector.DefaultFlowCatalog()))

	resp, body = doJSON(t, app, http.MethodGet, "/flows?type=remediation", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["flows"], 2)
}

func TestFlowBackendHistoryEndpoint(t *testing.T) {
	app := setupTestApp(t)

	resp, _ := doJSON(t, app, http.MethodPost, "/events", map[string]any{
		"event_type": "user.lifecycle.create",
		"subject_id": "user-001",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, app, http.MethodGet, "/flows/flow_new_hire_onboarding/executions", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["executions"], 1)

	resp, _ = doJSON(t, app, http.MethodGet, "/flows/flow_ghost/executions", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	app := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}
