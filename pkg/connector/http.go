package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dukex/identiflow/pkg/models"
)

const defaultRequestTimeout = 30 * time.Second

// HTTPConnector talks to the automation backend over its REST API.
type HTTPConnector struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPConnector creates a connector for the backend at baseURL. The token
// is sent as a bearer credential on every request.
func NewHTTPConnector(baseURL, token string, logger *slog.Logger) *HTTPConnector {
	return &HTTPConnector{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: defaultRequestTimeout},
		logger:  logger.With("module", "http_connector"),
	}
}

func (c *HTTPConnector) InvokeFlow(ctx context.Context, flowID string, input map[string]any) (*InvokeResult, error) {
	if input == nil {
		input = make(map[string]any)
	}

	c.logger.InfoContext(ctx, "Invoking flow", "flow_id", flowID)

	var result InvokeResult

	endpoint := fmt.Sprintf("%s/v1/flows/%s/invoke", c.baseURL, url.PathEscape(flowID))

	err := c.do(ctx, http.MethodPost, endpoint, input, &result, flowID)
	if err != nil {
		return nil, &ConnectorError{Op: "invoke flow", ID: flowID, Err: err}
	}

	c.logger.InfoContext(ctx, "Flow invoked", "flow_id", flowID, "execution_id", result.ExecutionID)

	return &result, nil
}

func (c *HTTPConnector) GetStatus(ctx context.Context, executionID string) (*StatusResult, error) {
	var result StatusResult

	endpoint := fmt.Sprintf("%s/v1/executions/%s", c.baseURL, url.PathEscape(executionID))

	err := c.do(ctx, http.MethodGet, endpoint, nil, &result, executionID)
	if err != nil {
		return nil, &ConnectorError{Op: "get status", ID: executionID, Err: err}
	}

	return &result, nil
}

func (c *HTTPConnector) ListFlows(ctx context.Context, filter ListFilter) ([]models.FlowMetadata, error) {
	endpoint := c.baseURL + "/v1/flows"
	if filter.Type != "" {
		endpoint += "?type=" + url.QueryEscape(filter.Type)
	}

	var payload struct {
		Flows []models.FlowMetadata `json:"flows"`
	}

	err := c.do(ctx, http.MethodGet, endpoint, nil, &payload, "")
	if err != nil {
		return nil, &ConnectorError{Op: "list flows", ID: filter.Type, Err: err}
	}

	return payload.Flows, nil
}

func (c *HTTPConnector) GetExecutionHistory(ctx context.Context, flowID string, limit int) ([]models.BackendExecutionRecord, error) {
	endpoint := fmt.Sprintf("%s/v1/flows/%s/executions?limit=%s",
		c.baseURL, url.PathEscape(flowID), strconv.Itoa(limit))

	var payload struct {
		Executions []models.BackendExecutionRecord `json:"executions"`
	}

	err := c.do(ctx, http.MethodGet, endpoint, nil, &payload, flowID)
	if err != nil {
		return nil, &ConnectorError{Op: "get execution history", ID: flowID, Err: err}
	}

	return payload.Executions, nil
}

func (c *HTTPConnector) Close() error {
	c.client.CloseIdleConnections()

	return nil
}

// do performs one request and decodes the JSON response into out, mapping
// HTTP status codes onto the connector error taxonomy.
func (c *HTTPConnector) do(ctx context.Context, method, endpoint string, body map[string]any, out any, subject string) error {
	var bodyReader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}

		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// The backend uses 404 both for unknown flows and unknown
		// executions; the operation decides which sentinel fits.
		if method == http.MethodPost {
			return fmt.Errorf("%w: %s", ErrInvalidFlow, subject)
		}

		return fmt.Errorf("%w: %s", ErrNotFound, subject)
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrInvalidInput, subject)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: backend returned status %d", ErrConnection, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("backend returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
