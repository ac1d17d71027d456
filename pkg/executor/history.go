package executor

import (
	"sync"
	"time"

	"github.com/dukex/identiflow/pkg/models"
)

// historyStore is the executor's append-or-update-by-id ordered collection of
// execution results. All mutation goes through the executor; callers only ever
// see clones.
type historyStore struct {
	mu      sync.RWMutex
	ordered []*models.ExecutionResult
	byID    map[string]*models.ExecutionResult
}

func newHistoryStore() *historyStore {
	return &historyStore{
		byID: make(map[string]*models.ExecutionResult),
	}
}

// append registers a new execution. Appending an id already present is a
// programming error upstream and is ignored to keep entries unique.
func (h *historyStore) append(result *models.ExecutionResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.byID[result.ExecutionID]; exists {
		return
	}

	h.ordered = append(h.ordered, result)
	h.byID[result.ExecutionID] = result
}

// transition moves an execution to the given status under the store lock,
// updating completion fields. Terminal states never regress: a transition on
// an already-terminal execution is a no-op and reports false.
func (h *historyStore) transition(executionID string, status models.ExecutionStatus, output map[string]any, errMsg string, completedAt *time.Time) (*models.ExecutionResult, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	result, ok := h.byID[executionID]
	if !ok {
		return nil, false
	}

	if result.Status.IsTerminal() {
		return result.Clone(), false
	}

	result.Status = status

	if status.IsTerminal() {
		if completedAt == nil {
			now := time.Now().UTC()
			completedAt = &now
		}

		result.CompletedAt = completedAt
	}

	if status == models.ExecutionStatusSuccess {
		result.OutputData = output
	}

	if errMsg != "" {
		result.Error = errMsg
	}

	return result.Clone(), true
}

func (h *historyStore) get(executionID string) (*models.ExecutionResult, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result, ok := h.byID[executionID]
	if !ok {
		return nil, false
	}

	return result.Clone(), true
}

// list returns clones matching the optional flow and status filters, in
// append order.
func (h *historyStore) list(flowID string, status models.ExecutionStatus) []*models.ExecutionResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	results := make([]*models.ExecutionResult, 0, len(h.ordered))

	for _, result := range h.ordered {
		if flowID != "" && result.FlowID != flowID {
			continue
		}

		if status != "" && result.Status != status {
			continue
		}

		results = append(results, result.Clone())
	}

	return results
}

// successRate is successes divided by terminal-count among matching entries.
// Exactly 0 when no terminal executions exist.
func (h *historyStore) successRate(flowID string) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var terminal, successes int

	for _, result := range h.ordered {
		if flowID != "" && result.FlowID != flowID {
			continue
		}

		if !result.Status.IsTerminal() {
			continue
		}

		terminal++

		if result.Status == models.ExecutionStatusSuccess {
			successes++
		}
	}

	if terminal == 0 {
		return 0
	}

	return float64(successes) / float64(terminal)
}
