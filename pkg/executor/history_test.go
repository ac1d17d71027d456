package executor

import (
	"testing"
	"time"

	"github.com/dukex/identiflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPendingResult(executionID, flowID string) *models.ExecutionResult {
	return &models.ExecutionResult{
		ExecutionID: executionID,
		FlowID:      flowID,
		Status:      models.ExecutionStatusPending,
		StartedAt:   time.Now().UTC(),
	}
}

func TestHistoryStore_TransitionUnknown(t *testing.T) {
	store := newHistoryStore()

	result, changed := store.transition("exec-missing", models.ExecutionStatusRunning, nil, "", nil)

	assert.Nil(t, result)
	assert.False(t, changed)
}

func TestHistoryStore_TerminalNeverRegresses(t *testing.T) {
	store := newHistoryStore()
	store.append(newPendingResult("exec-1", "flow_a"))

	final, changed := store.transition("exec-1", models.ExecutionStatusSuccess, map[string]any{"ok": true}, "", nil)
	require.True(t, changed)
	require.True(t, final.IsSuccess())

	// A late failure report cannot overwrite the recorded success.
	after, changed := store.transition("exec-1", models.ExecutionStatusFailed, nil, "late report", nil)
	assert.False(t, changed)
	assert.True(t, after.IsSuccess())
	assert.Empty(t, after.Error)
	assert.Equal(t, final.CompletedAt, after.CompletedAt)
}

func TestHistoryStore_CompletedAtOnlyWhenTerminal(t *testing.T) {
	store := newHistoryStore()
	store.append(newPendingResult("exec-1", "flow_a"))

	running, changed := store.transition("exec-1", models.ExecutionStatusRunning, nil, "", nil)
	require.True(t, changed)
	assert.Nil(t, running.CompletedAt)

	completedAt := time.Now().UTC().Add(-time.Minute)

	failed, changed := store.transition("exec-1", models.ExecutionStatusFailed, nil, "boom", &completedAt)
	require.True(t, changed)
	require.NotNil(t, failed.CompletedAt)
	assert.Equal(t, completedAt, *failed.CompletedAt)
	assert.Equal(t, "boom", failed.Error)
}

func TestHistoryStore_AppendIgnoresDuplicates(t *testing.T) {
	store := newHistoryStore()
	store.append(newPendingResult("exec-1", "flow_a"))
	store.append(newPendingResult("exec-1", "flow_b"))

	results := store.list("", "")
	require.Len(t, results, 1)
	assert.Equal(t, "flow_a", results[0].FlowID)
}

func TestHistoryStore_ListFilters(t *testing.T) {
	store := newHistoryStore()
	store.append(newPendingResult("exec-1", "flow_a"))
	store.append(newPendingResult("exec-2", "flow_b"))
	store.append(newPendingResult("exec-3", "flow_a"))

	_, changed := store.transition("exec-3", models.ExecutionStatusSuccess, nil, "", nil)
	require.True(t, changed)

	assert.Len(t, store.list("", ""), 3)
	assert.Len(t, store.list("flow_a", ""), 2)
	assert.Len(t, store.list("flow_a", models.ExecutionStatusSuccess), 1)
	assert.Empty(t, store.list("flow_b", models.ExecutionStatusSuccess))

	// Append order is preserved.
	flowA := store.list("flow_a", "")
	assert.Equal(t, "exec-1", flowA[0].ExecutionID)
	assert.Equal(t, "exec-3", flowA[1].ExecutionID)
}

func TestHistoryStore_ListReturnsClones(t *testing.T) {
	store := newHistoryStore()
	store.append(newPendingResult("exec-1", "flow_a"))

	store.list("", "")[0].Status = models.ExecutionStatusFailed

	fresh, ok := store.get("exec-1")
	require.True(t, ok)
	assert.Equal(t, models.ExecutionStatusPending, fresh.Status)
}

func TestHistoryStore_SuccessRate(t *testing.T) {
	store := newHistoryStore()

	assert.Zero(t, store.successRate(""))

	store.append(newPendingResult("exec-1", "flow_a"))
	store.append(newPendingResult("exec-2", "flow_a"))
	store.append(newPendingResult("exec-3", "flow_b"))
	store.append(newPendingResult("exec-4", "flow_a"))

	store.transition("exec-1", models.ExecutionStatusSuccess, nil, "", nil)
	store.transition("exec-2", models.ExecutionStatusFailed, nil, "boom", nil)
	store.transition("exec-3", models.ExecutionStatusTimedOut, nil, "timeout", nil)
	// exec-4 stays pending and is excluded.

	assert.InDelta(t, 1.0/3.0, store.successRate(""), 1e-9)
	assert.InDelta(t, 0.5, store.successRate("flow_a"), 1e-9)
	assert.Zero(t, store.successRate("flow_b"))
	assert.Zero(t, store.successRate("flow_missing"))
}
