package executor

import (
	"log/slog"
	"sync"

	"github.com/dukex/identiflow/pkg/models"
)

// Callback observes execution lifecycle transitions. Callbacks run
// synchronously on the goroutine driving the execution; a misbehaving
// callback is isolated and can never corrupt orchestration state.
type Callback func(result *models.ExecutionResult)

type callbackRegistry struct {
	mu         sync.RWMutex
	onStart    []Callback
	onComplete []Callback
	onError    []Callback
}

func newCallbackRegistry() *callbackRegistry {
	return &callbackRegistry{}
}

func (r *callbackRegistry) addStart(cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.onStart = append(r.onStart, cb)
}

func (r *callbackRegistry) addComplete(cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.onComplete = append(r.onComplete, cb)
}

func (r *callbackRegistry) addError(cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.onError = append(r.onError, cb)
}

func (r *callbackRegistry) fireStart(logger *slog.Logger, result *models.ExecutionResult) {
	r.fire(logger, r.snapshot(&r.onStart), "on_start", result)
}

func (r *callbackRegistry) fireComplete(logger *slog.Logger, result *models.ExecutionResult) {
	r.fire(logger, r.snapshot(&r.onComplete), "on_complete", result)
}

func (r *callbackRegistry) fireError(logger *slog.Logger, result *models.ExecutionResult) {
	r.fire(logger, r.snapshot(&r.onError), "on_error", result)
}

func (r *callbackRegistry) snapshot(list *[]Callback) []Callback {
	r.mu.RLock()
	defer r.mu.RUnlock()

	callbacks := make([]Callback, len(*list))
	copy(callbacks, *list)

	return callbacks
}

// fire invokes callbacks in registration order. Each callback receives its
// own clone of the result and runs behind a recover so one observer cannot
// take down the execution or taint the tracked record.
func (r *callbackRegistry) fire(logger *slog.Logger, callbacks []Callback, hook string, result *models.ExecutionResult) {
	for _, cb := range callbacks {
		func() {
			defer func() {
				if recovered := recover(); recovered != nil {
					logger.Error("Execution callback panicked",
						"hook", hook,
						"execution_id", result.ExecutionID,
						"panic", recovered,
					)
				}
			}()

			cb(result.Clone())
		}()
	}
}
