package connector

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection indicates the automation backend was unreachable.
	ErrConnection = errors.New("automation backend unreachable")
	// ErrInvalidFlow indicates the flow id is unknown to the backend.
	ErrInvalidFlow = errors.New("unknown flow")
	// ErrNotFound indicates the execution id is unknown to the backend.
	ErrNotFound = errors.New("execution not found")
	// ErrInvalidInput indicates the invocation input violated the flow's input schema.
	ErrInvalidInput = errors.New("invalid flow input")
)

// ConnectorError wraps backend errors with the operation and subject id.
type ConnectorError struct {
	Op  string // Operation name
	ID  string // Flow or execution id
	Err error  // Underlying sentinel or transport error
}

func (e *ConnectorError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *ConnectorError) Unwrap() error {
	return e.Err
}

// IsConnectionError checks if an error means the backend could not be reached.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnection)
}

// IsInvalidFlowError checks if an error means the flow id is unknown.
func IsInvalidFlowError(err error) bool {
	return errors.Is(err, ErrInvalidFlow)
}

// IsNotFoundError checks if an error means the execution id is unknown.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidInputError checks if an error means the input failed schema validation.
func IsInvalidInputError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
