package shared

import "errors"

// Error classes. Domain sentinels wrap one of these so transports can map them.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks user input that breaks a business rule.
	ErrValidation = errors.New("validation failed")
	// ErrPrecondition marks an operation invalid for the current state.
	ErrPrecondition = errors.New("precondition failed")
	// ErrIntegrity marks setup or stored-data problems.
	ErrIntegrity = errors.New("integrity violation")
)

type classified struct {
	msg   string
	class error
}

func (e *classified) Error() string { return e.msg }
func (e *classified) Unwrap() error { return e.class }

// NewValidation returns a sentinel in the validation class.
func NewValidation(msg string) error { return &classified{msg: msg, class: ErrValidation} }

// NewPrecondition returns a sentinel in the precondition class.
func NewPrecondition(msg string) error { return &classified{msg: msg, class: ErrPrecondition} }

// NewNotFound returns a sentinel in the not-found class.
func NewNotFound(msg string) error { return &classified{msg: msg, class: ErrNotFound} }

// NewIntegrity returns a sentinel in the integrity class.
func NewIntegrity(msg string) error { return &classified{msg: msg, class: ErrIntegrity} }

// Result is the (success, error message) shape returned to collaborators.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ResultOf converts an operation error into a Result.
func ResultOf(err error) Result {
	if err == nil {
		return Result{Success: true}
	}
	return Result{Error: err.Error()}
}
