package domain

import (
	"context"
	"errors"
	"fmt"
)

// OperationCreateEntry names the command in the idempotency ledger.
const OperationCreateEntry = "time_entry.create"

// Command records minutes of work against a case service. Internal
// activity carries no case or service and lands on the employee's
// internal case.
type Command struct {
	CaseID         string `json:"case_id" validate:"required_unless=IsInternal true,max=64"`
	ServiceID      string `json:"service_id" validate:"required_unless=IsInternal true,excluded_if=IsInternal true,max=64"`
	Minutes        int    `json:"minutes" validate:"gt=0"`
	EmployeeID     string `json:"employee_id" validate:"required,max=64"`
	Date           string `json:"date" validate:"required,datetime=2006-01-02"`
	IdempotencyKey string `json:"idempotency_key" validate:"max=128"`
	IsInternal     bool   `json:"is_internal"`
	TaskID         string `json:"task_id,omitempty" validate:"max=64"`
	Action         string `json:"action,omitempty" validate:"max=512"`
}

// Result is stored verbatim under the idempotency key and returned
// unchanged on every replay.
type Result struct {
	EntryID           string   `json:"entry_id"`
	CaseID            string   `json:"case_id"`
	Success           bool     `json:"success"`
	CachedServiceUsed *float64 `json:"cached_service_used,omitempty"`

	// Replayed is set when the answer came from the idempotency ledger.
	Replayed bool `json:"-"`
}

type Service interface {
	Submit(ctx context.Context, cmd Command) (*Result, error)
}

var (
	ErrInvalidCommand      = errors.New("invalid_time_entry")
	ErrTransactionConflict = errors.New("transaction_conflict")
)

// ValidationError names the offending field. It matches ErrInvalidCommand.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Code)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidCommand }
