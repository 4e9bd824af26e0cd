package model

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the pipeline stages. Callers inspect errors with
// errors.Is against these sentinels; eris wrapping preserves the chain.
var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicateIngestion  = errors.New("duplicate ingestion")
	ErrValidationFailed    = errors.New("validation failed")
	ErrModelNotAllowed     = errors.New("valuation model not allowed for sector")
	ErrModelNotImplemented = errors.New("valuation model not implemented")
	ErrMissingMetric       = errors.New("required metric missing")
	ErrArithmeticGuard     = errors.New("arithmetic guard violated")
	ErrInsufficientData    = errors.New("insufficient data")
	ErrTransactionFailure  = errors.New("transaction failure")
)

// NotFoundError reports which entity lookup came back empty.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFound returns a NotFoundError for the given entity and key.
func NewNotFound(entity, key string) *NotFoundError {
	return &NotFoundError{Entity: entity, Key: key}
}

// TransactionError wraps an infrastructure failure while committing a unit of
// work. It is the only error class callers are expected to retry.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() []error { return []error{ErrTransactionFailure, e.Err} }

// NewTransactionError wraps err as a TransactionError for operation op.
func NewTransactionError(op string, err error) *TransactionError {
	return &TransactionError{Op: op, Err: err}
}
