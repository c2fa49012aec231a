package expense

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks a file that cannot be imported at all.
	ErrValidation = errors.New("import validation failed")

	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrDuplicateHash is returned by ExpenseStore.CreateExpense when the
	// company already has an expense with the same dedup hash.
	ErrDuplicateHash = errors.New("duplicate expense")

	ErrExpenseNotFound = errors.New("expense not found")
	ErrBatchNotFound   = errors.New("import batch not found")

	ErrInvalidExpenseTransition = errors.New("invalid expense transition")

	// ErrBatchConflict is returned when a job is not in the state a write
	// expected, typically because another run holds it.
	ErrBatchConflict = errors.New("import batch state conflict")

	errEmptyValue = errors.New("empty value")
)

// SchemaError is a whole-file failure: missing columns, an empty file, or
// a file that cannot be read.
type SchemaError struct {
	Missing []string
	Reason  string
}

func (e *SchemaError) Error() string {
	if len(e.Missing) > 0 {
		return "missing required columns: " + strings.Join(e.Missing, ", ")
	}
	return e.Reason
}

func (e *SchemaError) Unwrap() error { return ErrValidation }

// RowError is a failure confined to one data row.
type RowError struct {
	Row    int
	Column string
	Err    error
}

func (e *RowError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("row %d: %s: %v", e.Row, e.Column, e.Err)
	}
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

func IsNotFound(err error) bool {
	return errors.Is(err, ErrExpenseNotFound) || errors.Is(err, ErrBatchNotFound)
}

// StateConflict reports a state write that lost to another transition.
func StateConflict(id ExpenseID, current, expected ExpenseState) error {
	return fmt.Errorf("%w: expense %s is %s, expected %s", ErrInvalidExpenseTransition, id, current, expected)
}

// BatchConflict reports a job found in an unexpected state.
func BatchConflict(id BatchID, current BatchState) error {
	return fmt.Errorf("%w: import batch %s is %s", ErrBatchConflict, id, current)
}
