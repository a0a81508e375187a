package rmm

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRecords means the metadata API knows no record for the identifier.
	ErrNoRecords = errors.New("no metadata records")

	// ErrNoComponents means the record carries no components field.
	ErrNoComponents = errors.New("record has no components")
)

// apiError represents a non-success response from the metadata API.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("rmm: %s (status %d)", e.Message, e.StatusCode)
}

// ResolutionError reports that an identifier could not be resolved to a record.
type ResolutionError struct {
	Identifier string
	Reason     string
	Err        error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("rmm: resolve %q: %s: %v", e.Identifier, e.Reason, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}
