package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidIdentifier is returned when a dataset identifier does not have the
// expected "<scheme>/<authority>/<name>" shape.
var ErrInvalidIdentifier = errors.New("invalid dataset identifier")

// Identifier is the metadata identifier of a dataset, e.g. "ark:/88434/mds2-2106".
type Identifier string

// RootName returns the third "/"-separated segment of the identifier. It names
// the archive and the folder every archive entry is placed under.
func (id Identifier) RootName() (string, error) {
	parts := strings.Split(string(id), "/")
	if len(parts) < 3 {
		return "", fmt.Errorf("%w: %q has fewer than 3 path segments", ErrInvalidIdentifier, id)
	}
	name := strings.TrimSpace(parts[2])
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q has an empty name segment", ErrInvalidIdentifier, id)
	}
	return name, nil
}

// String returns the identifier as a string.
func (id Identifier) String() string {
	return string(id)
}

// RequestID is a UUIDv7 correlating log lines of one request.
type RequestID string

// NewRequestID returns a fresh UUIDv7 request id.
func NewRequestID() (RequestID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate request id: %w", err)
	}
	return RequestID(id.String()), nil
}

// Validate checks that the RequestID is a valid UUIDv7.
func (r RequestID) Validate() error {
	if r == "" {
		return fmt.Errorf("request id cannot be empty")
	}
	id, err := uuid.Parse(string(r))
	if err != nil {
		return fmt.Errorf("request id must be a valid UUID: %w", err)
	}
	if id.Version() != uuid.Version(7) {
		return fmt.Errorf("request id must be a UUIDv7, got v%d", id.Version())
	}
	return nil
}

// String returns the request ID as a string.
func (r RequestID) String() string {
	return string(r)
}
