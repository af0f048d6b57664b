package store

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable means the backend could not be reached at all
	// (bad path, connection refused, closed handle).
	ErrStoreUnavailable = errors.New("memory store unavailable")

	// ErrMalformedRecord marks a single row that failed to decode.
	// Callers drop the row; it never fails a whole query.
	ErrMalformedRecord = errors.New("malformed memory record")

	ErrInvalidEventType  = errors.New("invalid event type")
	ErrInvalidConfidence = errors.New("confidence must be in [0,1]")
	ErrEmptyKey          = errors.New("memory key is empty")
)

// MaxKeyLength caps memory keys and scopes (VARCHAR(255) in managed mode).
const MaxKeyLength = 255

// ValidateEventType checks membership in the known event type set.
func ValidateEventType(t string) error {
	switch t {
	case EventSpawn, EventComplete, EventError:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidEventType, t)
}

// ValidateKey rejects empty or oversized keys.
func ValidateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("key exceeds %d bytes", MaxKeyLength)
	}
	return nil
}

// ValidateConfidence range-checks a confidence weight.
func ValidateConfidence(c float64) error {
	if c < 0 || c > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidConfidence, c)
	}
	return nil
}
