package snap

import (
	"errors"
	"fmt"
)

var (
	// ErrInconsistentDelta marks a delta that cannot be applied to the base it
	// claims to extend. It is always recoverable by resynchronising.
	ErrInconsistentDelta = errors.New("inconsistent delta")
	// ErrDuplicateKey is returned when a snapshot is built with a repeated key.
	ErrDuplicateKey = errors.New("duplicate item key")
)

// InconsistentDeltaError describes why a delta was rejected.
type InconsistentDeltaError struct {
	Key    ItemKey
	Reason string
}

func (e *InconsistentDeltaError) Error() string {
	return fmt.Sprintf("inconsistent delta: item %s: %s", e.Key, e.Reason)
}

// Unwrap lets errors.Is match ErrInconsistentDelta.
func (e *InconsistentDeltaError) Unwrap() error {
	return ErrInconsistentDelta
}

func inconsistent(key ItemKey, format string, args ...any) error {
	return &InconsistentDeltaError{Key: key, Reason: fmt.Sprintf(format, args...)}
}
