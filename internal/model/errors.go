package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when an item, cursor, or task does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an optimistic status update loses the race.
	ErrConflict = errors.New("status conflict")
)

// TransientFetchError marks a connector failure the scheduler should retry
// with backoff: rate limits, network blips, upstream 5xx.
type TransientFetchError struct {
	Platform   Platform
	RetryAfter time.Duration
	Err        error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("transient fetch error on %s: %v", e.Platform, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// AuthError marks a revoked or expired credential. It pauses scheduling for
// the affected platform until the connection is reauthorized; other
// connectors are unaffected.
type AuthError struct {
	Platform Platform
	Reason   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error on %s: %s", e.Platform, e.Reason)
}

// ExtractionFailure records a per-item text-analysis failure. The item is
// still stored, with no deadline, default priority, and ExtractionSkipped
// set so the UI can tell "no deadline found" from "extraction failed".
type ExtractionFailure struct {
	ItemID string
	Err    error
}

func (e *ExtractionFailure) Error() string {
	return fmt.Sprintf("extraction failed for item %s: %v", e.ItemID, e.Err)
}

func (e *ExtractionFailure) Unwrap() error { return e.Err }

// ConflictError reports a markStatus that was rejected because another
// client changed the item's status first. Never retried automatically.
type ConflictError struct {
	ItemID   string
	Expected Status
	Current  Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("item %s: status is %q, expected %q", e.ItemID, e.Current, e.Expected)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
