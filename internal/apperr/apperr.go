// Package apperr holds the error taxonomy shared by the ledger pipeline.
// Callers match with errors.Is; every concrete error wraps one of the
// sentinels below.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrExtractionEmpty means the oracle text yielded zero label:amount matches.
	ErrExtractionEmpty = errors.New("no data extracted")

	// ErrDecryption means a ledger field could not be decrypted with the current key.
	ErrDecryption = errors.New("decryption failed")

	// ErrUpstreamUnavailable means the key-value store or the oracle could not be reached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrMalformedAmount means an amount could not be coerced to an integer.
	ErrMalformedAmount = errors.New("malformed amount")

	// ErrNoData means the session holds no ledger entries.
	ErrNoData = errors.New("no ledger data for session")

	// ErrInvalidInput means a caller-supplied value was rejected before any I/O.
	ErrInvalidInput = errors.New("invalid input")
)

// Unavailable wraps err as a retryable upstream failure for operation op.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUpstreamUnavailable, err)
}

// IsRetryable reports whether err should be retried by the transport boundary.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}
