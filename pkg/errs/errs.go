// Package errs defines the stable error-kind sentinels used across lattice.
//
// Every package wraps one of these with fmt.Errorf("...: %w", ...) rather
// than minting ad hoc error values, so callers can branch with errors.Is
// regardless of which layer raised the failure.
package errs

import "errors"

var (
	// ErrUnauthorized means a token was missing, invalid, or expired.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden means the operation is disallowed by an allow/deny list or role check.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound means a blob, user, or resource key was absent.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a topology schema invariant was violated.
	ErrConflict = errors.New("conflict")
	// ErrRequestDenied means a quota- or state-based refusal.
	ErrRequestDenied = errors.New("request denied")
	// ErrInvalidRequest means a malformed payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrTopology means a topology invariant violation (duplicate name, missing server).
	ErrTopology = errors.New("topology invariant violated")
	// ErrAbstractCommand means a declared-abstract command reached execute.
	ErrAbstractCommand = errors.New("abstract command executed")
	// ErrServerRequest means a transient transport failure.
	ErrServerRequest = errors.New("server request failed")
	// ErrAggregation means an aggregator returned the wrong shape.
	ErrAggregation = errors.New("aggregation failed")
	// ErrClientConfiguration means a required worker config value was missing.
	ErrClientConfiguration = errors.New("client configuration error")
)
