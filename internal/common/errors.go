// Package common defines shared constants and sentinel errors used across
// the store, transport, crawler and scheduler layers of fedisync. Callers
// should use errors.Is to match these values.
package common

import "errors"

var (
	// Store errors. ErrNotFound is an expected, branch-controlling outcome
	// and is never logged as a failure.
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("revision conflict")
	ErrInvalidDocument = errors.New("invalid document")

	// ErrUnauthenticated means the caller must complete the OAuth
	// authorize/exchange flow before retrying.
	ErrUnauthenticated = errors.New("unauthenticated")

	// Transport errors (network failures and non-2xx responses).
	ErrTransport = errors.New("transport failure")

	// ErrMalformedCursor is returned when a Link header is present but cannot
	// be parsed. Callers treat it as "no cursor".
	ErrMalformedCursor = errors.New("malformed cursor")

	ErrUnknownCommand = errors.New("unknown command")
)
