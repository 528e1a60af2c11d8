// Package errs holds the small set of sentinel errors components wrap their
// failures in, so internal/httpapi can map them to HTTP status codes with
// errors.Is instead of string matching.
package errs

import "errors"

var (
	// ErrNotFound means the referenced device, call, or resource does not
	// exist (or, for a call id, is outside the grace window).
	ErrNotFound = errors.New("not found")

	// ErrValidation means the caller's request failed input validation.
	ErrValidation = errors.New("validation failed")

	// ErrUpstreamUnavailable means a required upstream dependency (media
	// engine, AI gateway) could not service the request.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrTimeout means an operation exceeded its deadline.
	ErrTimeout = errors.New("timeout")
)
