package models

import "errors"

var (
	// ErrValidation marks a user input fault, such as a missing barcode.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned when a product cannot be resolved.
	ErrNotFound = errors.New("not found")

	// ErrUpstreamUnavailable covers network, timeout and format failures of the
	// external product source. It never leaves the resolver.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrStorage wraps persistence failures.
	ErrStorage = errors.New("storage failure")
)
