package errors

import "errors"

// Client errors.
var (
	ErrValidation    = errors.New("invalid submission")
	ErrMissingField  = errors.New("required field is empty")
	ErrNoFiles       = errors.New("no files selected")
	ErrTooManyFiles  = errors.New("too many files in one submission")
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// Server/transport errors.
var (
	ErrAPIRequest  = errors.New("API request failed")
	ErrAPIResponse = errors.New("unexpected API response")
)

// Local errors.
var (
	ErrStorage      = errors.New("queue storage failed")
	ErrSweepRunning = errors.New("sync already in progress")
)
