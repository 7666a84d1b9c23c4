package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrLockHeld           = errors.New("lock already held")
	ErrTransport          = errors.New("quote api transport failure")
	ErrNoValidOption      = errors.New("no valid shipping option")
	ErrAllAttemptsFailed  = errors.New("all attempts failed")
	ErrInvalidDestination = errors.New("invalid destination postal code")
	ErrInvalidListing     = errors.New("invalid listing id")
	ErrTimeout            = errors.New("freight computation timed out")
)
