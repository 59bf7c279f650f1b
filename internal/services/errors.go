package services

import "errors"

// Service errors mapped to HTTP statuses by the transport layer
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrRunNotFound        = errors.New("run not found")
	ErrRunNotRunning      = errors.New("run not running")
	ErrServiceUnavailable = errors.New("service temporarily unavailable")
)
