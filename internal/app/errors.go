package service

import "errors"

// Sentinel errors returned by the service.
var (
	ErrNilStore     = errors.New("service requires both a remote gateway and a local store")
	ErrNotFound     = errors.New("evaluation not found")
	ErrQueueFull    = errors.New("intake queue is full")
	ErrInvalidInput = errors.New("invalid input")
)
