package repository

import "errors"

// Sentinel kinds for snapshot lookups.
var (
	ErrNotFound = errors.New("no snapshot published")
	ErrExpired  = errors.New("snapshot expired")
)
