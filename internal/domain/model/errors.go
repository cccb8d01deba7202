package model

import "errors"

// Normalization errors.
var (
	ErrMalformed      = errors.New("malformed evaluation record")
	ErrMissingPatient = errors.New("evaluation record has no patient name")
)
