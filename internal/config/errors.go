package config

import "errors"

// Sentinel errors. Load wraps file and env failures in ErrLoadConfig and
// Validate wraps rejected settings in ErrInvalidConfig.
var (
	ErrInvalidConfig = errors.New("invalid evalsync setting")
	ErrLoadConfig    = errors.New("cannot load evalsync configuration")
)
