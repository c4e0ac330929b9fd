package space

import "errors"

// Sentinel causes carried by ConfigError. Use errors.Is to test for them.
var (
	ErrDuplicateParameter = errors.New("parameter already registered")
	ErrInvalidRange       = errors.New("invalid range: low must not exceed high")
	ErrMissingRange       = errors.New("invalid range: low and high values are needed")
	ErrUnknownParameter   = errors.New("unknown parameter")
)

// ErrConfiguration matches any ConfigError via errors.Is.
var ErrConfiguration = &ConfigError{}

// ConfigError is a construction-time failure. It is fatal and surfaced
// before any evaluation happens.
type ConfigError struct {
	Param string
	Err   error
}

func (e *ConfigError) Error() string {
	msg := "configuration error"
	if e.Param != "" {
		msg += ": parameter " + e.Param
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func (e *ConfigError) Is(target error) bool {
	_, ok := target.(*ConfigError)
	return ok
}
