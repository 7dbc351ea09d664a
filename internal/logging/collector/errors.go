package collector

import (
	"fmt"
)

// ConfigurationError reports an unusable endpoint, client key or pipeline
// setting.
type ConfigurationError struct {
	Name    string
	Value   any
	Message string
}

func (err *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s=%v: %s", err.Name, err.Value, err.Message)
}

// TransportError covers failures before a response was received: request
// encoding, connection and read errors.
type TransportError struct {
	Op  string
	Err error
}

func (err *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", err.Op, err.Err)
}

func (err *TransportError) Unwrap() error {
	return err.Err
}

// ServerError is a non-2xx response carrying the collector's {"error": ...}
// body.
type ServerError struct {
	StatusCode int
	Message    string
}

func (err *ServerError) Error() string {
	return fmt.Sprintf("server error (status %d): %s", err.StatusCode, err.Message)
}

// UnknownServerError is a non-2xx response whose body could not be parsed.
type UnknownServerError struct {
	StatusCode int
}

func (err *UnknownServerError) Error() string {
	return fmt.Sprintf("unknown server error, status code %d", err.StatusCode)
}
