package model

import "fmt"

// ConnectionError is a transport failure. Supervisors retry it.
type ConnectionError struct {
	Connection string
	Endpoint   string
	Err        error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s (%s): %v", e.Connection, e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NormalizationError marks a payload that cannot become a canonical event.
// The payload is dropped.
type NormalizationError struct {
	SourceID string
	Tag      string
	Reason   string
	Err      error
}

func (e *NormalizationError) Error() string {
	msg := fmt.Sprintf("normalize %s/%s: %s", e.SourceID, e.Tag, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NormalizationError) Unwrap() error { return e.Err }

type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

// InvariantViolation reports corrupt lineage state. The lineage is reset.
type InvariantViolation struct {
	LineageID string
	Reason    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("lineage %s: invariant violated: %s", e.LineageID, e.Reason)
}
