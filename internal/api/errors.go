package api

import (
	"errors"
	"fmt"
)

// StatusError is a response that arrived with a non-2xx status.
type StatusError struct {
	Code int
	Text string
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d - %s", e.Code, e.Text)
}

// TransportError covers requests that never completed: dial failures,
// timeouts, unreadable or undecodable bodies.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ChatFailureText is the assistant-visible text for a failed chat call.
func ChatFailureText(err error) string {
	var se *StatusError
	if errors.As(err, &se) {
		return "Error: " + se.Error()
	}
	return "Error calling API: " + detail(err)
}

func detail(err error) string {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Err.Error()
	}
	return err.Error()
}
