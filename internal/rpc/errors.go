package rpc

import (
	"errors"
	"fmt"
)

// TransportError means the repository could not be reached (refused, timeout, DNS).
// The whole command is safe to retry.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure calling %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RemoteError is a request the repository rejected.
type RemoteError struct {
	Status  int
	Message string
	File    string
	Line    string
}

func (e *RemoteError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("repository error %d: %s (%s:%s)", e.Status, e.Message, e.File, e.Line)
	}
	return fmt.Sprintf("repository error %d: %s", e.Status, e.Message)
}

// ProtocolError is a response that does not follow the JSON envelope contract.
type ProtocolError struct {
	URL    string
	Status int
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed response from %s (status %d): %v", e.URL, e.Status, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func IsRemoteError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
