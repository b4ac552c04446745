package ecocito

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection matches every *ConnectionError.
	ErrConnection = errors.New("cannot connect to ecocito")
	// ErrInvalidAuthentication matches every *InvalidAuthError.
	ErrInvalidAuthentication = errors.New("invalid authentication")
)

// ConnectionError is a transport level failure: the request could not be
// made or the portal answered with a non-2xx status.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err.Error())
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}

// InvalidAuthError means the portal rejected the credentials or the session
// it was given. Message is the portal's own explanation, if it gave one.
type InvalidAuthError struct {
	Message string
}

func (e *InvalidAuthError) Error() string {
	if e.Message == "" {
		return ErrInvalidAuthentication.Error()
	}
	return fmt.Sprintf("%s: %s", ErrInvalidAuthentication.Error(), e.Message)
}

func (e *InvalidAuthError) Is(target error) bool {
	return target == ErrInvalidAuthentication
}

// PortalError is an application level error page returned in place of data.
type PortalError struct {
	Message string
}

func (e *PortalError) Error() string {
	return fmt.Sprintf("ecocito: %s", e.Message)
}

// StatusError is the cause of a ConnectionError produced by a non-2xx response.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %s", e.Status)
}
