package models

import (
	"errors"
	"fmt"
)

var (
	ErrLocationUnavailable   = errors.New("no location available")
	ErrInvalidSeverity       = errors.New("invalid severity")
	ErrCoordinatesOutOfRange = errors.New("coordinates out of range")
)

const (
	SignInFailedMessage   = "Invalid email or password. Please try again."
	RegisterFailedMessage = "Please enter email and password."
)

// AuthError carries the fixed user-facing message; the cause is kept for logs.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// StoreWriteError marks a failed create. It is recoverable by resubmitting.
type StoreWriteError struct {
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write failed: %v", e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }
