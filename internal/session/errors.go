package session

import (
	"errors"
	"fmt"
)

var (
	ErrSessionStopped = errors.New("session stopped before it started streaming")
	ErrAlreadyStarted = errors.New("session already started")
)

// The microphone could not be acquired, or was lost.
type DeviceError struct {
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("microphone unavailable: %v", e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// The link to the server could not be opened, or failed while streaming.
type LinkError struct {
	Err error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link failed: %v", e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}
