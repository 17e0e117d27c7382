package types

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRoomIdentifier = errors.New("invalid room identifier")
	ErrRoomCreationFailed    = errors.New("room creation failed")
	ErrCipherUnavailable     = errors.New("cipher unavailable")
	ErrNotConnected          = errors.New("not connected")
	ErrTransportClosed       = errors.New("transport closed")
)

// ServiceError describes a failed call to the room service.
type ServiceError struct {
	Op         string `json:"op"`
	StatusCode int    `json:"status_code,omitempty"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Message, e.Err.Error())
	}

	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}
