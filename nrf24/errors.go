package nrf24

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownRegister is returned for a register name not in the table.
	ErrUnknownRegister = errors.New("unknown register")
	// ErrUnknownField is returned for a field name the register does not have.
	ErrUnknownField = errors.New("unknown field")
	// ErrReadOnlyField is returned before any bus traffic when writing a read-only field.
	ErrReadOnlyField = errors.New("read-only field")
	// ErrIllegalStateTransition is returned for a mode change the device does not allow.
	ErrIllegalStateTransition = errors.New("illegal state transition")
	// ErrInvalidConfiguration is returned for out-of-range pipe or radio settings.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrWrongState is returned when an operation needs a different radio state.
	ErrWrongState = errors.New("operation not allowed in current state")
	// ErrNoData is returned by Pipe.Await when the timeout expires first.
	ErrNoData = errors.New("no data")
	// ErrClosed is returned for any bus access after Close.
	ErrClosed = errors.New("device closed")
)

// BusError reports a failed chip-select or SPI transfer.
type BusError struct {
	Op  string
	Err error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("bus %s failed: %v", e.Op, e.Err)
}

func (e *BusError) Unwrap() error { return e.Err }
