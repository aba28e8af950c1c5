// Package transport provides the byte-stream abstraction codec frames ride
// over: a TCP socket or a serial (RS-232/RS-485) line. Neither
// implementation understands Modbus framing — that's codec's job.
package transport

import (
	"fmt"
	"time"
)

// Transport is a bidirectional byte stream with a connect/disconnect
// lifecycle and two read disciplines:
//
//   - ReadExact is used by MBAP framing: read exactly n bytes or fail.
//   - ReadAvailableUntilIdle is used by RTU framing (serial, or RTU framing
//     carried over a raw TCP socket): read until inter-frame silence.
//
// A single timeout governs connect and both read disciplines.
type Transport interface {
	// Connect opens the underlying socket or port within the configured
	// timeout. Calling Connect while already connected is a no-op.
	Connect() error

	// WriteAll blocks until every byte is handed to the kernel/driver or the
	// transport is broken.
	WriteAll(b []byte) error

	// ReadExact reads exactly n bytes within the configured timeout. A short
	// read surfaces as IOError("closed"); a fully-elapsed deadline surfaces
	// as Timeout.
	ReadExact(n int) ([]byte, error)

	// ReadAvailableUntilIdle reads at least one byte (blocking up to the
	// configured timeout; zero bytes read is a Timeout), then keeps draining
	// while bytes are available, bounded by a total deadline of
	// 2×timeout.
	ReadAvailableUntilIdle() ([]byte, error)

	// Close is idempotent and releases every underlying handle, in order,
	// collecting errors but reporting only the first.
	Close() error

	// SetTimeout updates the connect/read deadline used by subsequent
	// operations.
	SetTimeout(d time.Duration)
}

// Timeout is returned when a deadline elapses waiting for I/O (connect or
// read).
type Timeout struct {
	DeviceID string
	Op       string
}

func (e *Timeout) Error() string {
	return fmt.Sprintf("modbus: %s: %s timed out", e.DeviceID, e.Op)
}

// IOError wraps a lower-level transport failure (broken socket/port, short
// read, OS error) with the device id, for user-visible diagnostics.
type IOError struct {
	DeviceID string
	Reason   string
	Err      error
}

func (e *IOError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("modbus: %s: %s: %v", e.DeviceID, e.Reason, e.Err)
	}
	return fmt.Sprintf("modbus: %s: %s", e.DeviceID, e.Reason)
}

func (e *IOError) Unwrap() error { return e.Err }
