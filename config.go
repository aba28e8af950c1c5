package modbus

import (
	"fmt"
	"time"
)

// Kind selects which transport/framing combination a DeviceConfig
// describes.
type Kind int

const (
	// TCP dials a socket and frames requests with MBAP.
	TCP Kind = iota
	// RTU opens a serial line and frames requests with CRC-16 and
	// inter-frame silence.
	RTU
	// TCPRTU dials a socket but frames requests as RTU (no MBAP header) —
	// a Modbus gateway convention, not a standard variant.
	TCPRTU
)

func (k Kind) String() string {
	switch k {
	case TCP:
		return "TCP"
	case RTU:
		return "RTU"
	case TCPRTU:
		return "TCP_RTU"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Parity is the serial line parity setting.
type Parity byte

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
)

func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "none"
	case ParityOdd:
		return "odd"
	case ParityEven:
		return "even"
	default:
		return "unknown"
	}
}

// DeviceConfig is an immutable descriptor identifying and parameterizing a
// device. Exactly one of the TCP or RTU payload groups is meaningful,
// selected by Kind; TCPRTU reuses the TCP payload group.
type DeviceConfig struct {
	Kind Kind

	// Timeout applies to both connect and per-request read deadlines.
	Timeout time.Duration

	// TCP / TCPRTU payload.
	IP   string
	Port uint16

	// RTU payload.
	PortName string
	Baud     uint32
	DataBits int
	StopBits int
	Parity   Parity
}

// DeviceID returns the canonical registry key for this config: two configs
// with equal DeviceID must address the same logical device.
func (c DeviceConfig) DeviceID() string {
	switch c.Kind {
	case TCP:
		return fmt.Sprintf("TCP:%s:%d", c.IP, c.Port)
	case RTU:
		return fmt.Sprintf("RTU:%s", c.PortName)
	case TCPRTU:
		return fmt.Sprintf("TCP_RTU:%s:%d", c.IP, c.Port)
	default:
		return fmt.Sprintf("UNKNOWN:%d", int(c.Kind))
	}
}

// Validate reports a ConfigError for a DeviceConfig missing fields its Kind
// requires.
func (c DeviceConfig) Validate() error {
	if c.Timeout < time.Millisecond {
		return &ConfigError{Reason: "timeout must be >= 1ms"}
	}
	switch c.Kind {
	case TCP, TCPRTU:
		if c.IP == "" {
			return &ConfigError{Reason: "ip must not be empty"}
		}
		if c.Port == 0 {
			return &ConfigError{Reason: "port must not be zero"}
		}
	case RTU:
		if c.PortName == "" {
			return &ConfigError{Reason: "port_name must not be empty"}
		}
		if c.DataBits < 5 || c.DataBits > 8 {
			return &ConfigError{Reason: "data_bits must be in [5,8]"}
		}
		if c.StopBits != 1 && c.StopBits != 2 {
			return &ConfigError{Reason: "stop_bits must be 1 or 2"}
		}
	default:
		return &ConfigError{Reason: fmt.Sprintf("unknown kind %d", int(c.Kind))}
	}
	return nil
}
