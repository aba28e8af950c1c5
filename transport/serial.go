package transport

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grid-x/serial"
)

// Serial is a Transport backed by a serial line. Opening, configuring, and
// supplying a byte stream with read timeouts is github.com/grid-x/serial's
// job.
type Serial struct {
	Config serial.Config
	Logger Logger

	deviceID string
	timeout  atomic.Int64

	mu   sync.Mutex
	port io.ReadWriteCloser
}

var _ Transport = (*Serial)(nil)

// NewSerial allocates a Serial transport for deviceID using cfg, with the
// given connect/read timeout.
func NewSerial(deviceID string, cfg serial.Config, timeout time.Duration) *Serial {
	cfg.Timeout = timeout
	s := &Serial{Config: cfg, deviceID: deviceID}
	s.timeout.Store(int64(timeout))
	return s
}

func (s *Serial) SetTimeout(d time.Duration) {
	s.timeout.Store(int64(d))
	s.mu.Lock()
	s.Config.Timeout = d
	s.mu.Unlock()
}

func (s *Serial) getTimeout() time.Duration { return time.Duration(s.timeout.Load()) }

func (s *Serial) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connect()
}

func (s *Serial) connect() error {
	if s.port != nil {
		return nil
	}
	s.Config.Timeout = s.getTimeout()
	port, err := serial.Open(&s.Config)
	if err != nil {
		return &IOError{DeviceID: s.deviceID, Reason: "open " + s.Config.Address + " failed", Err: err}
	}
	s.port = port
	return nil
}

func (s *Serial) WriteAll(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return &IOError{DeviceID: s.deviceID, Reason: "write on closed transport"}
	}
	s.logf("modbus: send % x", b)
	if _, err := s.port.Write(b); err != nil {
		return &IOError{DeviceID: s.deviceID, Reason: "write failed", Err: err}
	}
	return nil
}

// ReadExact is only meaningful for MBAP framing; a pure serial transport
// always carries RTU framing, so this exists to satisfy the Transport
// interface and is never called by Device.
func (s *Serial) ReadExact(n int) ([]byte, error) {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return nil, &IOError{DeviceID: s.deviceID, Reason: "read on closed transport"}
	}
	buf := make([]byte, n)
	read := 0
	for read < n {
		m, err := port.Read(buf[read:])
		if m == 0 && err != nil {
			return nil, &IOError{DeviceID: s.deviceID, Reason: "closed", Err: err}
		}
		read += m
	}
	return buf, nil
}

// ReadAvailableUntilIdle reads at least one byte (a zero-byte read within
// the configured timeout is a Timeout), then keeps draining while bytes
// keep arriving, sleeping pollInterval between polls, bounded by a total
// deadline of 2×timeout.
func (s *Serial) ReadAvailableUntilIdle() ([]byte, error) {
	s.mu.Lock()
	port := s.port
	to := s.getTimeout()
	s.mu.Unlock()

	if port == nil {
		return nil, &IOError{DeviceID: s.deviceID, Reason: "read on closed transport"}
	}

	deadline := time.Now().Add(2 * to)

	buf := make([]byte, 256)
	n, err := readWithin(port, buf, to)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, &Timeout{DeviceID: s.deviceID, Op: "read"}
	}
	data := append([]byte(nil), buf[:n]...)

	for time.Now().Before(deadline) {
		time.Sleep(pollInterval)
		n, err := readWithin(port, buf, 0)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break // no more bytes arrived within this poll: idle
		}
		data = append(data, buf[:n]...)
	}

	s.logf("modbus: recv % x", data)
	return data, nil
}

// readWithin reads whatever is immediately available from r, treating a
// read timeout as "zero bytes" rather than an error — the caller decides
// whether zero bytes means "still idle" or "never got a first byte".
//
// The underlying grid-x/serial port enforces its own read timeout
// (configured on Open); since that timeout cannot be changed per-call, a
// non-zero maxWait is layered on top by reading in a goroutine and racing it
// against a timer. A zero maxWait performs a single non-blocking-ish poll
// read governed entirely by the port's own configured timeout.
func readWithin(r io.Reader, buf []byte, maxWait time.Duration) (int, error) {
	if maxWait <= 0 {
		return r.Read(buf)
	}

	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := r.Read(buf)
		ch <- result{n, err}
	}()

	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(maxWait):
		return 0, nil
	}
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	if err != nil {
		return &IOError{DeviceID: s.deviceID, Reason: "close failed", Err: err}
	}
	return nil
}

func (s *Serial) logf(format string, v ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, v...)
	}
}
