package modbus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldlink-io/modbus/codec"
	"github.com/fieldlink-io/modbus/event"
	"github.com/fieldlink-io/modbus/transport"
)

type deviceState int

const (
	stateDisconnected deviceState = iota
	stateConnected
	stateClosing
)

// HeartbeatStrategy probes a Device to decide whether it is still healthy.
// It must use the Device's public request operations — it runs under the
// Device's mutex implicitly, via Send.
type HeartbeatStrategy func(*Device) error

// defaultHeartbeatStrategy reads 1 holding register at address 0 of slave 1.
func defaultHeartbeatStrategy(d *Device) error {
	_, err := d.Send(1, codec.FuncCodeReadHoldingRegisters, 0, 1)
	return err
}

// Device is a supervised connection binding one Transport to one Codec
// variant.
type Device struct {
	config DeviceConfig
	id     string
	logger Logger
	bus    *event.Bus

	codec codec.Codec

	mu        sync.Mutex
	state     deviceState
	transport transport.Transport

	timeout atomic.Int64 // time.Duration, nanoseconds

	heartbeatEnabled atomic.Bool

	hbMu     sync.Mutex
	strategy HeartbeatStrategy

	clientMu sync.Mutex
	client   *Client // attached owner, for pool dispatch; nil until registered
}

// newDevice constructs a Device for config but does not connect it. codec
// and transport are selected per Kind.
func newDevice(config DeviceConfig, logger Logger, bus *event.Bus) (*Device, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = noopLogger{}
	}

	d := &Device{
		config: config,
		id:     config.DeviceID(),
		logger: logger,
		bus:    bus,
	}
	d.heartbeatEnabled.Store(true)
	d.strategy = defaultHeartbeatStrategy
	d.timeout.Store(int64(config.Timeout))

	switch config.Kind {
	case TCP:
		d.codec = codec.MBAP{}
		tr := transport.NewTCP(d.id, tcpAddress(config), config.Timeout)
		tr.Logger = logger
		d.transport = tr
	case TCPRTU:
		d.codec = codec.RTU{}
		tr := transport.NewTCP(d.id, tcpAddress(config), config.Timeout)
		tr.Logger = logger
		d.transport = tr
	case RTU:
		d.codec = codec.RTU{}
		tr := transport.NewSerial(d.id, serialConfig(config), config.Timeout)
		tr.Logger = logger
		d.transport = tr
	default:
		return nil, &UnsupportedDeviceKind{DeviceID: d.id, Kind: config.Kind}
	}

	return d, nil
}

func tcpAddress(c DeviceConfig) string {
	return c.IP + ":" + portString(c.Port)
}

func portString(p uint16) string {
	const base = 10
	if p == 0 {
		return "0"
	}
	digits := [5]byte{}
	i := len(digits)
	for p > 0 {
		i--
		digits[i] = byte('0' + p%base)
		p /= base
	}
	return string(digits[i:])
}

// DeviceID returns the canonical registry key for this Device.
func (d *Device) DeviceID() string { return d.id }

// Config returns the DeviceConfig this Device was constructed from.
func (d *Device) Config() DeviceConfig { return d.config }

func (d *Device) attachClient(c *Client) {
	d.clientMu.Lock()
	d.client = c
	d.clientMu.Unlock()
}

func (d *Device) ownerClient() *Client {
	d.clientMu.Lock()
	defer d.clientMu.Unlock()
	return d.client
}

// Timeout returns the current connect/read deadline.
func (d *Device) Timeout() time.Duration { return time.Duration(d.timeout.Load()) }

// SetTimeout updates the connect/read deadline used by subsequent operations.
func (d *Device) SetTimeout(t time.Duration) {
	d.timeout.Store(int64(t))
	d.transport.SetTimeout(t)
}

// HeartbeatEnabled reports whether the Supervisor currently examines this
// device.
func (d *Device) HeartbeatEnabled() bool { return d.heartbeatEnabled.Load() }

// SetHeartbeatEnabled is a cheap, non-blocking toggle.
func (d *Device) SetHeartbeatEnabled(enabled bool) { d.heartbeatEnabled.Store(enabled) }

// HeartbeatStrategy returns the probe currently used by Ping.
func (d *Device) HeartbeatStrategy() HeartbeatStrategy {
	d.hbMu.Lock()
	defer d.hbMu.Unlock()
	return d.strategy
}

// SetHeartbeatStrategy replaces the probe used by Ping. A nil strategy
// restores the default (read holding register 0 of slave 1).
func (d *Device) SetHeartbeatStrategy(s HeartbeatStrategy) {
	if s == nil {
		s = defaultHeartbeatStrategy
	}
	d.hbMu.Lock()
	d.strategy = s
	d.hbMu.Unlock()
}

// IsConnected reports whether the Device is currently in state CONNECTED.
func (d *Device) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == stateConnected
}

// Connect opens the underlying transport. Calling Connect while already
// CONNECTED is an idempotent no-op.
func (d *Device) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connectLocked()
}

func (d *Device) connectLocked() error {
	if d.state == stateConnected {
		return nil
	}
	if err := d.transport.Connect(); err != nil {
		return err
	}
	d.state = stateConnected
	d.publish(event.Connected)
	return nil
}

// Disconnect closes the transport, ignoring an already-closed error,
// transitions to DISCONNECTED, and publishes Disconnected exactly once.
// Calling Disconnect when already DISCONNECTED is a no-op.
func (d *Device) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disconnectLocked()
}

func (d *Device) disconnectLocked() error {
	if d.state == stateDisconnected {
		return nil
	}
	d.state = stateClosing
	err := d.transport.Close()
	d.state = stateDisconnected
	d.publish(event.Disconnected)
	return err
}

// Refresh disconnects then reconnects, used by the Supervisor's failure
// handler and by Client.Connect. SendRaw's single-shot retry performs the
// same steps through refreshForRetryLocked, since it already holds the mutex.
func (d *Device) Refresh() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != stateDisconnected {
		if err := d.disconnectLocked(); err != nil {
			d.logger.Printf("modbus: %s: refresh: disconnect error: %v", d.id, err)
		}
	}
	return d.connectLocked()
}

// SendRaw writes requestFrame (already built by a Codec) and reads back the
// validated response frame unchanged. On Timeout the error is returned
// immediately; on any other I/O or protocol error, one refresh-and-retry is
// attempted before giving up.
func (d *Device) SendRaw(requestFrame []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateConnected {
		return nil, &NotConnected{DeviceID: d.id}
	}

	resp, err := d.roundTripLocked(requestFrame)
	if err == nil {
		return resp, nil
	}
	if _, isTimeout := err.(*transport.Timeout); isTimeout {
		return nil, err
	}

	if refreshErr := d.refreshForRetryLocked(); refreshErr != nil {
		return nil, err
	}
	return d.roundTripLocked(requestFrame)
}

func (d *Device) refreshForRetryLocked() error {
	if err := d.disconnectLocked(); err != nil {
		d.logger.Printf("modbus: %s: retry: disconnect error: %v", d.id, err)
	}
	return d.connectLocked()
}

func (d *Device) roundTripLocked(requestFrame []byte) ([]byte, error) {
	if err := d.transport.WriteAll(requestFrame); err != nil {
		return nil, err
	}
	return d.codec.ReadResponse(d.transport, requestFrame)
}

// Send builds a request frame for the given function code/address/quantity
// using this Device's codec variant and sends it.
func (d *Device) Send(slave, funcCode byte, address, quantity uint16) ([]byte, error) {
	frame, err := d.codec.BuildRequest(codec.Request{
		Slave: slave, FuncCode: funcCode, Address: address, Quantity: quantity,
	})
	if err != nil {
		return nil, err
	}
	return d.SendRaw(frame)
}

// Ping executes the current HeartbeatStrategy, or the default probe if none
// was explicitly set.
func (d *Device) Ping() error {
	return d.HeartbeatStrategy()(d)
}

// sendFrame wraps an arbitrary PDU in this Device's codec envelope and
// sends it — used by the convenience decoder layer (ops.go) for function
// codes outside the address+quantity shape Send covers.
func (d *Device) sendFrame(slave, funcCode byte, pdu []byte) ([]byte, error) {
	frame, err := d.codec.BuildFrame(slave, funcCode, pdu)
	if err != nil {
		return nil, err
	}
	return d.SendRaw(frame)
}

// pduData strips this Device's framing envelope and function code from a
// response ADU, returning the payload bytes only.
func (d *Device) pduData(resp []byte) ([]byte, error) {
	switch d.config.Kind {
	case TCP:
		_, data := codec.PDU(resp)
		return data, nil
	case RTU, TCPRTU:
		if len(resp) < 4 {
			return nil, fmt.Errorf("modbus: %s: response frame too short: %d bytes", d.id, len(resp))
		}
		return resp[2 : len(resp)-2], nil
	default:
		return nil, &UnsupportedDeviceKind{DeviceID: d.id, Kind: d.config.Kind}
	}
}

func (d *Device) publish(kind event.Kind) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(event.Event{
		Kind:      kind,
		DeviceID:  d.id,
		DeviceRef: d,
		Timestamp: time.Now(),
	})
}
