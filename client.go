// Package modbus is a client-side Modbus master: it manages a pool of
// devices reachable over TCP or RS-232/RS-485 serial lines, frames and
// parses Modbus application-layer requests, and exposes a uniform
// synchronous/asynchronous request API with a supervised connection
// lifecycle (heartbeat, auto-reconnect, persistent-device retry).
//
// Building blocks live in subpackages: codec (frame build/parse), transport
// (byte-stream abstraction), and event (lifecycle pub/sub). This package
// composes them into DeviceConfig, Device, and Client.
package modbus

import (
	"context"
	"sync"
	"time"

	"github.com/fieldlink-io/modbus/event"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"
)

// maxWorkerGoroutines caps each worker pool: the Client's shared pool used
// for async Device dispatch and heartbeat pings, and the per-call pools
// that batch fan-out creates.
const maxWorkerGoroutines = 64

// defaultShutdownGrace is the bounded grace period Shutdown waits for
// outstanding pool tasks before moving on.
const defaultShutdownGrace = 5 * time.Second

// Client is the connection-pool supervisor: it owns the device registry,
// runs the heartbeat scheduler, drives failure handling, and dispatches
// batch connect/disconnect through a worker pool.
type Client struct {
	logger Logger
	bus    *event.Bus

	reg        registry
	persistent persistentSet

	poolOnce sync.Once
	workPool *pool.Pool

	hbMu      sync.Mutex
	hbCancel  context.CancelFunc
	hbRunning bool
}

// NewClient returns a ready-to-use Client. A nil logger installs a no-op.
func NewClient(logger Logger) *Client {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Client{logger: logger, bus: event.NewBus()}
}

func (c *Client) pool() *pool.Pool {
	c.poolOnce.Do(func() {
		c.workPool = pool.New().WithMaxGoroutines(maxWorkerGoroutines)
	})
	return c.workPool
}

// Subscribe registers listener for every event this Client publishes
// (Connected/Disconnected from its Devices, plus PingFailed/Recovered/
// Removed from the supervisor itself). Returns an unsubscribe function.
func (c *Client) Subscribe(listener event.Listener) (unsubscribe func()) {
	return c.bus.Subscribe(listener)
}

// Connect returns the existing Device if already registered (refreshing it
// first if DISCONNECTED), otherwise constructs, connects, and registers a
// new one.
func (c *Client) Connect(config DeviceConfig) (*Device, error) {
	id := config.DeviceID()

	if existing, ok := c.reg.get(id); ok {
		if existing.IsConnected() {
			return existing, nil
		}
		return existing, existing.Refresh()
	}

	d, err := newDevice(config, c.logger, c.bus)
	if err != nil {
		return nil, err
	}

	actual, stored := c.reg.loadOrStore(id, d)
	if !stored {
		// Lost the race to register: use the winner instead of ours.
		if actual.IsConnected() {
			return actual, nil
		}
		return actual, actual.Refresh()
	}

	actual.attachClient(c)
	if err := actual.Connect(); err != nil {
		c.reg.remove(id)
		return nil, err
	}
	return actual, nil
}

// Disconnect implements disconnect_device: atomically removes id from the
// registry and PersistentSet, then disconnects the removed Device. A
// second call for the same id is a no-op (R2).
func (c *Client) Disconnect(id string) error {
	c.persistent.unmark(id)
	d, ok := c.reg.remove(id)
	if !ok {
		return nil
	}
	return d.Disconnect()
}

// BatchConnect fans Connect out across the worker pool and awaits every
// result; per-config failures are logged and never abort siblings. The
// returned slices are index-aligned with configs.
func (c *Client) BatchConnect(configs []DeviceConfig) ([]*Device, []error) {
	devices := make([]*Device, len(configs))
	errs := make([]error, len(configs))

	p := pool.New().WithMaxGoroutines(maxWorkerGoroutines)
	for i, cfg := range configs {
		i, cfg := i, cfg
		p.Go(func() {
			d, err := c.Connect(cfg)
			devices[i] = d
			errs[i] = err
			if err != nil {
				c.logger.Printf("modbus: batch_connect: %s: %v", cfg.DeviceID(), err)
			}
		})
	}
	p.Wait()
	return devices, errs
}

// BatchDisconnect fans Disconnect out across the worker pool and awaits
// every result; per-id failures are logged and never abort siblings. The
// returned slice is index-aligned with ids.
func (c *Client) BatchDisconnect(ids []string) []error {
	errs := make([]error, len(ids))

	p := pool.New().WithMaxGoroutines(maxWorkerGoroutines)
	for i, id := range ids {
		i, id := i, id
		p.Go(func() {
			err := c.Disconnect(id)
			errs[i] = err
			if err != nil {
				c.logger.Printf("modbus: batch_disconnect: %s: %v", id, err)
			}
		})
	}
	p.Wait()
	return errs
}

// Get returns the registered Device for id, if any.
func (c *Client) Get(id string) (*Device, bool) {
	return c.reg.get(id)
}

// Connected returns a snapshot of every currently-connected Device.
func (c *Client) Connected() []*Device {
	snap := c.reg.snapshot()
	out := make([]*Device, 0, len(snap))
	for _, d := range snap {
		if d.IsConnected() {
			out = append(out, d)
		}
	}
	return out
}

// MarkPersistent marks id for indefinite auto-reconnect. id need not yet be
// registered (I3: inert until it is).
func (c *Client) MarkPersistent(id string) { c.persistent.mark(id) }

// UnmarkPersistent reverses MarkPersistent (R3: mark then unmark leaves the
// set unchanged).
func (c *Client) UnmarkPersistent(id string) { c.persistent.unmark(id) }

// Shutdown stops the heartbeat scheduler, disconnects every registered
// device, and waits up to defaultShutdownGrace for the worker pool to drain
// before returning — regardless of any single device hanging.
func (c *Client) Shutdown() error {
	return c.ShutdownWithGrace(defaultShutdownGrace)
}

// ShutdownWithGrace is Shutdown with an explicit grace period.
func (c *Client) ShutdownWithGrace(grace time.Duration) error {
	c.StopHeartbeat()

	snap := c.reg.snapshot()
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	errs := c.BatchDisconnect(ids)

	done := make(chan struct{})
	go func() {
		c.pool().Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		c.logger.Printf("modbus: shutdown: grace period elapsed with worker pool tasks still outstanding")
	}

	return multierr.Combine(errs...)
}
