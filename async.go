package modbus

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc/pool"
)

// Future resolves to the result of an asynchronous Send/SendRaw call. It
// does not change the Device's mutual-exclusion rule: the dispatched
// closure still acquires the Device's mutex, so per-device FIFO ordering is
// preserved even though completion order across devices is unconstrained.
type Future struct {
	done chan struct{}
	once sync.Once

	mu   sync.Mutex
	data []byte
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(data []byte, err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.data, f.err = data, err
		f.mu.Unlock()
		close(f.done)
	})
}

// Done reports whether the future has resolved, without blocking.
func (f *Future) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Await blocks until the future resolves or ctx is cancelled, whichever
// comes first.
func (f *Future) Await(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.data, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fallbackPool is the library-provided worker pool used for async calls on
// a Device that isn't attached to a Client.
var (
	fallbackPoolOnce sync.Once
	fallbackPoolVal  *pool.Pool
)

func fallbackPool() *pool.Pool {
	fallbackPoolOnce.Do(func() {
		fallbackPoolVal = pool.New().WithMaxGoroutines(64)
	})
	return fallbackPoolVal
}

func (d *Device) workerPool() *pool.Pool {
	if c := d.ownerClient(); c != nil {
		return c.pool()
	}
	return fallbackPool()
}

func (d *Device) dispatch(fn func() ([]byte, error)) *Future {
	fut := newFuture()
	d.workerPool().Go(func() {
		data, err := fn()
		fut.complete(data, err)
	})
	return fut
}

// SendRawAsync is the asynchronous counterpart of SendRaw.
func (d *Device) SendRawAsync(requestFrame []byte) *Future {
	return d.dispatch(func() ([]byte, error) { return d.SendRaw(requestFrame) })
}

// SendAsync is the asynchronous counterpart of Send.
func (d *Device) SendAsync(slave, funcCode byte, address, quantity uint16) *Future {
	return d.dispatch(func() ([]byte, error) { return d.Send(slave, funcCode, address, quantity) })
}
