package modbus

import (
	"context"
	"time"

	"github.com/fieldlink-io/modbus/event"
)

// StartHeartbeat spawns a single periodic task that, every interval,
// iterates the registry and submits a ping for every device with heartbeat
// enabled. Idempotent: a second call while already running is a no-op.
func (c *Client) StartHeartbeat(interval time.Duration) {
	c.hbMu.Lock()
	defer c.hbMu.Unlock()
	if c.hbRunning {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.hbCancel = cancel
	c.hbRunning = true
	go c.heartbeatLoop(ctx, interval)
}

// StopHeartbeat cancels the scheduler. In-flight pings are allowed to
// complete; their failure handlers observe a possibly-missing registry
// entry and are no-ops in that case.
func (c *Client) StopHeartbeat() {
	c.hbMu.Lock()
	defer c.hbMu.Unlock()
	if !c.hbRunning {
		return
	}
	c.hbCancel()
	c.hbRunning = false
}

func (c *Client) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// tick submits one ping task per heartbeat-enabled device to the worker
// pool. A slow or hung ping on one device never delays pings on others —
// each is an independent pool task.
func (c *Client) tick(ctx context.Context) {
	for id, d := range c.reg.snapshot() {
		if ctx.Err() != nil {
			return
		}
		if !d.HeartbeatEnabled() {
			continue
		}
		id, d := id, d
		c.pool().Go(func() {
			if err := d.Ping(); err != nil {
				c.bus.Publish(event.Event{
					Kind: event.PingFailed, DeviceID: id, DeviceRef: d, Timestamp: time.Now(),
				})
				c.handleFailure(ctx, id)
			}
		})
	}
}
