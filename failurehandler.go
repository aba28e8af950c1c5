package modbus

import (
	"context"
	"time"

	"github.com/fieldlink-io/modbus/event"
)

// persistentRetryBackoff is the fixed sleep between refresh attempts for a
// persistent device. No exponential component.
const persistentRetryBackoff = 10 * time.Second

// handleFailure is invoked when a ping raises. It loops, refreshing the
// device, while the device remains in the registry: on success it
// publishes Recovered and returns; on failure an ephemeral device is
// removed (publishing Removed) while a persistent device is retried after a
// fixed backoff. The loop respects ctx cancellation at every step — no
// busy-wait.
func (c *Client) handleFailure(ctx context.Context, id string) {
	for {
		if ctx.Err() != nil {
			return
		}

		d, ok := c.reg.get(id)
		if !ok {
			return // removed by a concurrent disconnect/heartbeat stop race; no-op
		}

		isPersistent := c.persistent.contains(id)

		if err := d.Refresh(); err == nil {
			c.bus.Publish(event.Event{
				Kind: event.Recovered, DeviceID: id, DeviceRef: d, Timestamp: time.Now(),
			})
			return
		}

		if !isPersistent {
			if removed, ok := c.reg.remove(id); ok {
				c.persistent.unmark(id)
				c.bus.Publish(event.Event{
					Kind: event.Removed, DeviceID: id, DeviceRef: removed, Timestamp: time.Now(),
				})
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(persistentRetryBackoff):
		}
	}
}
