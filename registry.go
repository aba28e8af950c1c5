package modbus

import "sync"

// registry maps device_id -> *Device with atomic insert-if-absent
// semantics. sync.Map's LoadOrStore is exactly that operation.
type registry struct {
	devices sync.Map // string -> *Device
}

// loadOrStore returns the existing Device for id if one is already
// registered, otherwise stores and returns d. The boolean reports whether d
// was the one actually stored (true) or an existing entry was found
// (false) — guaranteeing at most one Device per device_id.
func (r *registry) loadOrStore(id string, d *Device) (*Device, bool) {
	actual, loaded := r.devices.LoadOrStore(id, d)
	return actual.(*Device), !loaded
}

func (r *registry) get(id string) (*Device, bool) {
	v, ok := r.devices.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Device), true
}

// remove deletes id if present, returning the removed Device. A second call
// for the same id is a benign no-op, returning ok=false.
func (r *registry) remove(id string) (*Device, bool) {
	v, ok := r.devices.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	return v.(*Device), true
}

// snapshot returns a point-in-time copy of every registered id/Device pair.
// Iteration tolerates concurrent removal.
func (r *registry) snapshot() map[string]*Device {
	out := make(map[string]*Device)
	r.devices.Range(func(key, value any) bool {
		out[key.(string)] = value.(*Device)
		return true
	})
	return out
}

// persistentSet is the set of device ids marked for indefinite auto-
// reconnect. A non-resident id is permitted but inert.
type persistentSet struct {
	ids sync.Map // string -> struct{}
}

func (p *persistentSet) mark(id string)         { p.ids.Store(id, struct{}{}) }
func (p *persistentSet) unmark(id string)        { p.ids.Delete(id) }
func (p *persistentSet) contains(id string) bool { _, ok := p.ids.Load(id); return ok }
