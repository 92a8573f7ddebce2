package coordinator

import "sync"

// Debouncer collapses bursts of triggers into one handler call. The first
// Trigger of a burst asks schedule to arrange a call to fire; further triggers
// are absorbed until fire runs. fire clears the pending flag before invoking
// the handler, so triggers raised by the handler itself start a new burst.
type Debouncer struct {
	schedule func(fire func())
	handler  func()

	mu        sync.Mutex
	pending   bool
	coalesced int64
	fired     int64
}

// NewDebouncer returns a Debouncer running handler through schedule.
func NewDebouncer(schedule func(fire func()), handler func()) *Debouncer {
	return &Debouncer{schedule: schedule, handler: handler}
}

// Trigger requests a handler run. It returns false when a run is already pending.
func (d *Debouncer) Trigger() bool {
	d.mu.Lock()
	if d.pending {
		d.coalesced++
		d.mu.Unlock()
		return false
	}
	d.pending = true
	d.mu.Unlock()
	d.schedule(d.fire)
	return true
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	d.pending = false
	d.fired++
	d.mu.Unlock()
	d.handler()
}

// Pending reports whether a handler run is scheduled but has not started.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Counts returns how many runs fired and how many triggers were absorbed.
func (d *Debouncer) Counts() (fired, coalesced int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fired, d.coalesced
}
