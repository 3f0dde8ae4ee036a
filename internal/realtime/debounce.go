package realtime

import (
	"sync"
	"time"
)

const (
	// DefaultDebounce is the per-key window.
	DefaultDebounce = 2 * time.Second
	// DefaultSweepDebounce is the window of the global auto-fix sweep.
	DefaultSweepDebounce = 5 * time.Minute
	// GlobalKey is the key of the global sweep.
	GlobalKey = "global"
)

// Debouncer coalesces bursts per key. Each Schedule restarts the key's
// window; fn runs once the window elapses without another Schedule.
type Debouncer struct {
	mu      sync.Mutex
	pending map[string]*debounceEntry
	seq     uint64
	stopped bool
}

type debounceEntry struct {
	timer *time.Timer
	id    uint64
}

// NewDebouncer returns an empty Debouncer.
func NewDebouncer() *Debouncer {
	return &Debouncer{pending: make(map[string]*debounceEntry)}
}

// Schedule (re)starts the window for key. It reports false after Stop.
func (d *Debouncer) Schedule(key string, delay time.Duration, fn func()) bool {
	if delay <= 0 {
		delay = DefaultDebounce
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false
	}
	if prev, ok := d.pending[key]; ok {
		prev.timer.Stop()
	}
	d.seq++
	entry := &debounceEntry{id: d.seq}
	entry.timer = time.AfterFunc(delay, func() { d.fire(key, entry.id, fn) })
	d.pending[key] = entry
	return true
}

func (d *Debouncer) fire(key string, id uint64, fn func()) {
	d.mu.Lock()
	entry, ok := d.pending[key]
	if !ok || entry.id != id || d.stopped {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()
	fn()
}

// Cancel drops the pending call for key.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if entry, ok := d.pending[key]; ok {
		entry.timer.Stop()
		delete(d.pending, key)
	}
}

// CancelAll drops every pending call. The Debouncer stays usable.
func (d *Debouncer) CancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, entry := range d.pending {
		entry.timer.Stop()
		delete(d.pending, key)
	}
}

// Stop cancels every pending call and rejects later Schedule calls.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.CancelAll()
}

// Pending reports whether key has a call waiting.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}
