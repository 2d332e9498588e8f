// Package shell holds the client-side state of the canvas: the session
// lifecycle, the active workspace and the debounced auto-save.
package shell

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultSaveWindow is the quiet period before an edit is persisted.
const DefaultSaveWindow = time.Second

type debounced struct {
	fn    func()
	timer clockwork.Timer
}

// Debouncer runs at most one pending task per key, window after the last
// Schedule for that key.
type Debouncer struct {
	clock  clockwork.Clock
	window time.Duration

	mu      sync.Mutex
	pending map[string]*debounced
}

func NewDebouncer(clock clockwork.Clock, window time.Duration) *Debouncer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if window <= 0 {
		window = DefaultSaveWindow
	}
	return &Debouncer{clock: clock, window: window, pending: make(map[string]*debounced)}
}

// Schedule replaces any pending task for key and restarts its window.
func (d *Debouncer) Schedule(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.pending[key]; ok {
		prev.timer.Stop()
	}
	task := &debounced{fn: fn}
	task.timer = d.clock.AfterFunc(d.window, func() { d.fire(key, task) })
	d.pending[key] = task
}

func (d *Debouncer) fire(key string, task *debounced) {
	d.mu.Lock()
	if d.pending[key] != task {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()
	task.fn()
}

// Flush runs the pending task for key on the calling goroutine. It reports
// whether there was one.
func (d *Debouncer) Flush(key string) bool {
	d.mu.Lock()
	task, ok := d.pending[key]
	if ok {
		task.timer.Stop()
		delete(d.pending, key)
	}
	d.mu.Unlock()
	if ok {
		task.fn()
	}
	return ok
}

// Cancel drops the pending task for key without running it.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if task, ok := d.pending[key]; ok {
		task.timer.Stop()
		delete(d.pending, key)
	}
}

func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

// Keys lists the keys with a pending task.
func (d *Debouncer) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(d.pending))
	for k := range d.pending {
		keys = append(keys, k)
	}
	return keys
}

// FlushAll runs every pending task.
func (d *Debouncer) FlushAll() {
	for _, key := range d.Keys() {
		d.Flush(key)
	}
}
