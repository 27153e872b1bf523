package socketio

import (
	"sync"
	"time"
)

// PushDebouncer collapses rapid scheduler and MPD changes into batched
// pushes. Several triggers within the window result in a single broadcast
// per affected document (state and/or queue).
type PushDebouncer struct {
	window    time.Duration
	statePush func()
	queuePush func()

	mu           sync.Mutex
	pendingState bool
	pendingQueue bool
	timer        *time.Timer
	stopped      bool
}

// NewPushDebouncer creates a debouncer with the given window duration.
func NewPushDebouncer(window time.Duration, statePush, queuePush func()) *PushDebouncer {
	return &PushDebouncer{
		window:    window,
		statePush: statePush,
		queuePush: queuePush,
	}
}

// TriggerState marks the state document dirty and (re)arms the window.
func (d *PushDebouncer) TriggerState() {
	d.trigger(true, false)
}

// TriggerQueue marks the queue document dirty and (re)arms the window.
func (d *PushDebouncer) TriggerQueue() {
	d.trigger(false, true)
}

func (d *PushDebouncer) trigger(state, queue bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.pendingState = d.pendingState || state
	d.pendingQueue = d.pendingQueue || queue

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// flush fires callbacks for any pending flags and resets them.
func (d *PushDebouncer) flush() {
	d.mu.Lock()
	doState := d.pendingState
	doQueue := d.pendingQueue
	d.pendingState = false
	d.pendingQueue = false
	d.mu.Unlock()

	if doState && d.statePush != nil {
		d.statePush()
	}
	if doQueue && d.queuePush != nil {
		d.queuePush()
	}
}

// Stop prevents any further pushes from firing.
func (d *PushDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pendingState = false
	d.pendingQueue = false
}
