package channels

import (
	"sync"
	"time"
)

// Watchdog is a one-shot timer that monitors reconnect stalls. Arm it when a
// transport reports a close, disarm it when the connection is observed live
// again; if the timer fires the callback runs once and the watchdog resets.
type Watchdog struct {
	timeout time.Duration
	onFire  func()

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatchdog creates a watchdog that calls onFire after timeout of
// uninterrupted armed time.
func NewWatchdog(timeout time.Duration, onFire func()) *Watchdog {
	return &Watchdog{timeout: timeout, onFire: onFire}
}

// Arm starts (or restarts) the countdown.
func (w *Watchdog) Arm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.timeout, func() {
		w.mu.Lock()
		w.timer = nil
		w.mu.Unlock()
		w.onFire()
	})
}

// Disarm cancels the countdown if armed.
func (w *Watchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Stop releases the watchdog. Equivalent to Disarm; named for shutdown paths.
func (w *Watchdog) Stop() { w.Disarm() }
