package poller

import "sync"

// Watermark is the timestamp of the newest message accepted for dispatch.
// It never moves backwards.
type Watermark struct {
	mu    sync.Mutex
	value int64
}

// Get returns the current watermark.
func (w *Watermark) Get() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value
}

// Advance moves the watermark to ts and reports true if ts is strictly newer.
func (w *Watermark) Advance(ts int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ts <= w.value {
		return false
	}
	w.value = ts
	return true
}
