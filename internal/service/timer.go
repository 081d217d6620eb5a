// Package service implements the gateway's request processing pipeline:
// candidate selection, retry/failover, protocol-aware forwarding, stream
// accounting and request logging.
package service

import "time"

// Timer is a monotonic stopwatch for one request: start, optional
// first-byte mark, stop. Not safe for concurrent use; each request owns one.
type Timer struct {
	start     time.Time
	firstByte time.Time
	stop      time.Time
}

// NewTimer creates a started timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Start resets the timer to now.
func (t *Timer) Start() {
	t.start = time.Now()
	t.firstByte = time.Time{}
	t.stop = time.Time{}
}

// MarkFirstByte records the first-byte instant. Subsequent calls are
// ignored.
func (t *Timer) MarkFirstByte() {
	if t.firstByte.IsZero() {
		t.firstByte = time.Now()
	}
}

// Stop records the end instant. If no first byte was marked, the first-byte
// instant equals the stop instant.
func (t *Timer) Stop() {
	if t.stop.IsZero() {
		t.stop = time.Now()
	}
	if t.firstByte.IsZero() {
		t.firstByte = t.stop
	}
}

// FirstByteDelayMS returns milliseconds from start to first byte, or nil if
// the first byte has not been marked yet.
func (t *Timer) FirstByteDelayMS() *int64 {
	if t.firstByte.IsZero() {
		return nil
	}
	ms := t.firstByte.Sub(t.start).Milliseconds()
	return &ms
}

// TotalTimeMS returns milliseconds from start to stop, or nil if the timer
// has not been stopped.
func (t *Timer) TotalTimeMS() *int64 {
	if t.stop.IsZero() {
		return nil
	}
	ms := t.stop.Sub(t.start).Milliseconds()
	return &ms
}
