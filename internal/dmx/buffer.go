// Package dmx owns the single 512-channel DMX universe and the worker that
// continuously refreshes it onto the wire.
package dmx

import (
	"sync"
	"sync/atomic"
	"time"
)

// Sender transmits a raw 512-byte universe frame. pkg/artnet.Sender
// satisfies this.
type Sender interface {
	Send(universe byte, data []byte)
}

// Config controls the refresh worker's cadence.
type Config struct {
	Universe      byte
	RefreshHz     int           // 10-60, spec default 30
	KeepAlive     time.Duration // emit a frame even if unchanged after this long idle
}

func (c Config) withDefaults() Config {
	if c.RefreshHz <= 0 {
		c.RefreshHz = 30
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = time.Second
	}
	return c
}

// Buffer is the sole source of truth for wire output: a 512-byte universe
// plus the last frame actually transmitted, guarded by one mutex with tiny
// critical sections (a handful of channel writes per fixture at a time).
type Buffer struct {
	mu       sync.Mutex
	data     [512]byte
	lastSent [512]byte
	everSent bool
	lastTx   time.Time

	cfg    Config
	sender Sender

	stopCh  chan struct{}
	doneCh  chan struct{}
	running int32
}

// NewBuffer constructs a Buffer bound to sender. Call Start to begin the
// refresh worker.
func NewBuffer(cfg Config, sender Sender) *Buffer {
	return &Buffer{cfg: cfg.withDefaults(), sender: sender}
}

// Set clamps value into [0,255] (it's already a byte, so this is purely
// range-checking addr) and writes it if addr is in [0,511]; out-of-range
// addresses are silently ignored, matching the "address-out-of-range"
// taxonomy in the error handling design — the rest of a fixture's channels
// still apply even if one offset is bad.
func (b *Buffer) Set(addr int, value byte) {
	if addr < 0 || addr > 511 {
		return
	}
	b.mu.Lock()
	b.data[addr] = value
	b.mu.Unlock()
}

// SetMany applies a batch of channel writes under a single lock acquisition,
// used by the scheduler when painting a fixture's four color channels.
func (b *Buffer) SetMany(writes map[int]byte) {
	b.mu.Lock()
	for addr, value := range writes {
		if addr < 0 || addr > 511 {
			continue
		}
		b.data[addr] = value
	}
	b.mu.Unlock()
}

// Get reads back a single channel's current value.
func (b *Buffer) Get(addr int) byte {
	if addr < 0 || addr > 511 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data[addr]
}

// Snapshot returns a copy of the full 512-byte universe, safe to read
// without holding the buffer's lock.
func (b *Buffer) Snapshot() [512]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// Blackout zeroes every channel; the refresh worker uses it on shutdown.
func (b *Buffer) Blackout() {
	b.mu.Lock()
	b.data = [512]byte{}
	b.mu.Unlock()
}

// flush snapshots U, and if it differs from the last transmitted frame or
// the keep-alive interval has elapsed, hands the snapshot to the sender.
// Returns whether a frame was actually sent.
func (b *Buffer) flush(now time.Time) bool {
	b.mu.Lock()
	changed := !b.everSent || b.data != b.lastSent
	keepAliveDue := now.Sub(b.lastTx) >= b.cfg.KeepAlive
	if !changed && !keepAliveDue {
		b.mu.Unlock()
		return false
	}
	snapshot := b.data
	b.lastSent = b.data
	b.everSent = true
	b.lastTx = now
	b.mu.Unlock()

	b.sender.Send(b.cfg.Universe, snapshot[:])
	return true
}

// Flush runs one transmission attempt immediately instead of waiting for the
// refresh worker's next wake. Like the worker, it sends only when the
// universe changed since the last frame or the keep-alive interval elapsed.
func (b *Buffer) Flush() bool {
	return b.flush(time.Now())
}

// Start launches the dedicated refresh worker (T-dmx-refresh): it wakes at a
// fixed rate and emits a frame if the universe changed or the keep-alive
// interval elapsed. It runs until Stop is called, at which point it
// transmits one final all-zero frame so fixtures go dark.
func (b *Buffer) Start() {
	if !atomic.CompareAndSwapInt32(&b.running, 0, 1) {
		return
	}
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})

	go func() {
		defer close(b.doneCh)
		interval := time.Second / time.Duration(b.cfg.RefreshHz)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-b.stopCh:
				b.Blackout()
				b.flush(time.Now())
				return
			case now := <-ticker.C:
				b.flush(now)
			}
		}
	}()
}

// Stop signals the refresh worker to exit and waits up to 1s for it to
// finish flushing the shutdown blackout frame.
func (b *Buffer) Stop() {
	if !atomic.CompareAndSwapInt32(&b.running, 1, 0) {
		return
	}
	close(b.stopCh)
	select {
	case <-b.doneCh:
	case <-time.After(time.Second):
	}
}
