package device

import (
	"context"
	"sync"
	"sync/atomic"
)

// Link tracks a driver's connection and makes acquire/release idempotent.
// Embed it in a driver and set Acquire and Release; nil hooks are skipped.
type Link struct {
	Acquire func(ctx context.Context) error
	Release func(ctx context.Context) error

	mu           sync.Mutex
	connected    atomic.Bool
	acquisitions atomic.Int64
}

// Connect acquires the resource unless it is already held.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.connected.Load() {
		return nil
	}
	if l.Acquire != nil {
		if err := l.Acquire(ctx); err != nil {
			return err
		}
	}
	l.acquisitions.Add(1)
	l.connected.Store(true)
	return nil
}

// Disconnect releases the resource when it is held. A failed release
// leaves the link connected so the resource is not acquired twice.
func (l *Link) Disconnect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.connected.Load() {
		return nil
	}
	l.connected.Store(false)
	if l.Release != nil {
		if err := l.Release(ctx); err != nil {
			l.connected.Store(true)
			return err
		}
	}
	return nil
}

func (l *Link) IsConnected() bool {
	return l.connected.Load()
}

// Acquisitions counts successful acquires over the link's lifetime.
func (l *Link) Acquisitions() int64 {
	return l.acquisitions.Load()
}
