package device

import (
	"context"
	"image"
	"sync"
	"time"
)

// ProduceFunc captures one frame. It is called from the stream goroutine and
// should return promptly once ctx is done.
type ProduceFunc func(ctx context.Context) (image.Image, error)

// Stream runs a continuous-capture producer loop. The stop signal is
// observed between frames, never in the middle of a capture.
type Stream struct {
	// Buffer is the frame channel capacity. Zero means 4.
	Buffer int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	frames chan Frame
}

// Start launches the loop, producing a frame every interval (back to back
// when interval is zero). A running stream returns its existing channel.
func (s *Stream) Start(ctx context.Context, interval time.Duration, produce ProduceFunc) <-chan Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeLocked() {
		return s.frames
	}

	buffer := s.Buffer
	if buffer <= 0 {
		buffer = 4
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.frames = make(chan Frame, buffer)

	go s.run(loopCtx, interval, produce, s.frames, s.done)
	return s.frames
}

func (s *Stream) run(ctx context.Context, interval time.Duration, produce ProduceFunc, frames chan<- Frame, done chan<- struct{}) {
	defer close(done)
	defer close(frames)

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		img, err := produce(ctx)
		if ctx.Err() != nil {
			return
		}
		seq++
		frame := Frame{Seq: seq, Image: img, Timestamp: time.Now(), Err: err}

		select {
		case frames <- frame:
		case <-ctx.Done():
			return
		}

		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Stop signals the loop and waits for it to exit. The frame channel is closed
// once the loop has returned. Stopping an idle stream does nothing.
func (s *Stream) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done, s.frames = nil, nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Stream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

// activeLocked reports whether the loop is still running. A loop that ended
// because its parent context was cancelled is cleared.
func (s *Stream) activeLocked() bool {
	if s.cancel == nil {
		return false
	}
	select {
	case <-s.done:
		s.cancel()
		s.cancel, s.done, s.frames = nil, nil, nil
		return false
	default:
		return true
	}
}
