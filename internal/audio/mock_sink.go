package audio

import (
	"sync"
	"sync/atomic"
	"time"
)

// MockSink simulates playback for tests without producing sound. It
// records every buffer in play order and detects overlapping Play
// calls, which would violate the one-chunk-at-a-time invariant.
type MockSink struct {
	// PlayDelay simulates the duration of each chunk.
	PlayDelay time.Duration

	// FailOn returns an error for the nth Play call (0-based), letting
	// tests exercise the skip-and-continue policy.
	FailOn func(n int) error

	// OnPlay is invoked at the start of each Play call.
	OnPlay func(pcm []byte)

	mu         sync.Mutex
	played     [][]byte
	playing    atomic.Bool
	overlapped atomic.Bool
}

// NewMockSink creates a mock sink with a small simulated chunk duration.
func NewMockSink() *MockSink {
	return &MockSink{PlayDelay: 5 * time.Millisecond}
}

// Play implements Sink.
func (s *MockSink) Play(pcm []byte) error {
	if !s.playing.CompareAndSwap(false, true) {
		s.overlapped.Store(true)
	}
	defer s.playing.Store(false)

	if s.OnPlay != nil {
		s.OnPlay(pcm)
	}

	s.mu.Lock()
	n := len(s.played)
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	s.played = append(s.played, buf)
	s.mu.Unlock()

	if s.PlayDelay > 0 {
		time.Sleep(s.PlayDelay)
	}

	if s.FailOn != nil {
		if err := s.FailOn(n); err != nil {
			return err
		}
	}
	return nil
}

// Played returns the buffers played so far, in order.
func (s *MockSink) Played() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([][]byte, len(s.played))
	copy(out, s.played)
	return out
}

// Overlapped reports whether two Play calls ever ran concurrently.
func (s *MockSink) Overlapped() bool {
	return s.overlapped.Load()
}
