package audio_test

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/voxproxy/internal/audio"
)

// passDecoder hands chunks through untouched.
type passDecoder struct{}

func (passDecoder) Decode(chunk []byte) ([]byte, error) { return chunk, nil }

// blockingSink lets a test observe each Play start and control when it
// completes.
type blockingSink struct {
	started chan []byte
	release chan struct{}
}

func newBlockingSink() *blockingSink {
	return &blockingSink{
		started: make(chan []byte),
		release: make(chan struct{}),
	}
}

func (s *blockingSink) Play(pcm []byte) error {
	s.started <- pcm
	<-s.release
	return nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// Chunks enqueued in order [A, B, C] play in that order with no two
// chunks ever in flight concurrently.
func TestEngineOrdering(t *testing.T) {
	sink := audio.NewMockSink()
	eng := audio.NewEngine(passDecoder{}, sink, quietLogger())
	defer eng.Close()

	chunks := [][]byte{[]byte("A"), []byte("B"), []byte("C")}
	for _, c := range chunks {
		eng.Enqueue(c)
	}

	waitFor(t, "all chunks to play", func() bool { return len(sink.Played()) == 3 })

	played := sink.Played()
	for i, want := range chunks {
		if !bytes.Equal(played[i], want) {
			t.Errorf("played[%d] = %q, want %q", i, played[i], want)
		}
	}
	if sink.Overlapped() {
		t.Error("two chunks were playing concurrently")
	}

	waitFor(t, "engine to go idle", func() bool { return eng.State() == audio.StateIdle })
}

// The concrete two-chunk scenario: Idle → Playing(A); Enqueue(B) while
// A plays leaves the engine in Playing(A) with B queued; A's completion
// starts B; B's completion with an empty queue returns to Idle.
func TestEngineTwoChunkScenario(t *testing.T) {
	sink := newBlockingSink()
	eng := audio.NewEngine(passDecoder{}, sink, quietLogger())
	defer func() {
		close(sink.release) // unblock any in-flight Play
		eng.Close()
	}()

	if eng.State() != audio.StateIdle {
		t.Fatalf("initial state = %v, want idle", eng.State())
	}

	eng.Enqueue([]byte("A"))
	started := <-sink.started
	if string(started) != "A" {
		t.Fatalf("first chunk = %q, want A", started)
	}
	if eng.State() != audio.StatePlaying {
		t.Errorf("state with A in flight = %v, want playing", eng.State())
	}

	// B arrives while A is still playing: queued, engine stays on A.
	eng.Enqueue([]byte("B"))
	if got := eng.QueueLen(); got != 1 {
		t.Errorf("queue length with A in flight = %d, want 1", got)
	}
	select {
	case <-sink.started:
		t.Fatal("B started before A completed")
	case <-time.After(20 * time.Millisecond):
	}

	// A's completion signal fires: B starts, queue drains.
	sink.release <- struct{}{}
	started = <-sink.started
	if string(started) != "B" {
		t.Fatalf("second chunk = %q, want B", started)
	}
	if got := eng.QueueLen(); got != 0 {
		t.Errorf("queue length with B in flight = %d, want 0", got)
	}

	// B's completion with an empty queue: engine goes idle.
	sink.release <- struct{}{}
	waitFor(t, "engine to go idle", func() bool { return eng.State() == audio.StateIdle })
}

// A chunk that fails to decode is skipped; playback continues with the
// next chunk.
func TestEngineSkipsUndecodableChunk(t *testing.T) {
	sink := audio.NewMockSink()
	eng := audio.NewEngine(audio.NewPCMDecoder(), sink, quietLogger())
	defer eng.Close()

	eng.Enqueue([]byte{0x01, 0x00})       // fine
	eng.Enqueue([]byte{0x01})             // misaligned, skipped
	eng.Enqueue([]byte{0x02, 0x00, 0x03}) // misaligned, skipped
	eng.Enqueue([]byte{0x04, 0x00})       // fine

	waitFor(t, "good chunks to play", func() bool { return len(sink.Played()) == 2 })

	played := sink.Played()
	if !bytes.Equal(played[0], []byte{0x01, 0x00}) || !bytes.Equal(played[1], []byte{0x04, 0x00}) {
		t.Errorf("played = %v, want the two aligned chunks", played)
	}
}

// A sink failure is skipped the same way; the machine never stalls.
func TestEngineSkipsFailedPlayback(t *testing.T) {
	sink := audio.NewMockSink()
	sink.FailOn = func(n int) error {
		if n == 1 {
			return errors.New("device gone")
		}
		return nil
	}

	eng := audio.NewEngine(passDecoder{}, sink, quietLogger())
	defer eng.Close()

	for _, c := range []string{"A", "B", "C"} {
		eng.Enqueue([]byte(c))
	}

	waitFor(t, "all chunks to be attempted", func() bool { return len(sink.Played()) == 3 })
	waitFor(t, "engine to go idle", func() bool { return eng.State() == audio.StateIdle })
}

func TestEngineCloseIsIdempotent(t *testing.T) {
	eng := audio.NewEngine(passDecoder{}, audio.NewMockSink(), quietLogger())
	eng.Close()
	eng.Close()
}

func TestStateString(t *testing.T) {
	if audio.StateIdle.String() != "idle" || audio.StatePlaying.String() != "playing" {
		t.Error("unexpected state names")
	}
}
