package audio

import (
	"sync"

	"github.com/charmbracelet/log"
)

// State is the playback engine state.
type State int

const (
	// StateIdle indicates no chunk is playing.
	StateIdle State = iota
	// StatePlaying indicates exactly one chunk is being decoded/played.
	StatePlaying
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// Engine drains the chunk queue one chunk at a time. Completion of
// chunk n's playback is a precondition for chunk n+1 starting; chunks
// are never played concurrently or out of order.
//
// The state machine has two states. Idle: the drain goroutine waits on
// a condition variable until Enqueue signals. Playing: the current
// chunk is decoded and handed to the sink; Play returning is the
// completion signal, after which the next chunk is dequeued or the
// engine returns to Idle. A decode or playback failure skips the chunk
// with a logged diagnostic rather than stalling the machine.
type Engine struct {
	queue  *ChunkQueue
	dec    Decoder
	sink   Sink
	logger *log.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	state  State
	closed bool
	wg     sync.WaitGroup
}

// NewEngine creates an engine and starts its drain goroutine. The
// engine is the sole consumer of its queue; no other component may
// mutate playback state.
func NewEngine(dec Decoder, sink Sink, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	e := &Engine{
		queue:  NewChunkQueue(),
		dec:    dec,
		sink:   sink,
		logger: logger,
		state:  StateIdle,
	}
	e.cond = sync.NewCond(&e.mu)

	e.wg.Add(1)
	go e.drain()

	return e
}

// Enqueue appends a chunk and wakes the drain goroutine if it is idle.
// It never blocks the producer.
func (e *Engine) Enqueue(chunk []byte) {
	e.queue.Enqueue(chunk)

	e.mu.Lock()
	e.cond.Signal()
	e.mu.Unlock()
}

// State returns the current engine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// QueueLen returns the number of chunks waiting to be played.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Close stops the drain goroutine after the current chunk (if any)
// finishes. Queued chunks that have not started are dropped.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.cond.Broadcast()
	e.mu.Unlock()

	e.wg.Wait()
}

// drain is the engine's single transition loop. It holds the state
// lock only around transitions, never across a decode or play.
func (e *Engine) drain() {
	defer e.wg.Done()

	for {
		e.mu.Lock()
		for !e.closed && e.queue.Len() == 0 {
			e.state = StateIdle
			e.cond.Wait()
		}
		if e.closed {
			e.state = StateIdle
			e.mu.Unlock()
			return
		}

		chunk, ok := e.queue.TryDequeue()
		if !ok {
			e.mu.Unlock()
			continue
		}
		e.state = StatePlaying
		e.mu.Unlock()

		pcm, err := e.dec.Decode(chunk)
		if err != nil {
			e.logger.Warn("skipping undecodable chunk", "bytes", len(chunk), "err", err)
			continue
		}

		// Play blocks until the chunk has finished; its return is the
		// completion signal that gates the next dequeue.
		if err := e.sink.Play(pcm); err != nil {
			e.logger.Warn("skipping failed chunk", "bytes", len(pcm), "err", err)
		}
	}
}
