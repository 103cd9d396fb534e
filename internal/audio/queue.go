// Package audio implements ordered playback of streamed speech chunks:
// an unbounded arrival queue drained by a two-state playback engine
// that plays exactly one chunk at a time.
package audio

import (
	"sync"
	"time"
)

// ChunkQueue is an unbounded FIFO of audio chunks. It decouples the
// arrival rate on the realtime channel from the playback rate by
// growing rather than ever blocking the producer. Arrival order is
// preserved exactly; there is no deduplication and no capacity limit.
type ChunkQueue struct {
	mu     sync.Mutex
	chunks [][]byte
	stats  QueueStats
}

// QueueStats tracks queue activity.
type QueueStats struct {
	TotalEnqueued int64
	TotalDequeued int64
	CurrentLen    int
	PeakLen       int
	LastEnqueue   time.Time
	LastDequeue   time.Time
}

// NewChunkQueue creates an empty chunk queue.
func NewChunkQueue() *ChunkQueue {
	return &ChunkQueue{}
}

// Enqueue appends a chunk to the tail. It never blocks.
func (q *ChunkQueue) Enqueue(chunk []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.chunks = append(q.chunks, chunk)
	q.stats.TotalEnqueued++
	q.stats.LastEnqueue = time.Now()
	q.stats.CurrentLen = len(q.chunks)
	if q.stats.CurrentLen > q.stats.PeakLen {
		q.stats.PeakLen = q.stats.CurrentLen
	}
}

// TryDequeue removes and returns the head, or reports an empty queue.
func (q *ChunkQueue) TryDequeue() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.chunks) == 0 {
		return nil, false
	}

	chunk := q.chunks[0]
	q.chunks[0] = nil // release the head's backing array
	q.chunks = q.chunks[1:]

	q.stats.TotalDequeued++
	q.stats.LastDequeue = time.Now()
	q.stats.CurrentLen = len(q.chunks)
	return chunk, true
}

// Len returns the current number of queued chunks.
func (q *ChunkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}

// Stats returns a snapshot of queue statistics.
func (q *ChunkQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := q.stats
	stats.CurrentLen = len(q.chunks)
	return stats
}
