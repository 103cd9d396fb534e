package audio

// Sink plays decoded PCM. Play blocks until playback of the given
// buffer has fully completed; its return is the completion signal the
// engine relies on for ordering. Implementations must be safe for use
// from the single drain goroutine, which never calls Play concurrently.
type Sink interface {
	Play(pcm []byte) error
}
