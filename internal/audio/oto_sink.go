package audio

import (
	"bytes"
	"fmt"
	"runtime"
	"time"

	"github.com/ebitengine/oto/v3"
)

// OtoSink plays PCM through the system audio device using oto. The
// context is created once and reused for every chunk.
type OtoSink struct {
	context *oto.Context
}

// NewOtoSink initializes the audio device for the stream format and
// waits for it to become ready.
func NewOtoSink() (*OtoSink, error) {
	options := &oto.NewContextOptions{
		SampleRate:   SampleRate,
		ChannelCount: Channels,
		Format:       oto.FormatSignedInt16LE,
	}

	// Platform-specific buffer size adjustments.
	switch runtime.GOOS {
	case "darwin":
		options.BufferSize = time.Millisecond * 100
	default:
		options.BufferSize = time.Millisecond * 50
	}

	context, readyChan, err := oto.NewContext(options)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio context: %w", err)
	}
	<-readyChan

	return &OtoSink{context: context}, nil
}

// Play implements Sink. It returns once the device has drained the
// whole buffer.
func (s *OtoSink) Play(pcm []byte) error {
	player := s.context.NewPlayer(bytes.NewReader(pcm))
	player.Play()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if err := player.Err(); err != nil {
			_ = player.Close()
			return fmt.Errorf("playback failed: %w", err)
		}
		if !player.IsPlaying() {
			break
		}
	}

	if err := player.Close(); err != nil {
		return fmt.Errorf("failed to close player: %w", err)
	}
	return nil
}
