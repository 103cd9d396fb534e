package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Audio format constants for the synthesized speech stream.
const (
	// SampleRate is the audio sample rate in Hz.
	SampleRate = 22050
	// Channels is the number of audio channels (1 = mono).
	Channels = 1
	// BitDepth is the bit depth per sample (16-bit).
	BitDepth = 16
	// BytesPerSample is the number of bytes per sample.
	BytesPerSample = BitDepth / 8
)

// ErrEmptyChunk is returned when a zero-length chunk is decoded.
var ErrEmptyChunk = errors.New("audio: empty chunk")

// Decoder turns a raw streamed chunk into playable PCM.
type Decoder interface {
	Decode(chunk []byte) ([]byte, error)
}

// PCMDecoder decodes chunks that are either raw signed 16-bit
// little-endian PCM or a complete WAV file, in which case the RIFF
// framing is stripped and the data payload returned.
type PCMDecoder struct{}

// NewPCMDecoder creates a PCM decoder.
func NewPCMDecoder() *PCMDecoder {
	return &PCMDecoder{}
}

// Decode implements Decoder.
func (d *PCMDecoder) Decode(chunk []byte) ([]byte, error) {
	if len(chunk) == 0 {
		return nil, ErrEmptyChunk
	}

	pcm := chunk
	if isWAV(chunk) {
		var err error
		pcm, err = wavData(chunk)
		if err != nil {
			return nil, err
		}
	}

	if len(pcm)%BytesPerSample != 0 {
		return nil, fmt.Errorf("audio: chunk length %d is not aligned to %d-byte samples",
			len(pcm), BytesPerSample)
	}
	return pcm, nil
}

// isWAV reports whether the chunk carries RIFF/WAVE framing.
func isWAV(chunk []byte) bool {
	return len(chunk) >= 12 &&
		bytes.Equal(chunk[0:4], []byte("RIFF")) &&
		bytes.Equal(chunk[8:12], []byte("WAVE"))
}

// wavData walks the RIFF chunks and returns the data payload.
func wavData(chunk []byte) ([]byte, error) {
	offset := 12
	for offset+8 <= len(chunk) {
		id := chunk[offset : offset+4]
		size := int(binary.LittleEndian.Uint32(chunk[offset+4 : offset+8]))
		offset += 8

		if offset+size > len(chunk) {
			return nil, fmt.Errorf("audio: truncated %q chunk", id)
		}
		if bytes.Equal(id, []byte("data")) {
			return chunk[offset : offset+size], nil
		}

		offset += size
		if size%2 == 1 {
			offset++ // RIFF chunks are word-aligned
		}
	}
	return nil, errors.New("audio: no data chunk in WAV payload")
}
