package playback

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// ErrDeviceUnavailable indicates the output audio device could not be
// created. It fails session start.
var ErrDeviceUnavailable = errors.New("playback device unavailable")

// DeviceSink plays PCM16 audio on the local output device via oto. A pipe
// feeds a persistent player so sequential writes play back-to-back; Flush
// swaps the pipe and player to drop anything already buffered.
type DeviceSink struct {
	otoCtx     *oto.Context
	sampleRate int
	channels   int

	mu         sync.Mutex
	player     *oto.Player
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	closed     bool
}

// NewDeviceSink opens the output device for 16-bit mono playback at the
// given sample rate. oto allows a single context per process.
func NewDeviceSink(sampleRate, channels int) (*DeviceSink, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	<-readyChan

	s := &DeviceSink{
		otoCtx:     ctx,
		sampleRate: sampleRate,
		channels:   channels,
	}
	s.resetPlayer()
	return s, nil
}

// resetPlayer creates a fresh pipe and player. Caller must hold mu or be the
// constructor.
func (s *DeviceSink) resetPlayer() {
	s.pipeReader, s.pipeWriter = io.Pipe()
	s.player = s.otoCtx.NewPlayer(s.pipeReader)
	s.player.Play()
}

// Write blocks until the PCM bytes have been handed to the device pipeline.
func (s *DeviceSink) Write(pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: sink closed", ErrDeviceUnavailable)
	}
	w := s.pipeWriter
	s.mu.Unlock()

	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("device write failed: %w", err)
	}
	return nil
}

// Flush drops buffered audio by replacing the player and pipe.
func (s *DeviceSink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.pipeWriter.Close()
	s.player.Close()
	s.pipeReader.Close()
	s.resetPlayer()
}

// Close releases the player and suspends the device context.
func (s *DeviceSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.pipeWriter.Close()
	s.player.Close()
	s.pipeReader.Close()
	return s.otoCtx.Suspend()
}

var _ Sink = (*DeviceSink)(nil)
