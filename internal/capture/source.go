package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrPermissionDenied indicates the capture device was refused. Session
// start fails synchronously and the session stays idle.
var ErrPermissionDenied = errors.New("capture permission denied")

// Source supplies live audio frames to the capture pipeline. Samples are
// normalized floats in [-1, 1].
type Source interface {
	// Start acquires the underlying capture device. Returns
	// ErrPermissionDenied if access is refused.
	Start() error

	// ReadFrame fills buf with up to len(buf) samples and returns the count.
	// io.EOF means the source is exhausted; the pipeline stops sending.
	ReadFrame(buf []float32) (int, error)

	// SampleRate returns the source's native sample rate in Hz.
	SampleRate() int

	// Close releases the capture device. Safe to call more than once.
	Close() error
}

// ReaderSource adapts an io.Reader of raw 16-bit little-endian mono PCM into
// a Source. Used by the console client to stream stdin or a file.
type ReaderSource struct {
	r          io.Reader
	sampleRate int

	mu     sync.Mutex
	closed bool
}

// NewReaderSource creates a source reading PCM16 from r at the given rate.
func NewReaderSource(r io.Reader, sampleRate int) *ReaderSource {
	return &ReaderSource{r: r, sampleRate: sampleRate}
}

// Start is a no-op; the reader is already open.
func (s *ReaderSource) Start() error {
	return nil
}

// ReadFrame reads one frame of samples, converting PCM16 to floats.
func (s *ReaderSource) ReadFrame(buf []float32) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, io.EOF
	}
	s.mu.Unlock()

	raw := make([]byte, len(buf)*2)
	n, err := io.ReadFull(s.r, raw)
	if n == 0 {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return 0, err
	}
	if n%2 != 0 {
		n-- // drop a trailing half sample
	}

	samples := n / 2
	for i := 0; i < samples; i++ {
		v := int16(raw[i*2]) | int16(raw[i*2+1])<<8
		buf[i] = float32(v) / 32768.0
	}

	if err == io.ErrUnexpectedEOF {
		err = nil // partial frame is still a frame; EOF surfaces next read
	}
	if err == io.EOF && samples > 0 {
		err = nil
	}
	if err != nil && err != io.EOF {
		return samples, fmt.Errorf("capture read failed: %w", err)
	}
	return samples, err
}

// SampleRate returns the configured rate.
func (s *ReaderSource) SampleRate() int {
	return s.sampleRate
}

// Close marks the source exhausted.
func (s *ReaderSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Source = (*ReaderSource)(nil)
