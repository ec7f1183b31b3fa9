package bridge

import (
	"fmt"
	"sync"

	"github.com/echolab/live-gateway/internal/audio"
	"github.com/echolab/live-gateway/internal/playback"
)

// envelopeWriter serializes writes to the downstream websocket; the handler
// provides one per connection.
type envelopeWriter interface {
	writeEnvelope(env *ServerEnvelope) error
}

// wsSink delivers scheduled playback audio to the browser. Audio passes
// through a ring buffer to smooth bursty segment writes into steadier media
// envelopes; Flush clears the buffer and tells the browser to discard
// whatever it has queued (barge-in).
type wsSink struct {
	out    envelopeWriter
	buffer *audio.RingBuffer

	mu     sync.Mutex
	closed bool
}

func newWSSink(out envelopeWriter, bufferSize int) *wsSink {
	return &wsSink{
		out:    out,
		buffer: audio.NewRingBuffer(bufferSize),
	}
}

// Write buffers the PCM bytes and forwards them as media envelopes. Segments
// larger than the ring capacity are delivered in full across several
// envelopes; nothing is discarded.
func (s *wsSink) Write(pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("bridge sink is closed")
	}
	s.mu.Unlock()

	for len(pcm) > 0 {
		n := s.buffer.Write(pcm)
		if n == 0 && s.buffer.IsEmpty() {
			return fmt.Errorf("bridge buffer too small for segment write")
		}
		pcm = pcm[n:]
		if err := s.drain(); err != nil {
			return err
		}
	}
	return nil
}

// drain sends everything currently buffered as one media envelope.
func (s *wsSink) drain() error {
	data := make([]byte, s.buffer.Available())
	n := s.buffer.Read(data)
	if n == 0 {
		return nil
	}

	env := &ServerEnvelope{
		Event: "media",
		Media: &MediaEvent{Payload: audio.EncodeTransport(data[:n])},
	}
	if err := s.out.writeEnvelope(env); err != nil {
		return fmt.Errorf("failed to send audio downstream: %w", err)
	}
	return nil
}

// Flush discards buffered audio and instructs the browser to clear its
// playback queue.
func (s *wsSink) Flush() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.buffer.Clear()
	_ = s.out.writeEnvelope(&ServerEnvelope{Event: "clear"})
}

// Close marks the sink closed. The websocket itself belongs to the handler.
func (s *wsSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ playback.Sink = (*wsSink)(nil)
