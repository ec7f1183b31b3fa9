package bridge

import (
	"io"
	"sync"

	"github.com/echolab/live-gateway/internal/capture"
)

// wsSource feeds browser media frames into the capture pipeline. Frames
// arrive on the websocket read loop and are pulled by the pipeline; the
// channel bounds buffering, dropping the oldest frame under pressure the
// same way the pipeline itself does.
type wsSource struct {
	sampleRate int
	micDenied  bool

	frames chan []float32
	quit   chan struct{}

	mu      sync.Mutex
	pending []float32 // partial frame carried between reads
	closed  bool
}

func newWSSource(sampleRate int, micDenied bool) *wsSource {
	return &wsSource{
		sampleRate: sampleRate,
		micDenied:  micDenied,
		frames:     make(chan []float32, 16),
		quit:       make(chan struct{}),
	}
}

// Start fails if the browser reported a denied microphone prompt.
func (s *wsSource) Start() error {
	if s.micDenied {
		return capture.ErrPermissionDenied
	}
	return nil
}

// push queues decoded samples from one media envelope, dropping the oldest
// queued frame under pressure.
func (s *wsSource) push(samples []float32) {
	for {
		select {
		case <-s.quit:
			return
		case s.frames <- samples:
			return
		default:
			select {
			case <-s.frames: // drop oldest
			default:
			}
		}
	}
}

// ReadFrame fills buf from queued browser frames, carrying remainders over
// to the next call. Blocks until at least some samples are available or the
// source closes; a closed source drains its queue before reporting EOF.
func (s *wsSource) ReadFrame(buf []float32) (int, error) {
	filled := 0

	s.mu.Lock()
	if len(s.pending) > 0 {
		n := copy(buf, s.pending)
		s.pending = s.pending[n:]
		filled += n
	}
	s.mu.Unlock()

	for filled < len(buf) {
		var frame []float32
		select {
		case frame = <-s.frames:
		case <-s.quit:
			// Drain whatever was queued before the close.
			select {
			case frame = <-s.frames:
			default:
				if filled == 0 {
					return 0, io.EOF
				}
				return filled, nil
			}
		}

		n := copy(buf[filled:], frame)
		filled += n
		if n < len(frame) {
			s.mu.Lock()
			s.pending = append(s.pending, frame[n:]...)
			s.mu.Unlock()
		}
	}

	return filled, nil
}

func (s *wsSource) SampleRate() int {
	return s.sampleRate
}

// Close stops the source. Safe to call more than once and concurrently with
// push and ReadFrame.
func (s *wsSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.quit)
	return nil
}

var _ capture.Source = (*wsSource)(nil)
