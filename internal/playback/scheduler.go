package playback

import (
	"errors"
	"sync"
	"time"

	"github.com/echolab/live-gateway/internal/audio"
	"github.com/rs/zerolog"
)

// ErrSchedulerClosed is returned by Enqueue after Close.
var ErrSchedulerClosed = errors.New("playback scheduler is closed")

// Sink receives scheduled PCM16 audio bytes. Implementations: the oto output
// device (console client) and the downstream websocket leg (bridge server).
type Sink interface {
	// Write outputs one segment's worth of 16-bit little-endian PCM.
	Write(pcm []byte) error

	// Flush discards any audio the sink has accepted but not yet played.
	Flush()

	// Close releases the sink.
	Close() error
}

// Handle represents one in-flight playback unit: the timer that starts it
// and the timer that marks its natural completion.
type Handle struct {
	segment    *audio.Segment
	startTimer Timer
	doneTimer  Timer
}

// Scheduler queues decoded audio segments for gapless back-to-back playback
// against a monotonic clock, and supports hard interruption (barge-in).
//
// Enqueue and Interrupt may be called from different goroutines; the handle
// set and the nextStart cursor are guarded by a single mutex.
type Scheduler struct {
	clock  Clock
	sink   Sink
	logger zerolog.Logger

	mu         sync.Mutex
	nextStart  time.Duration
	handles    map[*Handle]struct{}
	generation uint64
	closed     bool

	// writeMu serializes sink writes against the interrupt flush, so audio
	// written concurrently with an interrupt is always flushed rather than
	// surviving it.
	writeMu sync.Mutex
}

// NewScheduler creates a scheduler writing to sink on the given clock.
func NewScheduler(clock Clock, sink Sink, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		clock:   clock,
		sink:    sink,
		logger:  logger,
		handles: make(map[*Handle]struct{}),
	}
}

// Enqueue schedules a segment to start at max(nextStart, now) and advances
// the cursor by the segment's duration. Segments always play in submission
// order; late arrivals are clamped to now rather than starting in the past.
func (s *Scheduler) Enqueue(seg *audio.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSchedulerClosed
	}

	now := s.clock.Now()
	startAt := s.nextStart
	if now > startAt {
		startAt = now
	}

	h := &Handle{segment: seg}
	s.handles[h] = struct{}{}
	h.startTimer = s.clock.AfterFunc(startAt-now, func() { s.play(h) })
	s.nextStart = startAt + seg.Duration()

	s.logger.Debug().
		Dur("start_at", startAt).
		Dur("duration", seg.Duration()).
		Dur("next_start", s.nextStart).
		Msg("Segment scheduled")

	return nil
}

// play runs when a handle's start time is reached. It writes the segment to
// the sink and arms the completion timer.
func (s *Scheduler) play(h *Handle) {
	s.mu.Lock()
	if _, ok := s.handles[h]; !ok {
		// Interrupted between firing and acquiring the lock.
		s.mu.Unlock()
		return
	}
	gen := s.generation
	duration := h.segment.Duration()
	pcm := audio.SegmentToPCM16(h.segment)
	h.doneTimer = s.clock.AfterFunc(duration, func() { s.complete(h) })
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// An interrupt may have landed between the handle check and here; its
	// flush either already discarded this handle (stale generation, skip the
	// write) or is queued behind writeMu and will discard what we write now.
	s.mu.Lock()
	stale := s.generation != gen
	s.mu.Unlock()
	if stale {
		return
	}

	if err := s.sink.Write(pcm); err != nil {
		s.logger.Error().Err(err).Msg("Sink write failed")
	}
}

// complete removes a handle when its playback ends naturally.
func (s *Scheduler) complete(h *Handle) {
	s.mu.Lock()
	delete(s.handles, h)
	s.mu.Unlock()
}

// Interrupt immediately stops every pending and active handle, clears the
// set, resets the cursor to zero, and flushes the sink. The next Enqueue
// re-anchors to the live clock.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	for h := range s.handles {
		if h.startTimer != nil {
			h.startTimer.Stop()
		}
		if h.doneTimer != nil {
			h.doneTimer.Stop()
		}
	}
	count := len(s.handles)
	s.handles = make(map[*Handle]struct{})
	s.nextStart = 0
	s.generation++
	s.mu.Unlock()

	s.writeMu.Lock()
	s.sink.Flush()
	s.writeMu.Unlock()

	if count > 0 {
		s.logger.Info().Int("cancelled", count).Msg("Playback interrupted")
	}
}

// ActiveHandles returns the number of handles that have been enqueued and
// not yet completed or interrupted.
func (s *Scheduler) ActiveHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// NextStart returns the current cursor position.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Close interrupts playback and closes the sink. Further Enqueue calls fail
// with ErrSchedulerClosed.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.Interrupt()
	return s.sink.Close()
}
