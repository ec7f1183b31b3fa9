package playback

import (
	"sync"
	"testing"
	"time"

	"github.com/echolab/live-gateway/internal/audio"
	"github.com/rs/zerolog"
)

// recordingSink captures scheduled writes and flushes for assertions.
type recordingSink struct {
	mu      sync.Mutex
	writes  [][]byte
	flushes int
	closed  bool
}

func (s *recordingSink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.writes = append(s.writes, cp)
	return nil
}

func (s *recordingSink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

// segmentOf builds a mono segment of the given duration at 24kHz with a
// distinguishing first sample.
func segmentOf(d time.Duration, marker float32) *audio.Segment {
	frames := int(float64(24000) * d.Seconds())
	data := make([]float32, frames)
	if frames > 0 {
		data[0] = marker
	}
	return &audio.Segment{SampleRate: 24000, Channels: 1, Data: [][]float32{data}}
}

func newTestScheduler() (*Scheduler, *ManualClock, *recordingSink) {
	clock := NewManualClock()
	sink := &recordingSink{}
	sched := NewScheduler(clock, sink, zerolog.Nop())
	return sched, clock, sink
}

func TestScheduler_BackToBack(t *testing.T) {
	sched, clock, sink := newTestScheduler()

	// Segment A (2.0s) enqueued at clock time 0
	if err := sched.Enqueue(segmentOf(2*time.Second, 0.1)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if sched.NextStart() != 2*time.Second {
		t.Errorf("Expected nextStart 2s after segment A, got %v", sched.NextStart())
	}

	// Advance to 0.5s, enqueue segment B (1.0s): it must start at 2.0, not 0.5
	clock.Advance(500 * time.Millisecond)
	if err := sched.Enqueue(segmentOf(time.Second, 0.2)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if sched.NextStart() != 3*time.Second {
		t.Errorf("Expected nextStart 3s after segment B, got %v", sched.NextStart())
	}

	// A has already started (start time 0 <= 0.5); B has not
	if sink.writeCount() != 1 {
		t.Fatalf("Expected 1 write after 0.5s, got %d", sink.writeCount())
	}

	// At 2.0s segment A completes and B starts
	clock.Advance(1500 * time.Millisecond)
	if sink.writeCount() != 2 {
		t.Fatalf("Expected 2 writes at 2.0s, got %d", sink.writeCount())
	}
	if sink.writes[0][0] != byte(audio.FloatToPCM16(0.1)) {
		t.Error("Segments written out of order")
	}

	// At 3.0s everything has completed
	clock.Advance(time.Second)
	if sched.ActiveHandles() != 0 {
		t.Errorf("Expected 0 active handles after playback, got %d", sched.ActiveHandles())
	}
}

func TestScheduler_LateArrivalClampsToNow(t *testing.T) {
	sched, clock, sink := newTestScheduler()

	sched.Enqueue(segmentOf(time.Second, 0.1))
	clock.Advance(time.Second)

	// Cursor is at 1.0s but the clock is already at 1.0s; enqueue at 5.0s
	// must start at 5.0s, never in the past.
	clock.Advance(4 * time.Second)
	sched.Enqueue(segmentOf(time.Second, 0.2))
	if sched.NextStart() != 6*time.Second {
		t.Errorf("Expected nextStart 6s for late arrival, got %v", sched.NextStart())
	}

	clock.Advance(0)
	if sink.writeCount() != 2 {
		t.Errorf("Expected late segment to start immediately, writes=%d", sink.writeCount())
	}
}

func TestScheduler_Interrupt(t *testing.T) {
	sched, clock, sink := newTestScheduler()

	sched.Enqueue(segmentOf(2*time.Second, 0.1))
	sched.Enqueue(segmentOf(time.Second, 0.2))
	clock.Advance(100 * time.Millisecond) // A playing, B pending

	sched.Interrupt()

	if sched.ActiveHandles() != 0 {
		t.Errorf("Expected 0 active handles after interrupt, got %d", sched.ActiveHandles())
	}
	if sched.NextStart() != 0 {
		t.Errorf("Expected nextStart reset to 0, got %v", sched.NextStart())
	}
	if sink.flushes != 1 {
		t.Errorf("Expected 1 sink flush, got %d", sink.flushes)
	}

	// B's start timer was cancelled; advancing must not play it
	writesBefore := sink.writeCount()
	clock.Advance(5 * time.Second)
	if sink.writeCount() != writesBefore {
		t.Error("Cancelled segment played after interrupt")
	}

	// The next enqueue re-anchors to the live clock
	sched.Enqueue(segmentOf(time.Second, 0.3))
	if sched.NextStart() != clock.Now()+time.Second {
		t.Errorf("Expected nextStart %v, got %v", clock.Now()+time.Second, sched.NextStart())
	}
}

// gateSink blocks its first Write until released, recording the order of
// writes and flushes.
type gateSink struct {
	started chan struct{}
	release chan struct{}

	mu     sync.Mutex
	events []string
}

func newGateSink() *gateSink {
	return &gateSink{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *gateSink) Write(pcm []byte) error {
	close(s.started)
	<-s.release
	s.mu.Lock()
	s.events = append(s.events, "write")
	s.mu.Unlock()
	return nil
}

func (s *gateSink) Flush() {
	s.mu.Lock()
	s.events = append(s.events, "flush")
	s.mu.Unlock()
}

func (s *gateSink) Close() error { return nil }

func (s *gateSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func TestScheduler_InterruptFlushesInFlightWrite(t *testing.T) {
	clock := NewManualClock()
	sink := newGateSink()
	sched := NewScheduler(clock, sink, zerolog.Nop())

	sched.Enqueue(segmentOf(time.Second, 0.1))

	advanced := make(chan struct{})
	go func() {
		clock.Advance(0) // fires the segment, which blocks inside Write
		close(advanced)
	}()
	<-sink.started

	interrupted := make(chan struct{})
	go func() {
		sched.Interrupt()
		close(interrupted)
	}()

	// The flush must wait for the in-flight write so the written audio is
	// discarded rather than surviving the barge-in
	select {
	case <-interrupted:
		t.Fatal("Interrupt finished while a write was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(sink.release)
	<-advanced
	select {
	case <-interrupted:
	case <-time.After(time.Second):
		t.Fatal("Interrupt did not finish after the write completed")
	}

	events := sink.snapshot()
	if len(events) != 2 || events[0] != "write" || events[1] != "flush" {
		t.Errorf("Expected write then flush, got %v", events)
	}
}

func TestScheduler_OrderPreserved(t *testing.T) {
	sched, clock, sink := newTestScheduler()

	markers := []float32{0.1, 0.2, 0.3, 0.4}
	for _, m := range markers {
		sched.Enqueue(segmentOf(100*time.Millisecond, m))
	}

	clock.Advance(time.Second)

	if sink.writeCount() != len(markers) {
		t.Fatalf("Expected %d writes, got %d", len(markers), sink.writeCount())
	}
	for i, m := range markers {
		if sink.writes[i][0] != byte(audio.FloatToPCM16(m)) {
			t.Errorf("Write %d out of order", i)
		}
	}
}

func TestScheduler_Close(t *testing.T) {
	sched, _, sink := newTestScheduler()

	sched.Enqueue(segmentOf(time.Second, 0.1))
	if err := sched.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !sink.closed {
		t.Error("Expected sink closed")
	}

	if err := sched.Enqueue(segmentOf(time.Second, 0.2)); err != ErrSchedulerClosed {
		t.Errorf("Expected ErrSchedulerClosed, got %v", err)
	}

	// Second close is a no-op
	if err := sched.Close(); err != nil {
		t.Errorf("Expected nil from second Close, got %v", err)
	}
}

func TestManualClock_AdvanceFiresInOrder(t *testing.T) {
	clock := NewManualClock()

	var order []int
	clock.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	clock.AfterFunc(time.Second, func() { order = append(order, 1) })
	clock.AfterFunc(3*time.Second, func() { order = append(order, 3) })

	clock.Advance(10 * time.Second)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("Timers fired out of order: %v", order)
	}
	if clock.Now() != 10*time.Second {
		t.Errorf("Expected clock at 10s, got %v", clock.Now())
	}
}

func TestManualClock_Stop(t *testing.T) {
	clock := NewManualClock()

	fired := false
	timer := clock.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Error("Expected Stop to return true for pending timer")
	}

	clock.Advance(2 * time.Second)
	if fired {
		t.Error("Stopped timer fired")
	}
	if timer.Stop() {
		t.Error("Expected Stop to return false for stopped timer")
	}
}
