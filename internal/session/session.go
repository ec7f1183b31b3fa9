package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/echolab/live-gateway/internal/audio"
	"github.com/echolab/live-gateway/internal/capture"
	"github.com/echolab/live-gateway/internal/observability"
	"github.com/echolab/live-gateway/internal/playback"
	"github.com/rs/zerolog"
)

// State is the primary session state. Interruption is an event, not a state:
// it triggers playback interruption without leaving Active.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateClosed
)

// String returns the UI-visible name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrInvalidState is returned by Start when the session is not idle.
var ErrInvalidState = errors.New("session is not idle")

// EventType identifies a transport callback.
type EventType int

const (
	EventOpen EventType = iota
	EventMessage
	EventClosed
	EventError
)

// Event is one transport callback delivered to the session's event loop.
type Event struct {
	Type    EventType
	Payload []byte
	Err     error
}

// Transport is the bidirectional streaming channel to the remote inference
// endpoint: the only external dependency the session assumes.
type Transport interface {
	// Dial opens the connection. The transport emits EventOpen on its
	// Events channel once the channel is established.
	Dial(ctx context.Context) error

	// Send transmits one outbound packet. Fire-and-forget per frame; an
	// error drops the frame without tearing down the session.
	Send(payload []byte) error

	// Close closes the connection. Idempotent.
	Close() error

	// Events returns the stream of transport callbacks. The transport
	// closes the channel after EventClosed or EventError.
	Events() <-chan Event
}

// Config assembles a session's collaborators. Clock and sink are injectable
// so tests run without a live network or audio device.
type Config struct {
	Transport Transport
	Source    capture.Source

	// NewSink opens the playback sink. A failure fails Start.
	NewSink func() (playback.Sink, error)

	// Clock drives the playback scheduler. Nil selects the real clock.
	Clock playback.Clock

	InputRate   int // capture rate sent upstream, fixed per session
	OutputRate  int // playback rate of inbound audio, fixed per session
	FrameSize   int // samples per capture frame
	QueueFrames int // 0 = fire-and-forget capture

	VAD *audio.VADConfig // nil disables local barge-in detection

	// OnState, when set, observes every primary state transition.
	OnState func(State)

	Logger  zerolog.Logger
	Metrics *observability.SessionMetrics
}

// Session owns the connect → streaming → closed lifecycle, wiring the
// capture pipeline and playback scheduler to the transport. All state is
// session-scoped; nothing ambient is shared between sessions.
type Session struct {
	cfg       Config
	logger    zerolog.Logger
	metrics   *observability.SessionMetrics
	scheduler *playback.Scheduler
	pipeline  *capture.Pipeline

	mu    sync.RWMutex
	state State

	captureCancel context.CancelFunc
	done          chan struct{}
	stopOnce      sync.Once
}

// New creates an idle session from cfg.
func New(cfg Config) *Session {
	return &Session{
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		state:   StateIdle,
		done:    make(chan struct{}),
	}
}

// Start acquires the capture source, opens the playback sink, and dials the
// transport. Valid from idle only. Capture permission denial and playback
// device failure fail synchronously and leave the session idle; a dial
// failure is a transport error and closes the session.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: state is %s", ErrInvalidState, state)
	}
	s.mu.Unlock()

	if err := s.cfg.Source.Start(); err != nil {
		s.logger.Error().Err(err).Msg("Capture source refused")
		return fmt.Errorf("failed to start capture: %w", err)
	}

	sink, err := s.cfg.NewSink()
	if err != nil {
		s.cfg.Source.Close()
		s.logger.Error().Err(err).Msg("Playback sink unavailable")
		return fmt.Errorf("failed to open playback: %w", err)
	}

	clock := s.cfg.Clock
	if clock == nil {
		clock = playback.NewRealClock()
	}
	s.scheduler = playback.NewScheduler(clock, sink, s.logger)

	s.pipeline = capture.NewPipeline(s.cfg.Source, capture.PipelineConfig{
		FrameSize:   s.cfg.FrameSize,
		TargetRate:  s.cfg.InputRate,
		QueueFrames: s.cfg.QueueFrames,
		VAD:         s.cfg.VAD,
		OnSpeechStart: func() {
			s.logger.Info().Msg("Local speech detected, interrupting playback")
			s.scheduler.Interrupt()
			if s.metrics != nil {
				s.metrics.RecordInterruption("local")
			}
		},
		OnDrop: func() {
			if s.metrics != nil {
				s.metrics.RecordDroppedFrame()
			}
		},
	}, s.sendFrame, s.logger)

	s.setState(StateConnecting)

	if err := s.cfg.Transport.Dial(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Transport dial failed")
		if s.metrics != nil {
			s.metrics.RecordError("dial_error", "transport")
		}
		s.teardown()
		return fmt.Errorf("failed to open stream: %w", err)
	}

	go s.run()
	return nil
}

// run is the session's event loop, the sole consumer of transport callbacks
// and the only mutator of primary state after Start.
func (s *Session) run() {
	for ev := range s.cfg.Transport.Events() {
		switch ev.Type {
		case EventOpen:
			s.handleOpen()

		case EventMessage:
			s.handleMessage(ev.Payload)

		case EventError:
			s.logger.Error().Err(ev.Err).Msg("Transport error, closing session")
			if s.metrics != nil {
				s.metrics.RecordError("transport_error", "transport")
			}
			s.teardown()
			return

		case EventClosed:
			s.logger.Info().Msg("Transport closed")
			s.teardown()
			return
		}
	}
	// Events channel closed without a terminal event.
	s.teardown()
}

// handleOpen moves connecting → active and starts the capture pipeline.
func (s *Session) handleOpen() {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.state = StateActive
	captureCtx, cancel := context.WithCancel(context.Background())
	s.captureCancel = cancel
	s.mu.Unlock()

	s.notifyState(StateActive)
	s.logger.Info().Msg("Session active, capture streaming")
	go s.pipeline.Run(captureCtx)
}

// handleMessage processes one inbound streaming message. Messages received
// outside active are dropped. A malformed payload drops that one message;
// the session remains active.
func (s *Session) handleMessage(payload []byte) {
	if s.State() != StateActive {
		s.logger.Debug().Msg("Dropping message outside active state")
		return
	}

	msg, err := decodeInbound(payload)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Dropping unparseable server message")
		if s.metrics != nil {
			s.metrics.RecordMalformedPayload()
		}
		return
	}

	if msg.Interrupted {
		s.logger.Info().Msg("Server interruption, flushing playback")
		s.scheduler.Interrupt()
		if s.metrics != nil {
			s.metrics.RecordInterruption("server")
		}
		return
	}

	if msg.Audio == nil {
		return
	}

	data, err := audio.DecodeTransport(msg.Audio.Data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Dropping malformed audio payload")
		if s.metrics != nil {
			s.metrics.RecordMalformedPayload()
		}
		return
	}

	seg, err := audio.PCM16ToSegment(data, s.cfg.OutputRate, 1)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Dropping malformed audio payload")
		if s.metrics != nil {
			s.metrics.RecordMalformedPayload()
		}
		return
	}

	if s.metrics != nil {
		s.metrics.RecordAudioBytes("in", int64(len(data)))
	}
	if err := s.scheduler.Enqueue(seg); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to schedule segment")
	}
}

// sendFrame forwards one encoded capture frame while the session is active.
func (s *Session) sendFrame(encoded string) error {
	if s.State() != StateActive {
		return fmt.Errorf("session is not active")
	}

	payload, err := encodeOutbound(encoded, s.cfg.InputRate)
	if err != nil {
		return err
	}
	if err := s.cfg.Transport.Send(payload); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordAudioBytes("out", int64(len(encoded)))
	}
	return nil
}

// Stop tears down capture, releases the source, and closes the transport.
// Idempotent; calling it on a closed session is a no-op. Closed is terminal,
// a new session requires a fresh Start.
func (s *Session) Stop() {
	s.teardown()
}

// teardown performs the single transition to closed.
func (s *Session) teardown() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		wasIdle := s.state == StateIdle
		s.state = StateClosed
		cancel := s.captureCancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		s.cfg.Source.Close()
		if s.scheduler != nil {
			if err := s.scheduler.Close(); err != nil {
				s.logger.Warn().Err(err).Msg("Error closing playback")
			}
		}
		if err := s.cfg.Transport.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Error closing transport")
		}

		if !wasIdle {
			s.notifyState(StateClosed)
		}
		if s.metrics != nil {
			s.metrics.RecordSessionEnd()
		}
		s.logger.Info().Msg("Session closed")
		close(s.done)
	})
}

// State returns the current primary state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Done is closed when the session reaches the closed state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Scheduler exposes the playback scheduler for inspection. Nil before Start.
func (s *Session) Scheduler() *playback.Scheduler {
	return s.scheduler
}

// Pipeline exposes the capture pipeline for inspection. Nil before Start.
func (s *Session) Pipeline() *capture.Pipeline {
	return s.pipeline
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.notifyState(st)
}

func (s *Session) notifyState(st State) {
	if s.cfg.OnState != nil {
		s.cfg.OnState(st)
	}
}
