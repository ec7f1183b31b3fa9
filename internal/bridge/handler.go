package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/echolab/live-gateway/internal/audio"
	"github.com/echolab/live-gateway/internal/capture"
	"github.com/echolab/live-gateway/internal/config"
	"github.com/echolab/live-gateway/internal/live"
	"github.com/echolab/live-gateway/internal/observability"
	"github.com/echolab/live-gateway/internal/playback"
	"github.com/echolab/live-gateway/internal/session"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// In production, validate origin against the notebook frontend's
		// allowed hosts. For now, allow all origins (development only).
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// conn wraps the downstream websocket with a write mutex; gorilla allows a
// single concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeEnvelope(env *ServerEnvelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(env)
}

// Handler returns the websocket endpoint that bridges a browser client to
// the upstream inference endpoint. Each connection gets its own session.
func Handler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger := observability.GetLogger()
			logger.Error().Err(err).Msg("Failed to upgrade connection")
			return
		}
		defer ws.Close()

		correlationID := observability.NewCorrelationID()
		logger := observability.WithCorrelationID(correlationID)

		b := &bridgeConn{
			conn:   &conn{ws: ws},
			cfg:    cfg,
			logger: logger,
		}
		b.serve(r.Context())
	}
}

// bridgeConn is the per-connection bridge state: the downstream websocket,
// the session it opened, and the browser-fed source.
type bridgeConn struct {
	conn   *conn
	cfg    *config.Config
	logger zerolog.Logger

	source *wsSource
	sess   *session.Session
}

// serve drives one downstream connection: wait for the start envelope, open
// the session, then pump media frames until stop or disconnect.
func (b *bridgeConn) serve(ctx context.Context) {
	defer func() {
		if b.sess != nil {
			b.sess.Stop()
		}
	}()

	for {
		_, payload, err := b.conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Warn().Err(err).Msg("Downstream read error")
			}
			return
		}

		var env ClientEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			b.logger.Error().Err(err).Msg("Failed to parse client envelope")
			continue
		}

		switch env.Event {
		case "start":
			if err := b.handleStart(ctx, env.Start); err != nil {
				b.sendError(err)
			}

		case "media":
			b.handleMedia(env.Media)

		case "stop":
			b.logger.Info().Msg("Client requested stop")
			if b.sess != nil {
				b.sess.Stop()
			}
			return

		default:
			b.logger.Warn().Str("event", env.Event).Msg("Unknown client event")
		}
	}
}

// handleStart opens the session for this connection.
func (b *bridgeConn) handleStart(ctx context.Context, start *StartEvent) error {
	if b.sess != nil {
		return errors.New("session already started")
	}
	if start == nil {
		return errors.New("start event missing payload")
	}

	sampleRate := start.SampleRate
	if sampleRate == 0 {
		sampleRate = b.cfg.InputSampleRate
	}
	micDenied := start.Microphone == "denied"

	b.source = newWSSource(sampleRate, micDenied)
	sink := newWSSink(b.conn, b.cfg.BridgeBufferSize)

	sessionID := start.SessionID
	if sessionID == "" {
		sessionID = observability.NewCorrelationID()
	}
	logger := b.logger.With().Str("session_id", sessionID).Logger()
	metrics := observability.NewSessionMetrics(sessionID)

	var vadCfg *audio.VADConfig
	if b.cfg.VADEnabled {
		vadCfg = &audio.VADConfig{
			EnergyThreshold: b.cfg.VADEnergyThreshold,
			SilenceFrames:   b.cfg.VADSilenceFrames,
		}
	}

	b.sess = session.New(session.Config{
		Transport:   live.NewClient(b.cfg, logger),
		Source:      b.source,
		NewSink:     func() (playback.Sink, error) { return sink, nil },
		InputRate:   b.cfg.InputSampleRate,
		OutputRate:  b.cfg.OutputSampleRate,
		FrameSize:   b.cfg.FrameSize,
		QueueFrames: b.cfg.CaptureQueueFrames,
		VAD:         vadCfg,
		OnState: func(st session.State) {
			_ = b.conn.writeEnvelope(&ServerEnvelope{Event: "state", State: st.String()})
		},
		Logger:  logger,
		Metrics: metrics,
	})

	if err := b.sess.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to start session")
		b.sess = nil
		if errors.Is(err, capture.ErrPermissionDenied) {
			// Session stays idle; the client may retry after granting access.
			b.source = nil
		}
		return err
	}

	logger.Info().Str("microphone", start.Microphone).Msg("Session started")
	return nil
}

// handleMedia decodes one browser frame and feeds the capture source.
func (b *bridgeConn) handleMedia(media *MediaEvent) {
	if b.source == nil || b.sess == nil {
		return
	}
	if media == nil || media.Payload == "" {
		b.logger.Warn().Msg("Media event missing payload")
		return
	}

	data, err := audio.DecodeTransport(media.Payload)
	if err != nil {
		b.logger.Warn().Err(err).Msg("Dropping malformed client frame")
		return
	}

	samples := make([]float32, len(data)/2)
	for i := range samples {
		v := int16(data[i*2]) | int16(data[i*2+1])<<8
		samples[i] = float32(v) / 32768.0
	}
	b.source.push(samples)
}

func (b *bridgeConn) sendError(err error) {
	_ = b.conn.writeEnvelope(&ServerEnvelope{Event: "error", Error: err.Error()})
}
