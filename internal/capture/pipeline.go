package capture

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/echolab/live-gateway/internal/audio"
	"github.com/rs/zerolog"
)

// SendFunc forwards one transport-encoded packet to the open session.
type SendFunc func(encoded string) error

// PipelineConfig configures a capture pipeline.
type PipelineConfig struct {
	// FrameSize is the fixed number of samples pulled per iteration. Fixed
	// to bound per-call latency; the send cadence must track real time.
	FrameSize int

	// TargetRate is the sample rate expected by the transport (16000 Hz).
	// Frames are resampled when the source's native rate differs.
	TargetRate int

	// QueueFrames bounds the frame queue between capture and send. Zero
	// means fire-and-forget: each frame is sent inline and dropped if the
	// transport refuses it. Positive values decouple capture from send with
	// a drop-oldest queue.
	QueueFrames int

	// VAD enables local speech detection on outbound frames. Nil disables.
	VAD *audio.VADConfig

	// OnSpeechStart fires when VAD detects the start of user speech. The
	// session uses it to interrupt playback locally (barge-in).
	OnSpeechStart func()

	// OnDrop fires once per dropped frame.
	OnDrop func()
}

// Pipeline pulls fixed-size frames from a Source, converts them to 16-bit
// PCM, encodes them for transport, and pushes them to the session for as
// long as it runs. Frames the transport cannot accept are dropped, never
// queued unboundedly.
type Pipeline struct {
	src    Source
	cfg    PipelineConfig
	send   SendFunc
	vad    *audio.VADDetector
	logger zerolog.Logger

	framesSent    atomic.Int64
	framesDropped atomic.Int64
}

// NewPipeline creates a capture pipeline. send is called once per frame.
func NewPipeline(src Source, cfg PipelineConfig, send SendFunc, logger zerolog.Logger) *Pipeline {
	p := &Pipeline{
		src:    src,
		cfg:    cfg,
		send:   send,
		logger: logger,
	}
	if cfg.VAD != nil {
		p.vad = audio.NewVADDetector(cfg.VAD)
	}
	return p
}

// Run captures until ctx is cancelled or the source is exhausted. It blocks;
// the session runs it in its own goroutine.
func (p *Pipeline) Run(ctx context.Context) {
	if p.cfg.QueueFrames <= 0 {
		p.runDirect(ctx)
		return
	}
	p.runQueued(ctx)
}

// runDirect is the fire-and-forget path: one read, one send, per iteration.
func (p *Pipeline) runDirect(ctx context.Context) {
	buf := make([]float32, p.cfg.FrameSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := p.src.ReadFrame(buf)
		if n > 0 {
			p.processFrame(buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				p.logger.Error().Err(err).Msg("Capture source error")
			}
			return
		}
	}
}

// runQueued decouples capture from send with a bounded frame queue. When the
// queue is full the oldest frame is dropped, keeping delivery in order but
// lossy under transport stall.
func (p *Pipeline) runQueued(ctx context.Context) {
	queue := make(chan []float32, p.cfg.QueueFrames)

	go func() {
		defer close(queue)
		buf := make([]float32, p.cfg.FrameSize)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			n, err := p.src.ReadFrame(buf)
			if n > 0 {
				frame := make([]float32, n)
				copy(frame, buf[:n])
				for {
					select {
					case queue <- frame:
					default:
						select {
						case <-queue:
							p.recordDrop()
							p.logger.Warn().Msg("Capture queue full, dropping oldest frame")
						default:
						}
						continue
					}
					break
				}
			}
			if err != nil {
				if err != io.EOF {
					p.logger.Error().Err(err).Msg("Capture source error")
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-queue:
			if !ok {
				return
			}
			p.processFrame(frame)
		}
	}
}

// processFrame converts one frame to a transport packet and sends it. A
// refused packet is dropped; per-frame delivery is in-order but lossy.
func (p *Pipeline) processFrame(frame []float32) {
	if p.vad != nil {
		_, started, _ := p.vad.ProcessFrame(frame)
		if started && p.cfg.OnSpeechStart != nil {
			p.cfg.OnSpeechStart()
		}
	}

	samples := make([]int16, len(frame))
	for i, s := range frame {
		samples[i] = audio.FloatToPCM16(s)
	}

	if rate := p.src.SampleRate(); rate != p.cfg.TargetRate {
		samples = audio.Resample(samples, rate, p.cfg.TargetRate)
	}

	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}

	if err := p.send(audio.EncodeTransport(pcm)); err != nil {
		p.recordDrop()
		p.logger.Warn().Err(err).Msg("Transport refused frame, dropping")
		return
	}
	p.framesSent.Add(1)
}

func (p *Pipeline) recordDrop() {
	p.framesDropped.Add(1)
	if p.cfg.OnDrop != nil {
		p.cfg.OnDrop()
	}
}

// FramesSent returns the number of frames delivered to the transport.
func (p *Pipeline) FramesSent() int64 {
	return p.framesSent.Load()
}

// FramesDropped returns the number of frames dropped.
func (p *Pipeline) FramesDropped() int64 {
	return p.framesDropped.Load()
}
