// Command console opens a live audio session directly against the upstream
// inference endpoint: raw 16-bit mono PCM is read from stdin (or a file) and
// streamed up, synthesized replies play on the local audio device.
//
// Example: arecord -f S16_LE -r 16000 -c 1 | console
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/echolab/live-gateway/internal/audio"
	"github.com/echolab/live-gateway/internal/capture"
	"github.com/echolab/live-gateway/internal/config"
	"github.com/echolab/live-gateway/internal/live"
	"github.com/echolab/live-gateway/internal/observability"
	"github.com/echolab/live-gateway/internal/playback"
	"github.com/echolab/live-gateway/internal/session"
)

func main() {
	inputPath := flag.String("input", "-", "raw PCM16 input file, or - for stdin")
	inputRate := flag.Int("rate", 0, "input sample rate (defaults to INPUT_SAMPLE_RATE)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.WithCorrelationID(observability.NewCorrelationID())

	var in io.Reader = os.Stdin
	if *inputPath != "-" {
		f, err := os.Open(*inputPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", *inputPath).Msg("Failed to open input")
		}
		defer f.Close()
		in = f
	}

	rate := *inputRate
	if rate == 0 {
		rate = cfg.InputSampleRate
	}

	var vadCfg *audio.VADConfig
	if cfg.VADEnabled {
		vadCfg = &audio.VADConfig{
			EnergyThreshold: cfg.VADEnergyThreshold,
			SilenceFrames:   cfg.VADSilenceFrames,
		}
	}

	metrics := observability.NewSessionMetrics(observability.NewCorrelationID())

	sess := session.New(session.Config{
		Transport: live.NewClient(cfg, logger),
		Source:    capture.NewReaderSource(in, rate),
		NewSink: func() (playback.Sink, error) {
			return playback.NewDeviceSink(cfg.OutputSampleRate, 1)
		},
		InputRate:   cfg.InputSampleRate,
		OutputRate:  cfg.OutputSampleRate,
		FrameSize:   cfg.FrameSize,
		QueueFrames: cfg.CaptureQueueFrames,
		VAD:         vadCfg,
		OnState: func(st session.State) {
			logger.Info().Str("state", st.String()).Msg("Session state changed")
		},
		Logger:  logger,
		Metrics: metrics,
	})

	ctx := context.Background()
	if err := sess.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start session")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info().Msg("Interrupt received, stopping session")
		sess.Stop()
		<-sess.Done()
	case <-sess.Done():
	}

	logger.Info().
		Int64("frames_sent", sess.Pipeline().FramesSent()).
		Int64("frames_dropped", sess.Pipeline().FramesDropped()).
		Msg("Session finished")
}
