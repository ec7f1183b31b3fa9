package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the live gateway service.
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Upstream streaming inference endpoint
	UpstreamURL    string `envconfig:"UPSTREAM_URL" required:"true"` // wss://... live endpoint
	UpstreamAPIKey string `envconfig:"UPSTREAM_API_KEY" required:"true"`

	// Session audio configuration (fixed at start, not renegotiated)
	InputSampleRate  int `envconfig:"INPUT_SAMPLE_RATE" default:"16000"`  // capture rate sent upstream
	OutputSampleRate int `envconfig:"OUTPUT_SAMPLE_RATE" default:"24000"` // playback rate of inbound audio
	FrameSize        int `envconfig:"FRAME_SIZE" default:"4096"`          // samples per capture frame

	// Capture queue policy: 0 = fire-and-forget per frame, >0 = bounded
	// queue of frames with drop-oldest under transport stall
	CaptureQueueFrames int `envconfig:"CAPTURE_QUEUE_FRAMES" default:"0"`

	// Local barge-in detection
	VADEnabled         bool    `envconfig:"VAD_ENABLED" default:"false"`
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"0.015"` // RMS on normalized samples
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"3"`       // frames of silence to end speech

	// Upstream dial retry (initial connect only, never mid-session)
	DialMaxAttempts int `envconfig:"DIAL_MAX_ATTEMPTS" default:"3"`
	DialBackoffMs   int `envconfig:"DIAL_BACKOFF_MS" default:"500"`

	// Downstream bridge buffering
	BridgeBufferSize int `envconfig:"BRIDGE_BUFFER_SIZE" default:"65536"` // ring buffer bytes on the outbound browser path

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // pretty print logs (development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // enable Prometheus metrics
}

// Load reads configuration from the environment, first attempting to load a
// .env file if one exists.
func Load() (*Config, error) {
	// Ignore error if .env doesn't exist
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without touching a .env file (useful for containerized deployments).
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.UpstreamURL == "" {
		return nil, fmt.Errorf("UPSTREAM_URL is required")
	}
	if cfg.UpstreamAPIKey == "" {
		return nil, fmt.Errorf("UPSTREAM_API_KEY is required")
	}
	if cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("FRAME_SIZE must be positive, got %d", cfg.FrameSize)
	}
	if cfg.InputSampleRate <= 0 || cfg.OutputSampleRate <= 0 {
		return nil, fmt.Errorf("sample rates must be positive")
	}

	return &cfg, nil
}

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
