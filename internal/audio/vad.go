package audio

// VADConfig holds configuration for voice activity detection on captured
// microphone frames.
type VADConfig struct {
	EnergyThreshold float64 // RMS threshold for speech, on normalized samples
	SilenceFrames   int     // Consecutive silent frames to mark end of speech
}

// DefaultVADConfig returns a default VAD configuration tuned for 4096-sample
// frames at 16 kHz (256ms per frame).
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 0.015,
		SilenceFrames:   3,
	}
}

// VADDetector performs energy-based voice activity detection. It is not
// thread-safe; the capture pipeline calls it from a single goroutine.
type VADDetector struct {
	config         *VADConfig
	silenceCounter int
	isSpeaking     bool
}

// NewVADDetector creates a new VAD detector.
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &VADDetector{config: config}
}

// ProcessFrame processes one captured frame and reports speech activity.
// Returns: (isSpeaking, speechStarted, speechEnded).
func (v *VADDetector) ProcessFrame(samples []float32) (bool, bool, bool) {
	rms := CalculateRMS(samples)
	frameHasSpeech := rms > v.config.EnergyThreshold

	var speechStarted, speechEnded bool

	if frameHasSpeech {
		v.silenceCounter = 0
		if !v.isSpeaking {
			speechStarted = true
			v.isSpeaking = true
		}
	} else {
		v.silenceCounter++
		if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
			speechEnded = true
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	return v.isSpeaking, speechStarted, speechEnded
}

// Reset resets the detector state.
func (v *VADDetector) Reset() {
	v.silenceCounter = 0
	v.isSpeaking = false
}

// IsSpeaking returns whether speech is currently detected.
func (v *VADDetector) IsSpeaking() bool {
	return v.isSpeaking
}
