package audio

import (
	"encoding/base64"
	"fmt"
	"math"
	"time"
)

// ErrMalformedPayload indicates transport audio that could not be decoded.
// Malformed payloads are dropped without tearing down the session.
var ErrMalformedPayload = fmt.Errorf("malformed audio payload")

// Segment is a decoded block of audio: normalized float samples grouped by
// channel, all channels the same length.
type Segment struct {
	SampleRate int
	Channels   int
	Data       [][]float32 // Data[channel][frame]
}

// Frames returns the number of sample frames in the segment.
func (s *Segment) Frames() int {
	if len(s.Data) == 0 {
		return 0
	}
	return len(s.Data[0])
}

// Duration returns the playback duration of the segment.
func (s *Segment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(s.Frames()) * time.Second / time.Duration(s.SampleRate)
}

// EncodeTransport encodes raw PCM bytes for the wire.
func EncodeTransport(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeTransport decodes wire-encoded audio back to raw PCM bytes.
func DecodeTransport(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return data, nil
}

// PCM16ToSegment decodes little-endian 16-bit PCM, interleaved when channels
// is greater than one, into a normalized segment. The byte length must be a
// whole number of interleaved frames.
func PCM16ToSegment(data []byte, sampleRate, channels int) (*Segment, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("%w: invalid channel count %d", ErrMalformedPayload, channels)
	}
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte length %d", ErrMalformedPayload, len(data))
	}
	totalSamples := len(data) / 2
	if totalSamples%channels != 0 {
		return nil, fmt.Errorf("%w: %d samples not divisible by %d channels", ErrMalformedPayload, totalSamples, channels)
	}

	frames := totalSamples / channels
	seg := &Segment{
		SampleRate: sampleRate,
		Channels:   channels,
		Data:       make([][]float32, channels),
	}
	for ch := range seg.Data {
		seg.Data[ch] = make([]float32, frames)
	}

	for i := 0; i < totalSamples; i++ {
		sample := int16(data[i*2]) | int16(data[i*2+1])<<8
		seg.Data[i%channels][i/channels] = float32(sample) / 32768.0
	}
	return seg, nil
}

// SegmentToPCM16 encodes a segment back to interleaved little-endian 16-bit
// PCM bytes.
func SegmentToPCM16(seg *Segment) []byte {
	frames := seg.Frames()
	out := make([]byte, frames*seg.Channels*2)
	for f := 0; f < frames; f++ {
		for ch := 0; ch < seg.Channels; ch++ {
			s := FloatToPCM16(seg.Data[ch][f])
			idx := (f*seg.Channels + ch) * 2
			out[idx] = byte(s)
			out[idx+1] = byte(s >> 8)
		}
	}
	return out
}

// FloatToPCM16 converts one normalized sample to a 16-bit value by scaling
// and truncating. Input is assumed pre-clamped to [-1, 1]; out-of-range
// samples wrap rather than saturate.
func FloatToPCM16(sample float32) int16 {
	return int16(int32(sample * 32768.0))
}

// Resample converts mono 16-bit samples between rates using linear
// interpolation. Identical rates return the input unchanged.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(float64(len(samples)) / ratio)
	out := make([]int16, outLen)

	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		a := float64(samples[idx])
		b := float64(samples[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}

// CalculateRMS returns the root mean square energy of normalized samples.
func CalculateRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0.0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}