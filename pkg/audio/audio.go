// Package audio provides the PCM frame type and format utilities shared by
// the capture sources, the voice pipeline, and the speech engines.
//
// The pipeline's native format is 16 kHz mono little-endian int16. Frames
// are the atomic unit of audio transport — captured from an input source,
// scored by VAD, buffered for wake-word checks, and handed to STT.
package audio

import "time"

// Pipeline-native format. Engines that operate on raw PCM assume this
// format unless their configuration says otherwise.
const (
	// SampleRate is the pipeline-native sample rate in Hz.
	SampleRate = 16000

	// BytesPerSample is the width of one little-endian int16 sample.
	BytesPerSample = 2

	// DefaultFrameDuration is the capture granularity the pipeline is tuned
	// for. Valid VAD frame durations are 10, 20 and 30 ms.
	DefaultFrameDuration = 30 * time.Millisecond
)

// Frame is a single frame of PCM audio flowing through the pipeline.
type Frame struct {
	// Data holds little-endian int16 PCM samples.
	Data []byte

	// SampleRate in Hz (16000 for the pipeline-native format).
	SampleRate int

	// Channels: 1 for mono. Capture sources may deliver 2; the pipeline
	// normalises to mono before any engine sees the frame.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the play length of the frame's PCM payload.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / (BytesPerSample * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// FrameBytes returns the byte length of one frame of the given duration at
// rate Hz mono int16.
func FrameBytes(rate int, d time.Duration) int {
	samples := int(int64(rate) * int64(d) / int64(time.Second))
	return samples * BytesPerSample
}

// BytesToDuration converts a mono int16 byte count at rate Hz to play time.
func BytesToDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	samples := n / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(rate)
}
