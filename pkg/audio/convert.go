package audio

import (
	"log/slog"
	"math"
	"sync"
)

// Normalizer converts incoming frames to the pipeline-native format
// (16 kHz mono int16). It logs a warning on the first format mismatch and
// validates PCM alignment. Create one per stream; not designed for shared
// use across goroutines.
type Normalizer struct {
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Normalize converts a frame to 16 kHz mono. If the source already matches,
// the frame is returned unchanged (zero allocation). Conversion order:
// downmix first, then resample.
func (n *Normalizer) Normalize(frame Frame) Frame {
	// Odd byte counts cannot be int16 PCM.
	if len(frame.Data)%2 != 0 {
		n.warnedCorrupt.Do(func() {
			slog.Warn("audio: odd byte count in PCM data, dropping frame",
				"bytes", len(frame.Data),
				"sample_rate", frame.SampleRate,
				"channels", frame.Channels,
			)
		})
		return Frame{SampleRate: SampleRate, Channels: 1, Timestamp: frame.Timestamp}
	}

	if frame.SampleRate == SampleRate && frame.Channels == 1 {
		return frame
	}

	n.warnedMismatch.Do(func() {
		slog.Warn("audio: format mismatch, converting",
			"from_rate", frame.SampleRate, "from_channels", frame.Channels,
			"to_rate", SampleRate, "to_channels", 1,
		)
	})

	pcm := frame.Data
	if frame.Channels == 2 {
		pcm = StereoToMono(pcm)
	}
	if frame.SampleRate != SampleRate {
		pcm = ResampleMono16(pcm, frame.SampleRate, SampleRate)
	}

	return Frame{
		Data:       pcm,
		SampleRate: SampleRate,
		Channels:   1,
		Timestamp:  frame.Timestamp,
	}
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono
// output. Uses int32 arithmetic to prevent overflow and clamps to int16.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + r) / 2

		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}

		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. The input must be little-endian int16 samples. If
// srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// RMS returns the root-mean-square amplitude of mono int16 PCM, normalised
// to [0,1]. Returns 0 for empty or misaligned input.
func RMS(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	samples := len(pcm) / 2
	var sum float64
	for i := range samples {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum/float64(samples)) / 32768.0
}

// Int16ToFloat32 converts little-endian int16 PCM to float32 samples in
// [-1,1], the input format of the neural speech models.
func Int16ToFloat32(pcm []byte) []float32 {
	samples := len(pcm) / 2
	out := make([]float32, samples)
	for i := range samples {
		out[i] = float32(int16(pcm[i*2])|int16(pcm[i*2+1])<<8) / 32768.0
	}
	return out
}
