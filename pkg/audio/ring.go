package audio

import "time"

// Ring is a fixed-capacity circular buffer of mono int16 PCM. The pipeline
// keeps the trailing ~10 s of audio in one so that the start of an
// utterance (spoken before VAD fires) and the wake-word window are always
// available.
//
// Ring is owned by the single pipeline consumer goroutine and is not safe
// for concurrent use.
type Ring struct {
	buf   []byte
	rate  int
	start int // index of the oldest byte
	size  int // bytes currently held
}

// NewRing creates a ring holding up to d of audio at rate Hz mono int16.
func NewRing(rate int, d time.Duration) *Ring {
	capBytes := FrameBytes(rate, d)
	if capBytes < BytesPerSample {
		capBytes = BytesPerSample
	}
	return &Ring{
		buf:  make([]byte, capBytes),
		rate: rate,
	}
}

// Write appends pcm, overwriting the oldest audio once the ring is full.
// Writes larger than the ring keep only the trailing portion.
func (r *Ring) Write(pcm []byte) {
	if len(pcm) >= len(r.buf) {
		copy(r.buf, pcm[len(pcm)-len(r.buf):])
		r.start = 0
		r.size = len(r.buf)
		return
	}

	writePos := (r.start + r.size) % len(r.buf)
	n := copy(r.buf[writePos:], pcm)
	if n < len(pcm) {
		copy(r.buf, pcm[n:])
	}

	r.size += len(pcm)
	if r.size > len(r.buf) {
		// Oldest bytes were overwritten; advance start.
		r.start = (r.start + r.size - len(r.buf)) % len(r.buf)
		r.size = len(r.buf)
	}
}

// Tail returns a copy of the most recent d of audio, or everything held
// when less than d has been written.
func (r *Ring) Tail(d time.Duration) []byte {
	want := FrameBytes(r.rate, d)
	if want > r.size {
		want = r.size
	}
	// Keep sample alignment.
	want -= want % BytesPerSample
	if want == 0 {
		return nil
	}

	out := make([]byte, want)
	tailStart := (r.start + r.size - want) % len(r.buf)
	n := copy(out, r.buf[tailStart:])
	if n < want {
		copy(out[n:], r.buf[:want-n])
	}
	return out
}

// Len returns the number of bytes currently held.
func (r *Ring) Len() int { return r.size }

// Duration returns the play time of the audio currently held.
func (r *Ring) Duration() time.Duration { return BytesToDuration(r.size, r.rate) }

// Reset discards all held audio.
func (r *Ring) Reset() {
	r.start = 0
	r.size = 0
}
