// Package phonetic implements [wake.Detector] by transcribing the trailing
// window with a small STT engine and matching the transcript against the
// configured wake phrases phonetically.
//
// Matching proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each transcript token and each phrase token. A token group becomes a
//     candidate only when at least one code overlaps with the phrase.
//
//  2. Jaro-Winkler ranking: candidates are scored with the best of three
//     string comparisons (full strings, space-stripped strings, best token
//     pair) and accepted when the score clears the sensitivity-derived
//     threshold.
//
// STT mishears wake phrases in predictable ways ("hey kagami" comes back
// as "hey kagome" or "a kagami"); code overlap plus similarity ranking
// catches those without accepting unrelated speech. Because every
// evaluation costs a transcription, the detector throttles itself: calls
// inside the evaluation interval return no detection.
package phonetic

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/kagami-sh/kagami/pkg/audio"
	"github.com/kagami-sh/kagami/pkg/engine"
	"github.com/kagami-sh/kagami/pkg/engine/stt"
	"github.com/kagami-sh/kagami/pkg/engine/wake"
)

// Compile-time interface assertion.
var _ wake.Detector = (*Detector)(nil)

const (
	defaultEvalInterval = 500 * time.Millisecond
	defaultCooldown     = 1500 * time.Millisecond

	// minWindow is the least audio worth transcribing.
	minWindow = 500 * time.Millisecond
)

// Option is a functional option for configuring a [Detector].
type Option func(*Detector)

// WithSensitivity sets the initial trigger eagerness. Default 0.5.
func WithSensitivity(s float64) Option {
	return func(d *Detector) {
		d.sensitivity.Store(math.Float64bits(s))
	}
}

// WithEvalInterval sets the minimum delay between transcriptions. Zero
// evaluates on every call. Default 500 ms.
func WithEvalInterval(interval time.Duration) Option {
	return func(d *Detector) {
		d.evalInterval = interval
	}
}

// WithCooldown sets the suppression span after a detection, so the phrase
// still sitting in the trailing window cannot re-trigger. Default 1.5 s.
func WithCooldown(cooldown time.Duration) Option {
	return func(d *Detector) {
		d.cooldown = cooldown
	}
}

// phrase is a wake phrase with its precomputed phonetic codes.
type phrase struct {
	canonical string
	tokens    []string
	joined    string // lowercase, space-separated
	codes     map[string]struct{}
}

// Detector matches wake phrases against STT output. It owns the supplied
// transcriber and closes it on Close.
type Detector struct {
	transcriber stt.Engine
	phrases     []phrase

	sensitivity  atomic.Uint64 // float64 bits
	evalInterval time.Duration
	cooldown     time.Duration

	mu         sync.Mutex
	lastEval   time.Time
	lastDetect time.Time
	closed     bool
}

// New builds a Detector over transcriber for the given canonical phrases.
func New(transcriber stt.Engine, phrases []string, opts ...Option) (*Detector, error) {
	if transcriber == nil {
		return nil, fmt.Errorf("phonetic: transcriber is nil")
	}
	if len(phrases) == 0 {
		return nil, fmt.Errorf("phonetic: no wake phrases configured")
	}

	d := &Detector{
		transcriber:  transcriber,
		evalInterval: defaultEvalInterval,
		cooldown:     defaultCooldown,
	}
	d.sensitivity.Store(math.Float64bits(wake.DefaultSensitivity))
	for _, o := range opts {
		o(d)
	}
	if err := wake.CheckSensitivity(d.loadSensitivity()); err != nil {
		return nil, err
	}

	for _, p := range phrases {
		tokens := strings.Fields(strings.ToLower(strings.TrimSpace(p)))
		if len(tokens) == 0 {
			return nil, fmt.Errorf("phonetic: empty wake phrase %q", p)
		}
		d.phrases = append(d.phrases, phrase{
			canonical: p,
			tokens:    tokens,
			joined:    strings.Join(tokens, " "),
			codes:     metaphoneCodes(tokens),
		})
	}
	return d, nil
}

// Detect transcribes the window and matches the transcript.
func (d *Detector) Detect(ctx context.Context, window []byte) (string, bool, error) {
	if len(window) < audio.FrameBytes(audio.SampleRate, minWindow) {
		return "", false, nil
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return "", false, fmt.Errorf("phonetic: detector closed: %w", engine.ErrUnavailable)
	}
	now := time.Now()
	if now.Sub(d.lastEval) < d.evalInterval || now.Sub(d.lastDetect) < d.cooldown {
		d.mu.Unlock()
		return "", false, nil
	}
	d.lastEval = now
	d.mu.Unlock()

	res, err := d.transcriber.Transcribe(ctx, window)
	if err != nil {
		return "", false, fmt.Errorf("phonetic: transcribe window: %w", err)
	}

	word, ok := d.match(res.Text)
	if ok {
		d.mu.Lock()
		d.lastDetect = time.Now()
		d.mu.Unlock()
	}
	return word, ok, nil
}

// match scans transcript token groups against every phrase and returns the
// best-scoring canonical phrase above threshold.
func (d *Detector) match(transcript string) (string, bool) {
	tokens := strings.Fields(strings.ToLower(transcript))
	if len(tokens) == 0 {
		return "", false
	}

	s := d.loadSensitivity()
	// At the default sensitivity 0.5 these come out to 0.70 and 0.85, the
	// usual floors for metaphone-filtered and raw Jaro-Winkler matches.
	phoneticThreshold := 0.85 - 0.30*s
	fuzzyThreshold := 0.95 - 0.20*s

	var (
		bestPhrase   string
		bestScore    float64
		bestPhonetic bool
	)

	for _, p := range d.phrases {
		// STT may split or merge words, so try group sizes around the
		// phrase's own token count.
		for _, n := range groupSizes(len(p.tokens), len(tokens)) {
			for start := 0; start+n <= len(tokens); start++ {
				group := tokens[start : start+n]
				score := bestSimilarity(group, p.tokens, strings.Join(group, " "), p.joined)
				phonetic := codesOverlap(metaphoneCodes(group), p.codes)

				switch {
				case phonetic && score >= phoneticThreshold:
					if !bestPhonetic || score > bestScore {
						bestPhrase, bestScore, bestPhonetic = p.canonical, score, true
					}
				case !phonetic && !bestPhonetic && score >= fuzzyThreshold && score > bestScore:
					bestPhrase, bestScore = p.canonical, score
				}
			}
		}
	}
	return bestPhrase, bestPhrase != ""
}

// SetSensitivity adjusts the matching thresholds; effective next call.
func (d *Detector) SetSensitivity(s float64) error {
	if err := wake.CheckSensitivity(s); err != nil {
		return err
	}
	d.sensitivity.Store(math.Float64bits(s))
	return nil
}

// Profile reports the inner transcriber's expectations; the matching stage
// itself is negligible.
func (d *Detector) Profile() engine.ResourceProfile {
	return d.transcriber.Profile()
}

// Close releases the owned transcriber.
func (d *Detector) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	return d.transcriber.Close()
}

func (d *Detector) loadSensitivity() float64 {
	return math.Float64frombits(d.sensitivity.Load())
}

// groupSizes returns the transcript group lengths worth comparing against a
// phrase of phraseLen tokens, clamped to what the transcript offers.
func groupSizes(phraseLen, transcriptLen int) []int {
	sizes := make([]int, 0, 3)
	for _, n := range []int{phraseLen, phraseLen + 1, phraseLen - 1} {
		if n >= 1 && n <= transcriptLen {
			sizes = append(sizes, n)
		}
	}
	return sizes
}

// metaphoneCodes returns the union of Double Metaphone codes for the given
// tokens. Empty codes (words too short or with no consonants) are excluded.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestSimilarity is the highest Jaro-Winkler score between the transcript
// group and the phrase across three comparisons: the full strings, the
// space-stripped strings (catches split/merged words), and the best single
// token pair.
func bestSimilarity(groupTokens, phraseTokens []string, groupFull, phraseFull string) float64 {
	score := matchr.JaroWinkler(groupFull, phraseFull, false)

	if len(groupTokens) > 1 || len(phraseTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(groupTokens, ""), strings.Join(phraseTokens, ""), false); s > score {
			score = s
		}
	}

	for _, gt := range groupTokens {
		for _, pt := range phraseTokens {
			if s := matchr.JaroWinkler(gt, pt, false); s > score {
				score = s
			}
		}
	}
	return score
}
