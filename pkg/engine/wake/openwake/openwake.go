// Package openwake implements [wake.Detector] with the openWakeWord ONNX
// pipeline: melspectrogram → embedding → per-phrase classifier.
//
// The three models come from the openWakeWord project. The melspectrogram
// and embedding stages are shared; each wake phrase adds one small
// classifier head. Scoring masks all but the newest few embedding slots to
// zero, which keeps long silence from suppressing detection and means a
// single evaluation needs under two seconds of audio.
//
// Detect re-evaluates the trailing window from scratch; no state spans
// calls except the trailing score ring and the cooldown. To bound the cost
// the detector throttles itself to one evaluation per chunk interval, and
// calls in between return no detection.
package openwake

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/kagami-sh/kagami/pkg/engine"
	"github.com/kagami-sh/kagami/pkg/engine/onnxrt"
	"github.com/kagami-sh/kagami/pkg/engine/wake"
)

// Compile-time interface assertion.
var _ wake.Detector = (*Engine)(nil)

// Constants matching the openWakeWord pipeline.
const (
	chunkSamples = 1280 // 80 ms @ 16 kHz
	melBins      = 32   // melspectrogram output bands
	melPerChunk  = 5    // 1280 samples → 5 mel frames
	melWindow    = 76   // embedding model input frames
	melStep      = 8    // mel frames between embedding windows
	embeddingDim = 96   // output dim per embedding frame
	clsSlots     = 16   // classifier input embedding slots

	// recentEmbeds is how many of the newest embedding slots carry real
	// data at scoring time; older slots are zeroed. This mimics the
	// fresh-launch state the classifier scores highest in and stops
	// accumulated silence embeddings from suppressing detection.
	recentEmbeds = 5

	// scoreWindow is the number of trailing scores tracked per phrase.
	// The detector triggers on the window maximum, which tolerates the
	// peak landing one evaluation early or late.
	scoreWindow = 5

	defaultEvalInterval = 80 * time.Millisecond
	defaultCooldown     = 1500 * time.Millisecond
)

// minMelFrames is the least mel history that yields recentEmbeds
// embeddings: one full embedding window plus the step back to the oldest
// scored slot.
const minMelFrames = melWindow + (recentEmbeds-1)*melStep

// Config holds the model paths and tuning for an Engine.
type Config struct {
	// MelspecModel and EmbeddingModel are the shared openWakeWord
	// preprocessing models (required).
	MelspecModel   string
	EmbeddingModel string

	// PhraseModels maps each canonical wake phrase to its classifier
	// model (required, at least one entry).
	PhraseModels map[string]string

	// OnnxLibPath locates the ONNX Runtime shared library. Empty uses the
	// platform default search path.
	OnnxLibPath string

	// Sensitivity is the initial trigger eagerness. Zero means
	// [wake.DefaultSensitivity]; call SetSensitivity(0) for the strictest
	// setting.
	Sensitivity float64

	// EvalInterval is the minimum delay between full evaluations.
	// Default 80 ms (one chunk).
	EvalInterval time.Duration

	// Cooldown is the suppression span after a detection. Default 1.5 s.
	Cooldown time.Duration
}

func (c *Config) defaults() {
	if c.Sensitivity == 0 {
		c.Sensitivity = wake.DefaultSensitivity
	}
	if c.EvalInterval <= 0 {
		c.EvalInterval = defaultEvalInterval
	}
	if c.Cooldown <= 0 {
		c.Cooldown = defaultCooldown
	}
}

// phraseModel is one classifier head with its trailing score ring.
type phraseModel struct {
	word   string
	sess   *ort.AdvancedSession
	out    *ort.Tensor[float32]
	scores [scoreWindow]float32
	next   int
}

// Engine runs the openWakeWord pipeline over trailing audio windows.
// Detect calls are serialised internally; SetSensitivity may be called
// concurrently.
type Engine struct {
	sensitivity  atomic.Uint64 // float64 bits
	evalInterval time.Duration
	cooldown     time.Duration

	mu         sync.Mutex
	closed     bool
	lastEval   time.Time
	lastDetect time.Time

	melIn     *ort.Tensor[float32]
	melOut    *ort.Tensor[float32]
	melSess   *ort.AdvancedSession
	embedIn   *ort.Tensor[float32]
	embedOut  *ort.Tensor[float32]
	embedSess *ort.AdvancedSession
	clsIn     *ort.Tensor[float32] // shared by all phrase heads

	phrases []*phraseModel

	melBuf []float32 // scratch, reused across calls
}

// New loads the three model stages and prepares one classifier per phrase.
func New(cfg Config) (*Engine, error) {
	cfg.defaults()
	if err := wake.CheckSensitivity(cfg.Sensitivity); err != nil {
		return nil, err
	}
	if cfg.MelspecModel == "" || cfg.EmbeddingModel == "" {
		return nil, fmt.Errorf("openwake: melspectrogram and embedding model paths required: %w", engine.ErrUnavailable)
	}
	if len(cfg.PhraseModels) == 0 {
		return nil, fmt.Errorf("openwake: no phrase models configured")
	}
	if err := onnxrt.Ensure(cfg.OnnxLibPath); err != nil {
		return nil, fmt.Errorf("openwake: %v: %w", err, engine.ErrUnavailable)
	}

	e := &Engine{
		evalInterval: cfg.EvalInterval,
		cooldown:     cfg.Cooldown,
		melBuf:       make([]float32, 0, 2*minMelFrames*melBins),
	}
	e.sensitivity.Store(math.Float64bits(cfg.Sensitivity))

	if err := e.buildSessions(cfg); err != nil {
		e.destroy()
		return nil, fmt.Errorf("openwake: %v: %w", err, engine.ErrUnavailable)
	}
	return e, nil
}

func (e *Engine) buildSessions(cfg Config) error {
	var err error

	// Melspectrogram stage.
	if e.melIn, err = ort.NewEmptyTensor[float32](ort.NewShape(1, chunkSamples)); err != nil {
		return err
	}
	if e.melOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1, melPerChunk, melBins)); err != nil {
		return err
	}
	melIn, melOutInfo, err := ort.GetInputOutputInfo(cfg.MelspecModel)
	if err != nil {
		return fmt.Errorf("melspectrogram model %s: %v", cfg.MelspecModel, err)
	}
	e.melSess, err = ort.NewAdvancedSession(
		cfg.MelspecModel,
		[]string{melIn[0].Name}, []string{melOutInfo[0].Name},
		[]ort.Value{e.melIn}, []ort.Value{e.melOut},
		nil,
	)
	if err != nil {
		return fmt.Errorf("melspectrogram model %s: %v", cfg.MelspecModel, err)
	}

	// Embedding stage.
	if e.embedIn, err = ort.NewEmptyTensor[float32](ort.NewShape(1, melWindow, melBins, 1)); err != nil {
		return err
	}
	if e.embedOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1, 1, embeddingDim)); err != nil {
		return err
	}
	embIn, embOut, err := ort.GetInputOutputInfo(cfg.EmbeddingModel)
	if err != nil {
		return fmt.Errorf("embedding model %s: %v", cfg.EmbeddingModel, err)
	}
	e.embedSess, err = ort.NewAdvancedSession(
		cfg.EmbeddingModel,
		[]string{embIn[0].Name}, []string{embOut[0].Name},
		[]ort.Value{e.embedIn}, []ort.Value{e.embedOut},
		nil,
	)
	if err != nil {
		return fmt.Errorf("embedding model %s: %v", cfg.EmbeddingModel, err)
	}

	// Classifier heads, sharing one input tensor.
	if e.clsIn, err = ort.NewEmptyTensor[float32](ort.NewShape(1, clsSlots, embeddingDim)); err != nil {
		return err
	}
	for word, path := range cfg.PhraseModels {
		p := &phraseModel{word: word}
		if p.out, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
			return err
		}
		clsInInfo, clsOutInfo, err := ort.GetInputOutputInfo(path)
		if err != nil {
			p.destroy()
			return fmt.Errorf("phrase model %s: %v", path, err)
		}
		p.sess, err = ort.NewAdvancedSession(
			path,
			[]string{clsInInfo[0].Name}, []string{clsOutInfo[0].Name},
			[]ort.Value{e.clsIn}, []ort.Value{p.out},
			nil,
		)
		if err != nil {
			p.destroy()
			return fmt.Errorf("phrase model %s: %v", path, err)
		}
		e.phrases = append(e.phrases, p)
	}
	return nil
}

// Detect evaluates the trailing window through all three stages.
func (e *Engine) Detect(ctx context.Context, window []byte) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	chunks := len(window) / 2 / chunkSamples
	if chunks*melPerChunk < minMelFrames {
		return "", false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return "", false, fmt.Errorf("openwake: engine closed: %w", engine.ErrUnavailable)
	}
	now := time.Now()
	if now.Sub(e.lastEval) < e.evalInterval || now.Sub(e.lastDetect) < e.cooldown {
		return "", false, nil
	}
	e.lastEval = now

	if err := e.computeMel(window, chunks); err != nil {
		return "", false, err
	}
	if err := e.computeEmbeddings(); err != nil {
		return "", false, err
	}

	threshold := e.threshold()
	var (
		bestWord  string
		bestScore float32
	)
	for _, p := range e.phrases {
		if err := p.sess.Run(); err != nil {
			return "", false, fmt.Errorf("openwake: classifier %s: %v: %w", p.word, err, engine.ErrUnavailable)
		}
		score := p.out.GetData()[0]
		p.scores[p.next%scoreWindow] = score
		p.next++

		var windowMax float32
		for _, s := range p.scores {
			if s > windowMax {
				windowMax = s
			}
		}
		if windowMax >= threshold && windowMax > bestScore {
			bestWord, bestScore = p.word, windowMax
		}
	}

	if bestWord == "" {
		return "", false, nil
	}

	e.lastDetect = now
	// Clear all rings so one peak cannot re-trigger after the cooldown.
	for _, p := range e.phrases {
		p.scores = [scoreWindow]float32{}
		p.next = 0
	}
	return bestWord, true, nil
}

// computeMel runs the melspectrogram stage over every full chunk in the
// window, filling e.melBuf with normalised mel frames.
func (e *Engine) computeMel(window []byte, chunks int) error {
	e.melBuf = e.melBuf[:0]
	in := e.melIn.GetData()
	for c := 0; c < chunks; c++ {
		base := c * chunkSamples * 2
		for i := 0; i < chunkSamples; i++ {
			in[i] = float32(int16(binary.LittleEndian.Uint16(window[base+i*2 : base+i*2+2])))
		}
		if err := e.melSess.Run(); err != nil {
			return fmt.Errorf("openwake: melspectrogram: %v: %w", err, engine.ErrUnavailable)
		}
		for _, v := range e.melOut.GetData() {
			e.melBuf = append(e.melBuf, v/10.0+2.0)
		}
	}
	return nil
}

// computeEmbeddings fills the classifier input: the newest recentEmbeds
// embedding windows land in the last slots, everything older is zero.
func (e *Engine) computeEmbeddings() error {
	clsData := e.clsIn.GetData()
	clear(clsData)

	totalMel := len(e.melBuf) / melBins
	embedData := e.embedIn.GetData()
	for i := 0; i < recentEmbeds; i++ {
		// Oldest scored slot first.
		start := totalMel - melWindow - (recentEmbeds-1-i)*melStep
		copy(embedData, e.melBuf[start*melBins:(start+melWindow)*melBins])
		if err := e.embedSess.Run(); err != nil {
			return fmt.Errorf("openwake: embedding: %v: %w", err, engine.ErrUnavailable)
		}
		slot := clsSlots - recentEmbeds + i
		copy(clsData[slot*embeddingDim:(slot+1)*embeddingDim], e.embedOut.GetData()[:embeddingDim])
	}
	return nil
}

// threshold derives the trigger score floor from sensitivity: 0.8 when
// strict, 0.2 when eager, 0.5 at the default.
func (e *Engine) threshold() float32 {
	s := math.Float64frombits(e.sensitivity.Load())
	return float32(0.8 - 0.6*s)
}

// SetSensitivity adjusts the score threshold; effective next evaluation.
func (e *Engine) SetSensitivity(s float64) error {
	if err := wake.CheckSensitivity(s); err != nil {
		return err
	}
	e.sensitivity.Store(math.Float64bits(s))
	return nil
}

// Profile reports the combined expectations of the three stages.
func (e *Engine) Profile() engine.ResourceProfile {
	return engine.ResourceProfile{EstimatedRAMMB: 80, CPUThreads: 1}
}

// Close destroys all sessions and tensors.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.destroy()
	return nil
}

func (e *Engine) destroy() {
	for _, p := range e.phrases {
		p.destroy()
	}
	e.phrases = nil
	for _, t := range []*ort.Tensor[float32]{e.melIn, e.melOut, e.embedIn, e.embedOut, e.clsIn} {
		if t != nil {
			t.Destroy()
		}
	}
	e.melIn, e.melOut, e.embedIn, e.embedOut, e.clsIn = nil, nil, nil, nil, nil
	if e.melSess != nil {
		e.melSess.Destroy()
		e.melSess = nil
	}
	if e.embedSess != nil {
		e.embedSess.Destroy()
		e.embedSess = nil
	}
}

func (p *phraseModel) destroy() {
	if p.sess != nil {
		p.sess.Destroy()
	}
	if p.out != nil {
		p.out.Destroy()
	}
}
