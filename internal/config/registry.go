package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kagami-sh/kagami/pkg/engine/llm"
	"github.com/kagami-sh/kagami/pkg/engine/stt"
	"github.com/kagami-sh/kagami/pkg/engine/tts"
	"github.com/kagami-sh/kagami/pkg/engine/vad"
	"github.com/kagami-sh/kagami/pkg/engine/wake"
)

// ErrEngineNotRegistered is returned by Create* methods when no factory
// has been registered under the requested engine name.
var ErrEngineNotRegistered = errors.New("config: engine not registered")

// Registry maps engine names to their constructor functions for each
// engine kind. It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	vad  map[string]func(EngineEntry) (vad.Engine, error)
	wake map[string]func(EngineEntry) (wake.Detector, error)
	stt  map[string]func(EngineEntry) (stt.Engine, error)
	llm  map[string]func(EngineEntry) (llm.Engine, error)
	tts  map[string]func(EngineEntry) (tts.Engine, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		vad:  make(map[string]func(EngineEntry) (vad.Engine, error)),
		wake: make(map[string]func(EngineEntry) (wake.Detector, error)),
		stt:  make(map[string]func(EngineEntry) (stt.Engine, error)),
		llm:  make(map[string]func(EngineEntry) (llm.Engine, error)),
		tts:  make(map[string]func(EngineEntry) (tts.Engine, error)),
	}
}

// RegisterVAD registers a VAD engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterVAD(name string, factory func(EngineEntry) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterWake registers a wake detector factory under name.
func (r *Registry) RegisterWake(name string, factory func(EngineEntry) (wake.Detector, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wake[name] = factory
}

// RegisterSTT registers an STT engine factory under name.
func (r *Registry) RegisterSTT(name string, factory func(EngineEntry) (stt.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterLLM registers an LLM engine factory under name.
func (r *Registry) RegisterLLM(name string, factory func(EngineEntry) (llm.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterTTS registers a TTS engine factory under name.
func (r *Registry) RegisterTTS(name string, factory func(EngineEntry) (tts.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// CreateVAD instantiates a VAD engine using the factory registered under entry.Name.
// Returns [ErrEngineNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateVAD(entry EngineEntry) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrEngineNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateWake instantiates a wake detector using the factory registered under entry.Name.
func (r *Registry) CreateWake(entry EngineEntry) (wake.Detector, error) {
	r.mu.RLock()
	factory, ok := r.wake[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: wake/%q", ErrEngineNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSTT instantiates an STT engine using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry EngineEntry) (stt.Engine, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrEngineNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateLLM instantiates an LLM engine using the factory registered under entry.Name.
func (r *Registry) CreateLLM(entry EngineEntry) (llm.Engine, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrEngineNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a TTS engine using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry EngineEntry) (tts.Engine, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrEngineNotRegistered, entry.Name)
	}
	return factory(entry)
}
