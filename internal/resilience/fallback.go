package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed reports that every engine in a chain failed or was behind
// an open breaker.
var ErrAllFailed = errors.New("all engines failed")

// FallbackConfig seeds the per-engine circuit breaker of a chain. The
// breaker Name is overwritten per entry.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// chainLink is one engine in a chain with its dedicated breaker.
type chainLink[T any] struct {
	name    string
	engine  T
	breaker *CircuitBreaker
}

// FallbackGroup tries a primary engine and then each registered fallback
// in order. An engine whose breaker is open is skipped without a call, so
// a dead backend costs nothing on the hot path.
//
// The chain must be fully assembled before use; AddFallback is not safe
// to call concurrently with Execute.
type FallbackGroup[T any] struct {
	chain []chainLink[T]
	cfg   FallbackConfig
}

// NewFallbackGroup starts a chain with primary as its first link.
func NewFallbackGroup[T any](primary T, name string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.add(name, primary)
	return g
}

// AddFallback appends an engine tried after every earlier link.
func (g *FallbackGroup[T]) AddFallback(name string, engine T) {
	g.add(name, engine)
}

func (g *FallbackGroup[T]) add(name string, engine T) {
	bc := g.cfg.CircuitBreaker
	bc.Name = name
	g.chain = append(g.chain, chainLink[T]{
		name:    name,
		engine:  engine,
		breaker: NewCircuitBreaker(bc),
	})
}

// Execute runs fn against the chain until one engine succeeds.
func (g *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(g, func(e T) (struct{}, error) {
		return struct{}{}, fn(e)
	})
	return err
}

// ExecuteWithResult runs fn against each link of g's chain until one
// succeeds, returning that result. On total failure the last error is
// wrapped in [ErrAllFailed].
//
// A free function because Go methods cannot introduce the result type
// parameter.
func ExecuteWithResult[T, R any](g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range g.chain {
		link := &g.chain[i]

		var out R
		err := link.breaker.Execute(func() error {
			var callErr error
			out, callErr = fn(link.engine)
			return callErr
		})
		if err == nil {
			return out, nil
		}

		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("engine skipped, breaker open", "engine", link.name)
			continue
		}
		slog.Warn("engine failed, trying next in chain",
			"engine", link.name, "error", err)
	}

	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
