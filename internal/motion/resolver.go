package motion

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// smartGroupThreshold is the flat-motion count above which a model's
// declared "groups" are replaced by name-heuristic smart groups.
const smartGroupThreshold = 50

// ModelAnalysis is the full analysis of one avatar model: every motion's
// classification and the derived grouping. Immutable once built.
type ModelAnalysis struct {
	ModelID string
	Motions map[string]Analysis
	Groups  map[string][]string
}

// AnalysisStore persists per-motion analyses across restarts. The live2d
// store implements it.
type AnalysisStore interface {
	PutMotionAnalysis(modelID, motionName string, analysis any) error
}

// Resolver analyzes avatar models on demand and caches the results.
// Reads are lock-free snapshots; cold models are analyzed exactly once
// even under concurrent demand. Safe for concurrent use.
type Resolver struct {
	log   *slog.Logger
	store AnalysisStore

	sf singleflight.Group

	mu    sync.Mutex
	cache map[string]*ModelAnalysis // replaced wholesale on insert
}

// Option is a functional option for configuring a Resolver.
type Option func(*Resolver)

// WithStore persists analyses to the given store after resolution.
func WithStore(s AnalysisStore) Option {
	return func(r *Resolver) { r.store = s }
}

// WithLogger sets the resolver's logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Resolver) { r.log = log }
}

// NewResolver creates an empty Resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		log:   slog.Default(),
		cache: make(map[string]*ModelAnalysis),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the model's analysis, computing and caching it on
// first demand. Concurrent calls for the same cold model share one
// computation.
func (r *Resolver) Resolve(modelID, manifestPath string) (*ModelAnalysis, error) {
	if ma := r.cached(modelID); ma != nil {
		return ma, nil
	}

	v, err, _ := r.sf.Do(modelID, func() (any, error) {
		if ma := r.cached(modelID); ma != nil {
			return ma, nil
		}
		ma, err := r.analyze(modelID, manifestPath)
		if err != nil {
			return nil, err
		}
		r.insert(ma)
		r.persist(ma)
		return ma, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ModelAnalysis), nil
}

// Invalidate drops a model's cached analysis, forcing re-analysis on the
// next Resolve. Used when avatar assets are reloaded.
func (r *Resolver) Invalidate(modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cache[modelID]; !ok {
		return
	}
	next := make(map[string]*ModelAnalysis, len(r.cache))
	for k, v := range r.cache {
		if k != modelID {
			next[k] = v
		}
	}
	r.cache = next
}

func (r *Resolver) cached(modelID string) *ModelAnalysis {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache[modelID]
}

// insert copies the cache map so concurrent readers never observe a
// mid-write map.
func (r *Resolver) insert(ma *ModelAnalysis) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make(map[string]*ModelAnalysis, len(r.cache)+1)
	for k, v := range r.cache {
		next[k] = v
	}
	next[ma.ModelID] = ma
	r.cache = next
}

// persist writes every motion analysis to the store. Best effort: a
// persistence failure degrades to re-analysis on next start.
func (r *Resolver) persist(ma *ModelAnalysis) {
	if r.store == nil {
		return
	}
	for name, a := range ma.Motions {
		if err := r.store.PutMotionAnalysis(ma.ModelID, name, a); err != nil {
			r.log.Warn("persisting motion analysis failed",
				"model", ma.ModelID, "motion", name, "error", err)
		}
	}
}

// analyze parses every motion the manifest references and derives the
// grouping.
func (r *Resolver) analyze(modelID, manifestPath string) (*ModelAnalysis, error) {
	m, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	ma := &ModelAnalysis{
		ModelID: modelID,
		Motions: make(map[string]Analysis),
		Groups:  make(map[string][]string),
	}

	flat := m.ungrouped()
	smart := flat && len(m.FileReferences.Motions) > smartGroupThreshold

	for declared, refs := range m.FileReferences.Motions {
		for i, ref := range refs {
			name := declared
			if !flat && len(refs) > 1 {
				name = fmt.Sprintf("%s_%d", declared, i)
			}
			a, err := AnalyzeFile(name, m.motionPath(ref))
			if err != nil {
				r.log.Warn("skipping unreadable motion",
					"model", modelID, "motion", name, "error", err)
				continue
			}
			if smart {
				a.Group = smartGroup(name, a.Category)
			} else {
				a.Group = declared
			}
			ma.Motions[name] = a
			ma.Groups[a.Group] = append(ma.Groups[a.Group], name)
		}
	}

	for g := range ma.Groups {
		sort.Strings(ma.Groups[g])
	}
	if len(ma.Motions) == 0 {
		return nil, fmt.Errorf("motion: model %s declares no readable motions", modelID)
	}
	return ma, nil
}
