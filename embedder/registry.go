package embedder

import "sync"

// Registry is the process-wide cache of embedding clients keyed by model
// name. Build one per process and hand the same instance to every pipeline;
// each model is constructed at most once regardless of how many callers ask
// for it concurrently.
type Registry struct {
	cfg     Config
	factory func(Config) Embedder

	mu      sync.RWMutex
	byModel map[string]Embedder
	loads   int
}

// NewRegistry builds a Registry. cfg supplies the endpoint and defaults;
// Get overrides the model name per call.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:     cfg,
		factory: New,
		byModel: make(map[string]Embedder),
	}
}

// Get returns the shared Embedder for model, constructing it on first use.
// An empty model falls back to the configured default. Concurrent first
// access constructs exactly once.
func (r *Registry) Get(model string) Embedder {
	if model == "" {
		model = r.cfg.Model
	}
	r.mu.RLock()
	e, ok := r.byModel[model]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byModel[model]; ok {
		return e
	}
	cfg := r.cfg
	cfg.Model = model
	e = r.factory(cfg)
	r.byModel[model] = e
	r.loads++
	return e
}

// LoadCount returns how many embedders have been constructed.
func (r *Registry) LoadCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loads
}

// SetFactory replaces the constructor. Test seam; call it before any Get.
func (r *Registry) SetFactory(f func(Config) Embedder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factory = f
}
