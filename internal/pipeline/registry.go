package pipeline

import (
	"fmt"
	"sort"

	"github.com/banshee-data/imm.demo/internal/filter"
	"github.com/banshee-data/imm.demo/internal/filter/imm"
	"github.com/banshee-data/imm.demo/internal/filter/kalman"
)

// Factory builds a fresh, uninitialised estimator for cfg.
type Factory func(cfg Config) (filter.Estimator, error)

// Registry maps filter types to their factories. It is built once at start
// up and handed to each pipeline; it is read-only after construction and safe
// to share between goroutines.
type Registry struct {
	factories map[filter.Type]Factory
}

// NewRegistry returns a registry holding the single Kalman filter and the
// IMM.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[filter.Type]Factory)}
	r.Register(filter.TypeKalman, newKalman)
	r.Register(filter.TypeIMM, newIMM)
	return r
}

// Register adds or replaces the factory for t. Call before the registry is
// shared.
func (r *Registry) Register(t filter.Type, f Factory) {
	r.factories[t] = f
}

// New builds the estimator named by cfg.FilterType.
func (r *Registry) New(cfg Config) (filter.Estimator, error) {
	f, ok := r.factories[cfg.FilterType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", filter.ErrUnknownFilterType, cfg.FilterType)
	}
	return f(cfg)
}

// Lookup resolves a string key and builds the matching estimator.
func (r *Registry) Lookup(key string, cfg Config) (filter.Estimator, error) {
	t, err := filter.ParseType(key)
	if err != nil {
		return nil, err
	}
	cfg.FilterType = t
	return r.New(cfg)
}

// Types lists the registered filter types in order.
func (r *Registry) Types() []filter.Type {
	types := make([]filter.Type, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func newKalman(cfg Config) (filter.Estimator, error) {
	return kalman.New(cfg.Model(), kalman.WithSymmetrize(cfg.Symmetrize)), nil
}

func newIMM(cfg Config) (filter.Estimator, error) {
	if err := cfg.IMM.Validate(); err != nil {
		return nil, fmt.Errorf("imm: %w", err)
	}
	return imm.New(cfg.Model(), cfg.IMM, kalman.WithSymmetrize(cfg.Symmetrize)), nil
}
