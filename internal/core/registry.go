package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry holds the features mounted on the server and tracks which of
// them finished Init.
type Registry struct {
	features    map[string]Feature
	initialized []Feature
	mutex       sync.RWMutex
	logger      *Logger
}

// NewRegistry creates a new feature registry
func NewRegistry(logger *Logger) *Registry {
	return &Registry{
		features: make(map[string]Feature),
		logger:   logger,
	}
}

// Register adds a feature to the registry
func (r *Registry) Register(feature Feature) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	name := feature.Name()
	if _, exists := r.features[name]; exists {
		return fmt.Errorf("feature %s already registered", name)
	}

	r.features[name] = feature
	r.logger.Info("Registered feature", "name", name, "enabled", feature.Enabled())
	return nil
}

// Get returns a registered feature by name
func (r *Registry) Get(name string) (Feature, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	f, ok := r.features[name]
	return f, ok
}

// List returns all registered features ordered by name
func (r *Registry) List() []Feature {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	features := make([]Feature, 0, len(r.features))
	for _, feature := range r.features {
		features = append(features, feature)
	}
	sort.Slice(features, func(i, j int) bool {
		return features[i].Name() < features[j].Name()
	})
	return features
}

// ListEnabled returns only enabled features
func (r *Registry) ListEnabled() []Feature {
	var enabled []Feature
	for _, feature := range r.List() {
		if feature.Enabled() {
			enabled = append(enabled, feature)
		}
	}
	return enabled
}

// InitAll initializes the enabled features in name order. When one fails,
// the features already initialized are shut down again.
func (r *Registry) InitAll(ctx context.Context) error {
	features := r.ListEnabled()
	r.logger.Info("Initializing features", "count", len(features))

	for _, feature := range features {
		if err := feature.Init(ctx); err != nil {
			r.ShutdownAll(ctx)
			return fmt.Errorf("failed to initialize feature %s: %w", feature.Name(), err)
		}

		r.mutex.Lock()
		r.initialized = append(r.initialized, feature)
		r.mutex.Unlock()
		r.logger.Info("Initialized feature", "name", feature.Name())
	}
	return nil
}

// ShutdownAll shuts down initialized features in reverse order. Every feature
// is attempted; the failures are joined.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	r.mutex.Lock()
	features := r.initialized
	r.initialized = nil
	r.mutex.Unlock()

	r.logger.Info("Shutting down features", "count", len(features))

	var errs []error
	for i := len(features) - 1; i >= 0; i-- {
		feature := features[i]
		if err := feature.Shutdown(ctx); err != nil {
			r.logger.Error("Failed to shutdown feature", "name", feature.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", feature.Name(), err))
			continue
		}
		r.logger.Info("Shutdown feature", "name", feature.Name())
	}
	return errors.Join(errs...)
}

// GetAllRoutes returns all routes from enabled features
func (r *Registry) GetAllRoutes() []Route {
	var routes []Route
	for _, feature := range r.ListEnabled() {
		routes = append(routes, feature.Routes()...)
	}
	return routes
}

// GetFeatureStatus returns the status of all features
func (r *Registry) GetFeatureStatus() map[string]FeatureStatus {
	r.mutex.RLock()
	ready := make(map[string]bool, len(r.initialized))
	for _, f := range r.initialized {
		ready[f.Name()] = true
	}
	r.mutex.RUnlock()

	status := make(map[string]FeatureStatus)
	for _, feature := range r.List() {
		status[feature.Name()] = FeatureStatus{
			Name:        feature.Name(),
			Description: feature.Description(),
			Enabled:     feature.Enabled(),
			Initialized: ready[feature.Name()],
		}
	}
	return status
}

// FeatureStatus represents the status of a feature
type FeatureStatus struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
	Initialized bool   `json:"initialized"`
}
