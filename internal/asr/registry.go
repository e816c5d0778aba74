package asr

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry manages ASR backends and supports fallback transcription.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
	primary  string
	fallback string
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Backend),
	}
}

// Register adds a backend to the registry. The first registered backend
// becomes the primary by default.
func (r *Registry) Register(name string, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = b
	if r.primary == "" {
		r.primary = name
	}
}

// SetPrimary sets the primary backend by name.
func (r *Registry) SetPrimary(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.primary = name
}

// SetFallback sets the fallback backend by name.
func (r *Registry) SetFallback(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = name
}

// Get returns a backend by name, or false if not found.
func (r *Registry) Get(name string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	return b, ok
}

// Primary returns the primary backend, or nil if none configured.
func (r *Registry) Primary() Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backends[r.primary]
}

// Fallback returns the fallback backend, or nil if none configured.
func (r *Registry) Fallback() Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.fallback == "" || r.fallback == r.primary {
		return nil
	}
	return r.backends[r.fallback]
}

// Backends returns the sorted names of all registered backends.
func (r *Registry) Backends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TranscribeWithFallback tries the primary backend first, falling back on
// error. The returned segments are validated before being handed back so a
// misbehaving engine fails here rather than inside alignment.
func (r *Registry) TranscribeWithFallback(ctx context.Context, filePath string, opts TranscribeOptions) (*Transcript, error) {
	primary := r.Primary()
	if primary == nil {
		return nil, fmt.Errorf("asr: no primary backend configured")
	}

	transcript, err := transcribeValidated(ctx, primary, filePath, opts)
	if err == nil {
		return transcript, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("asr: primary backend %q: %w", primary.Name(), err)
	}

	fallback := r.Fallback()
	if fallback == nil {
		return nil, fmt.Errorf("asr: primary backend %q failed: %w", primary.Name(), err)
	}

	transcript, fbErr := transcribeValidated(ctx, fallback, filePath, opts)
	if fbErr != nil {
		return nil, fmt.Errorf("asr: primary %q failed (%v), fallback %q also failed: %w", primary.Name(), err, fallback.Name(), fbErr)
	}

	return transcript, nil
}

func transcribeValidated(ctx context.Context, b Backend, filePath string, opts TranscribeOptions) (*Transcript, error) {
	t, err := b.TranscribeFile(ctx, filePath, opts)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("asr: backend %q returned no transcript", b.Name())
	}
	if err := Validate(t.Segments); err != nil {
		return nil, err
	}
	return t, nil
}

// HealthCheckAll runs HealthCheck on every registered backend in name order.
// Backends that return an error are reported as unhealthy.
func (r *Registry) HealthCheckAll(ctx context.Context) []*HealthStatus {
	var out []*HealthStatus
	for _, name := range r.Backends() {
		b, _ := r.Get(name)
		st, err := b.HealthCheck(ctx)
		if err != nil {
			st = &HealthStatus{Backend: b.Name(), Message: err.Error()}
		}
		out = append(out, st)
	}
	return out
}
