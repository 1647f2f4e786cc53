package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/fieldbirds/birddetect/internal/backend"
	"github.com/fieldbirds/birddetect/internal/imaging"
	"github.com/fieldbirds/birddetect/internal/log"
)

var (
	// ErrUnknownModel is returned when a model name is not registered.
	ErrUnknownModel = errors.New("unknown model")
	// ErrDuplicateModelName is returned when registering a name twice.
	ErrDuplicateModelName = errors.New("duplicate model name")
	// ErrNoActiveModel is returned when no model has been activated yet.
	ErrNoActiveModel = errors.New("no active model")
)

// Descriptor is one registered detector. It is immutable once registered.
type Descriptor struct {
	Name    string
	Kind    backend.Kind
	Backend backend.Backend
	Labels  []string

	// CanvasSize is the square side the backend expects.
	CanvasSize int

	// DeclaredAccuracy and DeclaredThroughput are informational only.
	DeclaredAccuracy   float64
	DeclaredThroughput float64
}

// Label returns the class name for classID, or "" when it is out of range.
func (d *Descriptor) Label(classID int) string {
	if classID < 0 || classID >= len(d.Labels) {
		return ""
	}
	return d.Labels[classID]
}

type entry struct {
	desc   *Descriptor
	warmed bool
}

// Registry holds the available detectors and the active one.
//
// Active is lock-free: it loads a pointer published by SwitchTo, so a request
// that captured model A keeps using A even if a switch to B completes while it
// runs. SwitchTo warms the target before publishing it, and concurrent switches
// are serialised.
type Registry struct {
	mu     sync.RWMutex
	models map[string]*entry
	order  []string

	switchMu sync.Mutex
	active   atomic.Pointer[Descriptor]
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		models: make(map[string]*entry),
	}
}

type canvasSizer interface {
	CanvasSize() int
}

// Register adds a detector. It does not activate it.
//
// Labels default to the backend's labels and CanvasSize to the backend's own
// canvas size (or imaging.DefaultCanvasSize).
//
// # Errors
//
//   - Returns ErrDuplicateModelName if d.Name is already registered.
//   - Returns an error if d.Name is empty or d.Backend is nil.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("model name is required")
	}
	if d.Backend == nil {
		return fmt.Errorf("model %q has no backend", d.Name)
	}

	if len(d.Labels) == 0 {
		d.Labels = d.Backend.Labels()
	}
	d.Labels = append([]string(nil), d.Labels...)
	if d.CanvasSize == 0 {
		if cs, ok := d.Backend.(canvasSizer); ok {
			d.CanvasSize = cs.CanvasSize()
		} else {
			d.CanvasSize = imaging.DefaultCanvasSize
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.models[d.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateModelName, d.Name)
	}
	r.models[d.Name] = &entry{desc: &d}
	r.order = append(r.order, d.Name)
	return nil
}

// Active returns the active model. The returned descriptor stays valid for the
// caller's whole request regardless of later switches.
func (r *Registry) Active() (*Descriptor, error) {
	d := r.active.Load()
	if d == nil {
		return nil, ErrNoActiveModel
	}
	return d, nil
}

// ActiveName returns the active model's name, or "" when none is active.
func (r *Registry) ActiveName() string {
	if d := r.active.Load(); d != nil {
		return d.Name
	}
	return ""
}

// Get returns a registered model by name.
func (r *Registry) Get(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return e.desc, nil
}

// SwitchTo makes name the active model.
//
// The target is warmed up (once per model) before it is published. If warm-up
// fails or ctx ends first, the previously active model stays active and
// in-flight requests are unaffected.
//
// # Errors
//
//   - Returns ErrUnknownModel if name is not registered.
//   - Returns the warm-up error, which wraps backend.ErrInference.
func (r *Registry) SwitchTo(ctx context.Context, name string) error {
	r.mu.RLock()
	e, ok := r.models[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}

	r.switchMu.Lock()
	defer r.switchMu.Unlock()

	if !e.warmed {
		if err := e.desc.Backend.WarmUp(ctx); err != nil {
			return fmt.Errorf("warm up %s: %w", name, err)
		}
		e.warmed = true
	}

	previous := r.active.Swap(e.desc)

	fields := log.Fields{"model": name}
	if previous != nil {
		fields["previous"] = previous.Name
	}
	log.Info(fields, "[registry.SwitchTo] active model changed")
	return nil
}

// List returns every registered model in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.models[name].desc)
	}
	return out
}

// Len returns the number of registered models.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Close releases every backend that holds native resources.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for _, name := range r.order {
		if c, ok := r.models[name].desc.Backend.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}
