// Package backend adapts external generation and review tools to the task
// and review contracts used by the engine.
package backend

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/crossfix/internal/config"
	"github.com/Iron-Ham/crossfix/internal/errors"
	"github.com/Iron-Ham/crossfix/internal/logging"
	"github.com/Iron-Ham/crossfix/internal/review"
	"github.com/Iron-Ham/crossfix/internal/task"
)

// Executor runs one task and reports what the backend did.
type Executor interface {
	Execute(ctx context.Context, t task.Task) (task.RoundResult, error)
}

// Backend is a capability that can execute tasks and review artifact sets.
type Backend interface {
	Executor
	review.Reviewer
	ID() string
	// Available reports why the backend cannot be used, or nil.
	Available() error
}

// Registry maps backend ids to backends.
type Registry struct {
	backends map[string]Backend
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds b under its id, replacing any previous entry.
func (r *Registry) Register(b Backend) {
	r.backends[b.ID()] = b
}

// Get returns the backend registered under id.
func (r *Registry) Get(id string) (Backend, error) {
	b, ok := r.backends[id]
	if !ok {
		return nil, errors.NewNotFoundError("backend", id).WithCause(errors.ErrBackendNotFound)
	}
	return b, nil
}

// IDs returns the registered ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Availability reports the availability of every registered backend.
// A nil entry means the backend is usable.
func (r *Registry) Availability() map[string]error {
	out := make(map[string]error, len(r.backends))
	for id, b := range r.backends {
		out[id] = b.Available()
	}
	return out
}

// ReviewSlot resolves a configured reviewer id into a review slot. Missing or
// unavailable backends produce a slot with a nil reviewer and the reason.
func (r *Registry) ReviewSlot(id string) review.Slot {
	b, err := r.Get(id)
	if err != nil {
		return review.Slot{Name: id, Reason: err.Error()}
	}
	if err := b.Available(); err != nil {
		return review.Slot{Name: id, Reason: err.Error()}
	}
	return review.Slot{Name: id, Reviewer: b}
}

// Options carries the shared dependencies of configured backends.
type Options struct {
	FS     afero.Fs
	Logger *logging.Logger
	// CompletionPhrases are matched against task output.
	CompletionPhrases []string
	// MaxFileBytes truncates files inlined into HTTP review prompts.
	MaxFileBytes int
}

// NewRegistryFromConfig builds a registry holding every configured backend.
func NewRegistryFromConfig(cfg *config.Config, opts Options) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("missing config")
	}
	if opts.FS == nil {
		opts.FS = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.MaxFileBytes == 0 {
		opts.MaxFileBytes = cfg.Review.MaxFileBytes
	}
	if opts.CompletionPhrases == nil {
		opts.CompletionPhrases = cfg.Run.CompletionPhrases
	}
	detector := task.NewCompletionDetector(opts.CompletionPhrases)

	reg := NewRegistry()
	for id, bc := range cfg.Backends {
		switch bc.Kind {
		case config.BackendCLI:
			reg.Register(NewCLI(id, bc, detector, opts.Logger))
		case config.BackendOpenAI:
			b, err := NewOpenAI(id, bc, OpenAIOptions{
				FS:           opts.FS,
				Detector:     detector,
				Logger:       opts.Logger,
				MaxFileBytes: opts.MaxFileBytes,
			})
			if err != nil {
				return nil, fmt.Errorf("backend %s: %w", id, err)
			}
			reg.Register(b)
		default:
			return nil, errors.NewValidationError("unknown backend kind").
				WithField("backends." + id + ".kind").
				WithValue(bc.Kind)
		}
	}
	return reg, nil
}
