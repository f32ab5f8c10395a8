// Package persist defers serialization of long-lived state until shutdown.
//
// Subsystems register a handle once and keep mutating it; FlushAll encodes
// whatever each handle holds at that moment and hands it to the snapshot store.
package persist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cartobot/internal/storage"
	logx "cartobot/pkg/logx"
)

// Persistable is implemented by any value the registry can save and restore.
type Persistable interface {
	Encode() ([]byte, error)
	Decode(data []byte) error
}

// FlushError reports a single entry that failed to save.
type FlushError struct {
	Name string
	Err  error
}

func (e *FlushError) Error() string { return fmt.Sprintf("persist %q: %v", e.Name, e.Err) }
func (e *FlushError) Unwrap() error { return e.Err }

// Stats counts flush outcomes since the registry was created.
type Stats struct {
	Flushed uint64
	Failed  uint64
}

type entry struct {
	name string
	obj  Persistable
}

type Registry struct {
	store storage.Store
	log   logx.Logger

	mu      sync.Mutex
	entries map[string]entry
	order   []string
	stats   Stats
}

func NewRegistry(store storage.Store, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		store:   store,
		log:     log.With(logx.String("comp", "persist")),
		entries: map[string]entry{},
	}
}

// Register records obj under name. No I/O happens here.
// Values that are not Persistable are ignored. Registering a name twice
// replaces the earlier handle.
func (r *Registry) Register(name string, obj any) {
	name = strings.TrimSpace(name)
	if name == "" {
		r.log.Warn("register ignored: empty name")
		return
	}
	p, ok := obj.(Persistable)
	if !ok || p == nil {
		r.log.Debug("register ignored: value is not persistable", logx.String("name", name), logx.String("type", fmt.Sprintf("%T", obj)))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		r.log.Warn("persistable re-registered; replacing previous handle", logx.String("name", name))
	} else {
		r.order = append(r.order, name)
	}
	r.entries[name] = entry{name: name, obj: p}
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// FlushAll saves every entry. A failure on one entry never stops the others;
// all failures are returned joined, each as a *FlushError.
func (r *Registry) FlushAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store == nil {
		if len(r.order) > 0 {
			r.log.Warn("flush skipped: storage disabled", logx.Int("entries", len(r.order)))
		}
		return nil
	}

	var errs []error
	for _, name := range r.order {
		e := r.entries[name]
		if err := r.flushOne(ctx, e); err != nil {
			r.stats.Failed++
			r.log.Error("persist failed", logx.String("name", name), logx.Err(err))
			errs = append(errs, &FlushError{Name: name, Err: err})
			continue
		}
		r.stats.Flushed++
	}
	if len(errs) == 0 {
		r.log.Info("persisted state", logx.Int("entries", len(r.order)))
	}
	return errors.Join(errs...)
}

func (r *Registry) flushOne(ctx context.Context, e entry) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("encode panic: %v", rec)
		}
	}()
	data, err := e.obj.Encode()
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := r.store.PutSnapshot(ctx, e.name, data); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

// Load hydrates into from the snapshot stored under name.
// It reports false when there is no usable prior state; into is left as the
// caller initialised it in that case.
func (r *Registry) Load(ctx context.Context, name string, into Persistable) bool {
	if r.store == nil || into == nil {
		return false
	}
	data, err := r.store.GetSnapshot(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		r.log.Debug("no prior state", logx.String("name", name))
		return false
	}
	if err != nil {
		r.log.Warn("load failed", logx.String("name", name), logx.Err(err))
		return false
	}
	if err := into.Decode(data); err != nil {
		r.log.Warn("decode failed; starting fresh", logx.String("name", name), logx.Err(err))
		return false
	}
	return true
}
