package lifecycle

import (
	"fmt"
	"strings"

	"cartobot/internal/platform"
)

type State int32

const (
	NotStarted State = iota
	Resolving
	Running
	Draining
	Stopped
	Fatal
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Resolving:
		return "resolving"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ResourceSpec names one resource to resolve at startup. Parent refers to an
// earlier resource by name.
type ResourceSpec struct {
	Name   string
	Kind   platform.Kind
	ID     string
	Parent string
}

// ResolutionError reports a configured resource the platform could not
// resolve. It is fatal: the process never runs with partial resources.
type ResolutionError struct {
	Resource ResourceSpec
	Err      error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("can't find %s %q (id %s): %v", e.Resource.Kind, e.Resource.Name, e.Resource.ID, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Resources maps configured names to resolved handles. It is built once
// during startup and read-only afterwards.
type Resources struct {
	byName map[string]platform.Handle
	order  []string
}

func newResources() *Resources {
	return &Resources{byName: map[string]platform.Handle{}}
}

func (r *Resources) put(name string, h platform.Handle) {
	r.byName[name] = h
	r.order = append(r.order, name)
}

// Get returns the handle for name.
func (r *Resources) Get(name string) (platform.Handle, bool) {
	if r == nil {
		return platform.Handle{}, false
	}
	h, ok := r.byName[name]
	return h, ok
}

// Names returns resource names in resolution order.
func (r *Resources) Names() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}

func (r *Resources) String() string {
	if r == nil {
		return "[]"
	}
	return "[" + strings.Join(r.order, " ") + "]"
}
