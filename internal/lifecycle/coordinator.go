// Package lifecycle drives the process through startup, steady state and
// shutdown.
//
//	NotStarted -> Resolving -> Running -> Draining -> Stopped
//	                   \-> Fatal
//
// Shutdown runs exactly once. Every drain step runs even when an earlier one
// failed, so durable state gets its chance to reach disk.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cartobot/internal/eventbus"
	"cartobot/internal/platform"
	rtsup "cartobot/internal/runtime/supervisor"
	logx "cartobot/pkg/logx"
	"cartobot/pkg/systemd"
)

var ErrAlreadyStarted = errors.New("lifecycle already started")

// Scheduler is the subset of the schedule manager the coordinator drives.
type Scheduler interface {
	Start(ctx context.Context) error
	CancelAll(ctx context.Context) error
}

// Flusher persists registered state.
type Flusher interface {
	FlushAll(ctx context.Context) error
}

// Sink is the buffered log the coordinator writes online/offline lines to
// and closes last.
type Sink interface {
	Log(values ...any)
	Flush() error
	Close() error
}

// Step is one named shutdown action.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

type Options struct {
	Client    platform.Client
	Resources []ResourceSpec
	Scheduler Scheduler
	Registry  Flusher
	Sink      Sink
	Log       logx.Logger
	Bus       eventbus.Bus
	Notify    systemd.NotifyFunc

	// OnRunning runs once every resource is resolved and before the
	// scheduler starts. Jobs are registered and the online announcement is
	// queued here. An error is fatal.
	OnRunning func(ctx context.Context, res *Resources) error

	// BeforeFlush runs after jobs are cancelled and before the registry is
	// flushed (stop intake, drain in-flight platform calls).
	BeforeFlush []Step
	// AfterFlush runs after the registry flush (close the store).
	AfterFlush []Step

	// FlushTimeout bounds the registry flush and the AfterFlush steps. They
	// get their own deadline so a spent Stop context cannot skip the write.
	// Defaults to 10s.
	FlushTimeout time.Duration
}

type Coordinator struct {
	opts Options
	log  logx.Logger

	state atomic.Int32
	res   atomic.Pointer[Resources]
	sup   *rtsup.Supervisor

	stopOnce sync.Once
	stopErr  error

	emergencyFired atomic.Bool
	emergency      chan struct{}
	emergencyErr   atomic.Pointer[error]
}

func New(opts Options) *Coordinator {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Notify == nil {
		opts.Notify = systemd.Notify
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 10 * time.Second
	}
	return &Coordinator{
		opts:      opts,
		log:       log.With(logx.String("comp", "lifecycle")),
		emergency: make(chan struct{}),
	}
}

func (c *Coordinator) State() State { return State(c.state.Load()) }

// Resources returns the resolved resources, or nil before Running.
func (c *Coordinator) Resources() *Resources { return c.res.Load() }

// Done is closed when Emergency is called.
func (c *Coordinator) Done() <-chan struct{} { return c.emergency }

// Err returns the error passed to Emergency, if any.
func (c *Coordinator) Err() error {
	if p := c.emergencyErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (c *Coordinator) setState(s State) {
	c.report(State(c.state.Swap(int32(s))), s)
}

func (c *Coordinator) report(prev, s State) {
	if prev == s {
		return
	}
	c.log.Info("lifecycle state", logx.String("from", prev.String()), logx.String("to", s.String()))
	if c.opts.Bus != nil {
		c.opts.Bus.Publish(eventbus.Event{Type: eventbus.TypeLifecycleState, Time: time.Now(), Data: s})
	}
}

func (c *Coordinator) notify(states ...string) {
	for _, st := range states {
		if _, err := c.opts.Notify(st); err != nil {
			c.log.Warn("sd_notify failed", logx.String("state", st), logx.Err(err))
		}
	}
}

func (c *Coordinator) sinkLog(values ...any) {
	if c.opts.Sink != nil {
		c.opts.Sink.Log(values...)
	}
}

// Start resolves every resource, then enters Running. It returns once the
// scheduler is started; it does not block for the process lifetime.
//
// On a missing resource the client is terminated and a *ResolutionError is
// returned. The caller should still call Stop to flush logs.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(NotStarted), int32(Resolving)) {
		return ErrAlreadyStarted
	}
	c.report(NotStarted, Resolving)

	res, err := c.resolve(ctx)
	if err != nil {
		return c.fatal(err)
	}
	c.res.Store(res)

	c.sup = rtsup.New(context.Background(), rtsup.WithLogger(c.log))
	if c.opts.OnRunning != nil {
		if err := c.opts.OnRunning(ctx, res); err != nil {
			return c.fatal(fmt.Errorf("startup: %w", err))
		}
	}
	if c.opts.Scheduler != nil {
		if err := c.opts.Scheduler.Start(c.sup.Context()); err != nil {
			return c.fatal(fmt.Errorf("start scheduler: %w", err))
		}
	}

	c.setState(Running)
	c.log.Info("online", logx.Int("resources", len(res.order)))
	c.sinkLog("online")
	c.notify(systemd.Ready, systemd.Status("running"))

	if iv := systemd.WatchdogInterval(); iv > 0 {
		notify := c.opts.Notify
		c.sup.Go("systemd.watchdog", func(ctx context.Context) error {
			return systemd.RunWatchdog(ctx, iv, notify)
		})
	}
	return nil
}

func (c *Coordinator) resolve(ctx context.Context) (*Resources, error) {
	res := newResources()
	for _, rs := range c.opts.Resources {
		ref := platform.Ref{Name: rs.Name, Kind: rs.Kind, ID: rs.ID}
		if rs.Parent != "" {
			parent, ok := res.Get(rs.Parent)
			if !ok {
				return nil, &ResolutionError{Resource: rs, Err: fmt.Errorf("parent %q not resolved", rs.Parent)}
			}
			ref.Parent = &parent
		}
		h, err := c.opts.Client.Lookup(ctx, ref)
		if err != nil {
			return nil, &ResolutionError{Resource: rs, Err: err}
		}
		c.log.Debug("resource resolved", logx.String("name", rs.Name), logx.String("kind", string(rs.Kind)), logx.String("id", h.ID))
		res.put(rs.Name, h)
	}
	return res, nil
}

func (c *Coordinator) fatal(err error) error {
	c.log.Error("startup failed", logx.Err(err))
	var rerr *ResolutionError
	if errors.As(err, &rerr) {
		c.sinkLog("Can't find ", rerr.Resource.Kind, " ", rerr.Resource.Name)
	} else {
		c.sinkLog("startup failed: ", err)
	}
	if c.opts.Client != nil {
		c.opts.Client.Terminate()
	}
	c.setState(Fatal)
	return err
}

// Stop drains the process. Only the first call does the work; later calls
// wait for it and return the same result.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		c.stopErr = c.drain(ctx)
	})
	return c.stopErr
}

func (c *Coordinator) drain(ctx context.Context) error {
	prev := c.State()
	c.setState(Draining)
	c.notify(systemd.Stopping)
	start := time.Now()

	var errs []error
	run := func(ctx context.Context, name string, fn func(context.Context) error) {
		if err := fn(ctx); err != nil {
			c.log.Error("drain step failed", logx.String("step", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if s := c.opts.Scheduler; s != nil {
		run(ctx, "cancel jobs", s.CancelAll)
	}
	for _, st := range c.opts.BeforeFlush {
		run(ctx, st.Name, st.Run)
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.FlushTimeout)
	if r := c.opts.Registry; r != nil {
		run(fctx, "flush registry", r.FlushAll)
	}
	for _, st := range c.opts.AfterFlush {
		run(fctx, st.Name, st.Run)
	}
	cancel()

	if c.sup != nil {
		run(ctx, "supervisor", c.sup.Stop)
	}

	c.log.Info("offline", logx.Duration("took", time.Since(start)))
	if s := c.opts.Sink; s != nil {
		s.Log("offline")
		run(ctx, "flush log", func(context.Context) error { return s.Flush() })
		run(ctx, "close log", func(context.Context) error { return s.Close() })
	}

	if prev == Fatal {
		c.setState(Fatal)
	} else {
		c.setState(Stopped)
	}
	return errors.Join(errs...)
}

// Emergency records err, terminates the platform connection and closes
// Done. The host is expected to call Stop and exit non-zero. Only the first
// call has any effect; it never blocks and may be re-entered from the log
// sink's failure hook.
func (c *Coordinator) Emergency(err error) {
	if !c.emergencyFired.CompareAndSwap(false, true) {
		return
	}
	if err == nil {
		err = errors.New("emergency shutdown")
	}
	c.emergencyErr.Store(&err)
	close(c.emergency)
	c.log.Error("emergency shutdown", logx.Err(err))
	if c.opts.Client != nil {
		c.opts.Client.Terminate()
	}
}
