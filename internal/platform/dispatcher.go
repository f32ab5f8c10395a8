package platform

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"cartobot/internal/eventbus"
	logx "cartobot/pkg/logx"
)

var ErrDispatcherClosed = errors.New("dispatcher closed")

// FailureLog receives a line for every failed call. The main log sink
// satisfies it.
type FailureLog interface {
	Log(values ...any)
}

// Dispatcher issues platform calls without blocking the caller. Completion is
// reported through an optional callback; failures are always logged.
type Dispatcher struct {
	log  logx.Logger
	sink FailureLog
	bus  eventbus.Bus
	sem  chan struct{}

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	failed atomic.Uint64
	done   atomic.Uint64
}

func NewDispatcher(concurrency int, log logx.Logger, sink FailureLog, bus eventbus.Bus) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 4
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		log:  log.With(logx.String("comp", "dispatch")),
		sink: sink,
		bus:  bus,
		sem:  make(chan struct{}, concurrency),
	}
}

// Go runs call in the background. onDone, if set, receives the call's result.
// It returns ErrDispatcherClosed once Close has been called.
func (d *Dispatcher) Go(ctx context.Context, name string, call func(ctx context.Context) error, onDone func(error)) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		err := d.run(ctx, name, call)
		if err != nil {
			d.failed.Add(1)
			d.log.Warn("platform call failed", logx.String("call", name), logx.Err(err))
			if d.sink != nil {
				d.sink.Log("platform call ", name, " failed: ", err)
			}
			if d.bus != nil {
				d.bus.Publish(eventbus.Event{Type: eventbus.TypeDispatchFailed, Data: name})
			}
		} else {
			d.done.Add(1)
		}
		if onDone != nil {
			onDone(err)
		}
	}()
	return nil
}

func (d *Dispatcher) run(ctx context.Context, name string, call func(ctx context.Context) error) (err error) {
	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-d.sem }()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", name, r)
			d.log.Error("platform call panicked", logx.String("call", name), logx.Stack(string(debug.Stack())))
		}
	}()
	return call(ctx)
}

// Close refuses new calls and waits for in-flight ones until ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher drain: %w", ctx.Err())
	}
}

type DispatchStats struct {
	Succeeded uint64
	Failed    uint64
}

func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{Succeeded: d.done.Load(), Failed: d.failed.Load()}
}

// SendText is a convenience wrapper for a fire-and-forget Send.
func (d *Dispatcher) SendText(ctx context.Context, c Client, to Handle, text string, onDone func(error)) error {
	return d.Go(ctx, "send:"+to.ID, func(ctx context.Context) error {
		sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return c.Send(sctx, to, text)
	}, onDone)
}
