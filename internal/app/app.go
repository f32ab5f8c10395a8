// Package app wires the bot together from a config file and runs it until a
// signal or an emergency.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cartobot/internal/config"
	"cartobot/internal/eventbus"
	"cartobot/internal/forum"
	"cartobot/internal/lifecycle"
	"cartobot/internal/logsink"
	"cartobot/internal/observability"
	"cartobot/internal/persist"
	"cartobot/internal/platform"
	"cartobot/internal/platform/platformtest"
	"cartobot/internal/platform/telegram"
	rtsup "cartobot/internal/runtime/supervisor"
	"cartobot/internal/storage"
	"cartobot/internal/task/engine"
	"cartobot/internal/task/scheduler"
	"cartobot/internal/timekeeper"
	logx "cartobot/pkg/logx"
	"cartobot/pkg/systemd"
)

// forumStateName is the persistence key of the idle forum tracker.
const forumStateName = "idle_forum_posts"

type Options struct {
	// Client replaces the platform client built from config.
	Client platform.Client
	// Now overrides the wall clock used by the log sink and forum tracker.
	Now func() time.Time
	// Notify overrides sd_notify.
	Notify systemd.NotifyFunc
}

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config

	log  logx.Logger
	logs *logx.Service
	sink *logsink.Sink
	bus  eventbus.Bus

	store    storage.Store
	registry *persist.Registry
	engine   *engine.Service
	sched    *scheduler.Service
	tracker  *forum.Tracker

	client   platform.Client
	dispatch *platform.Dispatcher

	ops   *observability.Server
	coord *lifecycle.Coordinator

	sup          *rtsup.Supervisor
	intakeCancel context.CancelFunc
	intakeDone   chan struct{}
}

// New loads and validates the config at cfgPath and builds every component.
// The telegram driver checks its token against the API here; polling,
// resource lookup and the ops listener wait for Run.
func New(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	a := &App{cfgm: cfgm, cfg: cfg}

	sinkCfg := mapSinkConfig(cfg, a.emergency)
	sinkCfg.Now = opts.Now
	a.sink = logsink.New(sinkCfg)

	logCfg := mapLogConfig(cfg)
	logCfg.Mirror = a.sink.Writer(logsink.Main)
	logs, root := logx.New(logCfg)
	a.logs = logs
	a.log = root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root)

	a.bus = eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, a.abort(err)
	}
	store, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, a.abort(fmt.Errorf("open persistence: %w", err))
	}
	a.store = store
	a.registry = persist.NewRegistry(store, root)

	a.engine = engine.New(mapEngineConfig(cfg), root, a.bus)
	a.sched = scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone}, a.engine, root, a.bus)

	var clock timekeeper.Clock = timekeeper.SystemClock{Loc: a.sched.Location()}
	if opts.Now != nil {
		clock = timekeeper.ClockFunc(opts.Now)
	}
	a.tracker = forum.NewTracker(clock)
	a.registry.Register(forumStateName, a.tracker)
	lctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if a.registry.Load(lctx, forumStateName, a.tracker) {
		a.log.Info("forum state restored", logx.Int("threads", a.tracker.Len()))
	}
	cancel()

	a.client = opts.Client
	if a.client == nil {
		a.client, err = newClient(cfg, root)
		if err != nil {
			return nil, a.abort(err)
		}
	}
	a.dispatch = platform.NewDispatcher(cfg.Platform.DispatchConcurrency, root, a.sink, a.bus)

	if cfg.Ops.Enabled {
		metrics := observability.NewMetrics(a.bus)
		a.ops = observability.NewServer(observability.Config{Addr: cfg.Ops.Addr}, metrics, a.bus, a.status, root)
	}

	a.coord = lifecycle.New(lifecycle.Options{
		Client:    a.client,
		Resources: mapResources(cfg),
		Scheduler: a.sched,
		Registry:  a.registry,
		Sink:      mirroredSink{Sink: a.sink, logs: a.logs},
		Log:       root,
		Bus:       a.bus,
		Notify:    opts.Notify,
		OnRunning: a.onRunning,
		BeforeFlush: []lifecycle.Step{
			{Name: "intake", Run: a.stopIntake},
			{Name: "dispatcher", Run: a.dispatch.Close},
			{Name: "ops", Run: a.stopOps},
		},
		AfterFlush: []lifecycle.Step{
			{Name: "storage", Run: a.closeStore},
		},
	})
	return a, nil
}

// mirroredSink detaches the logx mirror before the sink closes, so records
// logged after the drain do not hit a closed writer.
type mirroredSink struct {
	*logsink.Sink
	logs *logx.Service
}

func (s mirroredSink) Close() error {
	s.logs.DropMirror()
	return s.Sink.Close()
}

func newClient(cfg *config.Config, log logx.Logger) (platform.Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Platform.Driver)) {
	case "telegram":
		poll, err := config.ParseDurationOrDefault("platform.telegram.poll_timeout", cfg.Platform.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		return telegram.New(telegram.Config{Token: cfg.Platform.Telegram.Token, PollTimeout: poll}, log)
	case "fake":
		// Offline mode: every configured resource resolves to itself.
		fake := platformtest.New()
		for _, r := range cfg.Resources {
			fake.Add(platform.Kind(r.Kind), r.ID, r.Name)
		}
		return fake, nil
	default:
		return nil, fmt.Errorf("unknown platform driver %q", cfg.Platform.Driver)
	}
}

// abort releases what New acquired before failing.
func (a *App) abort(err error) error {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	_ = a.sink.Close()
	return err
}

func (a *App) emergency(err error) {
	if c := a.coord; c != nil {
		c.Emergency(err)
	}
}

// State reports the lifecycle state.
func (a *App) State() lifecycle.State { return a.coord.State() }

// Run starts the bot and blocks until ctx is done or an emergency occurs,
// then drains. A startup failure is returned after the drain.
func (a *App) Run(ctx context.Context) error {
	a.sup = rtsup.New(context.Background(), rtsup.WithLogger(a.log))
	if a.ops != nil {
		if err := a.ops.Start(a.sup.Context()); err != nil {
			a.log.Warn("ops server failed to start", logx.String("addr", a.cfg.Ops.Addr), logx.Err(err))
		}
	}

	if err := a.coord.Start(ctx); err != nil {
		return errors.Join(err, a.shutdown("startup failed"))
	}

	a.startIntake()
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("config.reload", a.reloadLoop)
	a.log.Info("bot running", logx.Int("jobs", len(a.sched.Jobs())))

	reason := "signal"
	select {
	case <-ctx.Done():
	case <-a.coord.Done():
		reason = "emergency"
	}
	err := a.shutdown(reason)
	return errors.Join(a.coord.Err(), err)
}

func (a *App) shutdown(reason string) error {
	drain, err := config.ParseDurationOrDefault("lifecycle.drain_timeout", a.cfg.Lifecycle.DrainTimeout, 30*time.Second)
	if err != nil {
		drain = 30 * time.Second
	}
	a.log.Info("stopping", logx.String("reason", reason), logx.Duration("max", drain))

	ctx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()
	stopErr := a.coord.Stop(ctx)
	if err := a.sup.Stop(ctx); err != nil {
		a.log.Warn("background loops did not stop cleanly", logx.Err(err))
	}
	a.log.Info("stopped", logx.String("state", a.coord.State().String()))
	_ = a.logs.Close()
	return stopErr
}

func (a *App) startIntake() {
	in, ok := a.client.(platform.Intake)
	if !ok {
		a.log.Warn("platform client has no intake; inbound messages are ignored")
		return
	}
	ctx, cancel := context.WithCancel(a.sup.Context())
	done := make(chan struct{})
	a.intakeCancel, a.intakeDone = cancel, done
	a.sup.Go("platform.intake", func(context.Context) error {
		defer close(done)
		return in.Run(ctx, a.handleMessage)
	})
}

func (a *App) stopIntake(ctx context.Context) error {
	if a.intakeCancel == nil {
		return nil
	}
	a.intakeCancel()
	select {
	case <-a.intakeDone:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("intake: %w", ctx.Err())
	}
}

func (a *App) stopOps(ctx context.Context) error {
	if a.ops == nil {
		return nil
	}
	return a.ops.Stop(ctx)
}

func (a *App) closeStore(context.Context) error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

func (a *App) status() observability.Status {
	st := a.coord.State()
	out := observability.Status{
		State: st.String(),
		Ready: st == lifecycle.Running,
		Extra: map[string]any{
			"tracked_threads": a.tracker.Len(),
			"dispatch":        a.dispatch.Stats(),
			"persisted":       a.registry.Names(),
		},
	}
	for _, j := range a.sched.Jobs() {
		out.Jobs = append(out.Jobs, observability.JobStatus{
			Name:     j.Name,
			Hour:     j.Hour,
			Next:     j.Next,
			Runs:     j.Runs,
			Failures: j.Failures,
		})
	}
	return out
}
