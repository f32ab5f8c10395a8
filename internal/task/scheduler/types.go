package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"cartobot/internal/eventbus"
	"cartobot/internal/task/engine"
	logx "cartobot/pkg/logx"
)

var (
	ErrCancelled = errors.New("scheduler cancelled")
	ErrDuplicate = errors.New("duplicate job name")
	ErrBadHour   = errors.New("hour must be in [0,23]")
)

// Action is the body of a scheduled job. ctx is cancelled by CancelAll.
type Action func(ctx context.Context) error

// Config controls the trigger service. Pool sizing lives in engine.Config.
type Config struct {
	Timezone string // IANA TZ; empty means Local
}

// Job is the handle returned by ScheduleDaily.
type Job struct {
	id     string
	name   string
	hour   int
	action Action

	ctx    context.Context
	cancel context.CancelFunc
	state  *engine.RunState

	entryID cron.EntryID

	runs     atomic.Uint64
	failures atomic.Uint64
	skips    atomic.Uint64
}

func (j *Job) ID() string   { return j.id }
func (j *Job) Name() string { return j.name }
func (j *Job) Hour() int    { return j.hour }

// Failures counts runs that returned an error or panicked.
func (j *Job) Failures() uint64 { return j.failures.Load() }

// Runs counts completed runs, successful or not.
func (j *Job) Runs() uint64 { return j.runs.Load() }

// Cancelled reports whether the job's context has been cancelled.
func (j *Job) Cancelled() bool { return j.ctx.Err() != nil }

type JobInfo struct {
	ID       string
	Name     string
	Hour     int
	Next     time.Time
	Prev     time.Time
	Runs     uint64
	Failures uint64
	Skips    uint64
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	engine *engine.Service

	c         *cron.Cron
	jobs      []*Job
	names     map[string]struct{}
	cancelled bool

	cancelOnce sync.Once
	cancelErr  error

	// newSchedule builds the trigger for a job. Tests swap it for a short period.
	newSchedule func(hour int) cron.Schedule

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}
