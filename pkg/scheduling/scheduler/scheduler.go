package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	gferrors "github.com/vnykmshr/opflow/pkg/common/errors"
	"github.com/vnykmshr/opflow/pkg/common/validation"
	"github.com/vnykmshr/opflow/pkg/logging"
	"github.com/vnykmshr/opflow/pkg/metrics"
	"github.com/vnykmshr/opflow/pkg/pipe"
	"github.com/vnykmshr/opflow/pkg/scheduling/workerpool"
)

// Job runs a pipe on a cron schedule.
type Job struct {
	// ID identifies the job. Must be unique within a scheduler.
	ID string

	// Spec is a cron expression with a leading seconds field, or a
	// descriptor such as "@hourly" or "@every 5m".
	Spec string

	Pipe *pipe.Pipe

	// Input returns the properties for the run starting at the given time.
	// A nil Input runs the pipe with no properties.
	Input func(at time.Time) map[string]interface{}

	// Timeout bounds each run on top of the pipe's own budget.
	Timeout time.Duration
}

// Report describes one run of a job.
type Report struct {
	JobID    string
	RunID    string
	Output   map[string]interface{}
	Err      error
	Started  time.Time
	Duration time.Duration
}

// Entry describes a scheduled job.
type Entry struct {
	ID   string
	Spec string
	Pipe string
	Next time.Time
	Prev time.Time
}

// Config holds scheduler configuration.
type Config struct {
	// Name labels metrics and logs. Defaults to "default".
	Name string

	// Location evaluates cron expressions. Defaults to time.Local.
	Location *time.Location

	// WorkerPool, when set, runs jobs. It must not be a pool the scheduled
	// pipes' stages also dispatch to.
	WorkerPool *workerpool.Pool

	// SkipIfStillRunning skips a tick while the previous run of the same job
	// is still in progress.
	SkipIfStillRunning bool

	Metrics *metrics.Registry
	Logger  logging.Logger

	// OnReport is called after every run.
	OnReport func(Report)
}

type entry struct {
	job    Job
	cronID cron.EntryID
}

// Scheduler triggers pipe runs from cron expressions.
type Scheduler struct {
	config Config
	cron   *cron.Cron
	parser cron.Parser
	logger logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	jobs    map[string]*entry
	running bool
}

// New creates a scheduler. It does nothing until Start is called.
func New(cfg Config) *Scheduler {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	logger := logging.OrNop(cfg.Logger).WithFields(logging.F("scheduler", cfg.Name))

	wrappers := []cron.JobWrapper{cron.Recover(cronLogger{logger})}
	if cfg.SkipIfStillRunning {
		wrappers = append(wrappers, cron.SkipIfStillRunning(cronLogger{logger}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		config: cfg,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cronLogger{logger}),
			cron.WithChain(wrappers...),
		),
		parser: cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*entry),
	}
}

// Add schedules job.
func (s *Scheduler) Add(job Job) error {
	if err := validation.ValidateNotEmpty("scheduler", "id", job.ID); err != nil {
		return err
	}
	if job.Pipe == nil {
		return gferrors.NewValidationError("scheduler", "pipe", nil, "cannot be nil").
			WithHint("job " + job.ID)
	}
	if err := validation.ValidateNonNegativeDuration("scheduler", "timeout", job.Timeout); err != nil {
		return err
	}
	if _, err := s.parser.Parse(job.Spec); err != nil {
		return gferrors.NewValidationError("scheduler", "spec", job.Spec, err.Error()).
			WithHint("use six fields starting with seconds, or a descriptor like @every 1m")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return gferrors.NewValidationError("scheduler", "id", job.ID, "job already scheduled").
			WithHint("remove the existing job first")
	}

	e := &entry{job: job}
	id, err := s.cron.AddFunc(job.Spec, func() { s.trigger(e) })
	if err != nil {
		return gferrors.NewValidationError("scheduler", "spec", job.Spec, err.Error())
	}
	e.cronID = id
	s.jobs[job.ID] = e

	if s.config.Metrics != nil {
		s.config.Metrics.TasksScheduled.WithLabelValues(s.config.Name).Inc()
	}
	s.logger.Debug("job scheduled", logging.F("job", job.ID), logging.F("spec", job.Spec))
	return nil
}

// Remove unschedules the job. It reports whether the job existed.
func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return false
	}
	s.cron.Remove(e.cronID)
	delete(s.jobs, id)
	return true
}

// Entries returns the scheduled jobs ordered by ID.
func (s *Scheduler) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.jobs))
	for id, e := range s.jobs {
		ce := s.cron.Entry(e.cronID)
		out = append(out, Entry{
			ID:   id,
			Spec: e.job.Spec,
			Pipe: e.job.Pipe.Name(),
			Next: ce.Next,
			Prev: ce.Prev,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RunNow runs the job immediately and waits for its report.
func (s *Scheduler) RunNow(ctx context.Context, id string) (Report, error) {
	s.mu.RLock()
	e, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return Report{}, gferrors.NewValidationError("scheduler", "id", id, "no such job")
	}

	report := s.run(ctx, e.job)
	return report, report.Err
}

// Start begins triggering jobs.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler %q already running: %w", s.config.Name, gferrors.ErrInvalidConfiguration)
	}
	if s.ctx.Err() != nil {
		return fmt.Errorf("scheduler %q was stopped: %w", s.config.Name, gferrors.ErrClosed)
	}
	s.running = true
	s.cron.Start()
	return nil
}

// Stop halts triggering. The returned channel is closed once in-flight runs
// have finished.
func (s *Scheduler) Stop() <-chan struct{} {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	stopped := make(chan struct{})
	cronDone := s.cron.Stop()
	go func() {
		defer close(stopped)
		<-cronDone.Done()
		s.cancel()
	}()
	return stopped
}

// trigger runs a job from a cron tick.
func (s *Scheduler) trigger(e *entry) {
	report := s.run(s.ctx, e.job)
	if report.Err != nil {
		s.logger.Error("scheduled run failed", report.Err,
			logging.F("job", report.JobID), logging.F("run_id", report.RunID),
			logging.F("retryable", gferrors.IsRetryable(report.Err)))
	}
}

func (s *Scheduler) run(ctx context.Context, job Job) Report {
	started := time.Now()
	report := Report{JobID: job.ID, Started: started}

	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	input := map[string]interface{}{}
	if job.Input != nil {
		input = job.Input(started)
	}

	m := s.config.Metrics
	if m != nil {
		m.TasksExecuted.WithLabelValues(s.config.Name).Inc()
	}

	execute := func(ctx context.Context) error {
		result, err := job.Pipe.Execute(ctx, input)
		if result != nil {
			report.RunID = result.RunID
			report.Output = result.Output
		}
		return err
	}

	var err error
	if s.config.WorkerPool != nil {
		err = s.config.WorkerPool.Run(ctx, workerpool.TaskFunc(execute))
	} else {
		err = execute(ctx)
	}

	report.Err = err
	report.Duration = time.Since(started)

	if m != nil {
		m.TaskExecutionDuration.WithLabelValues(s.config.Name).Observe(report.Duration.Seconds())
		if err != nil {
			m.TasksFailed.WithLabelValues(s.config.Name).Inc()
		} else {
			m.TasksCompleted.WithLabelValues(s.config.Name).Inc()
		}
	}
	if s.config.OnReport != nil {
		s.config.OnReport(report)
	}
	return report
}

// cronLogger routes cron's own logging through a Logger.
type cronLogger struct {
	l logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, pairs(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, err, pairs(keysAndValues)...)
}

func pairs(kv []interface{}) []logging.Field {
	fields := make([]logging.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logging.F(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}
