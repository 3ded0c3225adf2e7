package cron

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/goliatone/go-dunning"
	"github.com/goliatone/go-dunning/runner"
)

// Logger is the subset of dunning.Logger the scheduler writes to.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// JobConfig describes how a scheduled job runs.
type JobConfig struct {
	Expression string
	// Timeout bounds a single run. Zero means no timeout.
	Timeout    time.Duration
	Deadline   time.Time
	MaxRetries int
}

// Scheduler runs jobs on cron expressions or once at a point in time.
type Scheduler struct {
	mu           sync.Mutex
	cron         *rcron.Cron
	location     *time.Location
	errorHandler func(error)

	logger    Logger
	parser    Parser
	logWriter io.Writer
	logLevel  LogLevel
	noOverlap bool

	ctx    context.Context
	cancel context.CancelFunc

	nextHandleID int64
	handles      map[int64]*jobHandle
}

// NewScheduler creates a new scheduler instance with the provided options.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		location: time.UTC,
		parser:   DefaultParser,
		logLevel: LogLevelError,
		errorHandler: func(err error) {
			log.Printf("error: %v\n", err)
		},
		handles: make(map[int64]*jobHandle),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = rcron.New(s.build()...)
	return s
}

func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// ScheduleCron schedules a recurring handler by cron expression. Handlers
// are func(), func() error or func(context.Context) error.
func (s *Scheduler) ScheduleCron(cfg JobConfig, handler any) (Handle, error) {
	if cfg.Expression == "" {
		return nil, fmt.Errorf("cron expression cannot be empty")
	}
	run, err := s.buildRunnable(cfg, handler)
	if err != nil {
		return nil, err
	}

	handle := s.newHandle()
	job := rcron.FuncJob(func() {
		if !handle.begin(time.Now()) {
			return
		}
		handle.finish(run(s.runContext()))
	})

	entryID, err := s.cron.AddJob(cfg.Expression, job)
	if err != nil {
		return nil, fmt.Errorf("failed to add job: %w", err)
	}
	handle.entryID = int(entryID)
	s.storeHandle(handle)
	return handle, nil
}

// ScheduleAfter schedules one execution after delay.
func (s *Scheduler) ScheduleAfter(delay time.Duration, cfg JobConfig, handler any) (Handle, error) {
	if delay < 0 {
		delay = 0
	}
	return s.ScheduleAt(time.Now().Add(delay), cfg, handler)
}

// ScheduleAt schedules one execution at a specific time.
func (s *Scheduler) ScheduleAt(at time.Time, cfg JobConfig, handler any) (Handle, error) {
	run, err := s.buildRunnable(cfg, handler)
	if err != nil {
		return nil, err
	}

	handle := s.newHandle()
	s.storeHandle(handle)

	go func() {
		wait := time.Until(at)
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-handle.Done():
			return
		}

		if !handle.begin(time.Now()) {
			return
		}
		err := run(s.runContext())
		s.removeStoredHandle(handle.id)
		if err != nil {
			handle.terminate(ScheduleStatusFailed, err)
			return
		}
		handle.terminate(ScheduleStatusCompleted, nil)
	}()

	return handle, nil
}

// Entries returns the number of registered cron entries.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Start begins executing scheduled cron jobs. Jobs receive a context that
// is canceled when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				s.cancel()
			case <-s.ctx.Done():
			}
		}()
	}
	s.cron.Start()
	return nil
}

// Stop stops the scheduler, waits for running jobs up to ctx and marks
// active handles as stopped.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	s.cancel()

	if ctx != nil {
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
	}

	var handles []*jobHandle
	s.mu.Lock()
	for _, handle := range s.handles {
		handles = append(handles, handle)
	}
	s.handles = make(map[int64]*jobHandle)
	s.mu.Unlock()

	for _, handle := range handles {
		if handle == nil {
			continue
		}
		if handle.entryID > 0 {
			s.cron.Remove(rcron.EntryID(handle.entryID))
		}
		if handle.Status().Terminal() {
			continue
		}
		handle.terminate(ScheduleStatusStopped, nil)
	}
	return nil
}

func (s *Scheduler) runContext() context.Context {
	return s.ctx
}

func (s *Scheduler) removeHandle(id int64) {
	handle := s.removeStoredHandle(id)
	if handle == nil {
		return
	}
	if handle.entryID > 0 {
		s.cron.Remove(rcron.EntryID(handle.entryID))
	}
}

func (s *Scheduler) removeStoredHandle(id int64) *jobHandle {
	if s == nil || id == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	handle := s.handles[id]
	delete(s.handles, id)
	return handle
}

func (s *Scheduler) storeHandle(handle *jobHandle) {
	if s == nil || handle == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handles == nil {
		s.handles = make(map[int64]*jobHandle)
	}
	s.handles[handle.id] = handle
}

func (s *Scheduler) newHandle() *jobHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHandleID++
	return &jobHandle{
		scheduler: s,
		id:        s.nextHandleID,
		status:    ScheduleStatusScheduled,
		done:      make(chan struct{}),
	}
}

// buildRunnable wraps handler in a runner.Handler so every run gets the
// job's timeout, retries and panic recovery.
func (s *Scheduler) buildRunnable(cfg JobConfig, handler any) (func(context.Context) error, error) {
	var fn func(context.Context) error
	switch h := handler.(type) {
	case func():
		fn = func(context.Context) error {
			h()
			return nil
		}
	case func() error:
		fn = func(context.Context) error { return h() }
	case func(context.Context) error:
		fn = h
	default:
		return nil, fmt.Errorf("unsupported handler type: %T", handler)
	}

	r := runner.NewHandler(makeRunnerOptions(s, cfg)...)
	return func(ctx context.Context) error {
		return r.Run(ctx, fn)
	}, nil
}

func makeRunnerOptions(s *Scheduler, cfg JobConfig) []runner.Option {
	opts := []runner.Option{
		runner.WithMaxRetries(cfg.MaxRetries),
		runner.WithDeadline(cfg.Deadline),
		runner.WithErrorHandler(s.errorHandler),
	}
	if l, ok := s.logger.(dunning.Logger); ok {
		opts = append(opts, runner.WithLogger(l))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, runner.WithTimeout(cfg.Timeout))
	}
	return opts
}

func makeLogger(out io.Writer, level LogLevel) rcron.Logger {
	stdLogger := log.New(out, "cron: ", log.LstdFlags)
	cronLogger := rcron.PrintfLogger(stdLogger)
	if level >= LogLevelDebug {
		cronLogger = rcron.VerbosePrintfLogger(stdLogger)
	}
	return cronLogger
}

// build converts scheduler options to rcron options.
func (s *Scheduler) build() []rcron.Option {
	opts := make([]rcron.Option, 0)

	if s.location != nil {
		opts = append(opts, rcron.WithLocation(s.location))
	}

	switch s.parser {
	case StandardParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	case SecondsParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Second|rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	}

	var cronLogger rcron.Logger
	switch {
	case s.logger != nil:
		cronLogger = &loggerAdapter{logger: s.logger, level: s.logLevel}
	case s.logWriter != nil:
		cronLogger = makeLogger(s.logWriter, s.logLevel)
	default:
		if s.logLevel > LogLevelSilent {
			cronLogger = makeLogger(os.Stdout, s.logLevel)
		}
	}

	var wrappers []rcron.JobWrapper
	if s.errorHandler != nil {
		wrappers = append(wrappers, rcron.Recover(&errorHandlerAdapter{handler: s.errorHandler}))
	}
	if s.noOverlap {
		skipLogger := cronLogger
		if skipLogger == nil {
			skipLogger = rcron.DiscardLogger
		}
		wrappers = append(wrappers, rcron.SkipIfStillRunning(skipLogger))
	}
	if len(wrappers) > 0 {
		opts = append(opts, rcron.WithChain(wrappers...))
	}

	if cronLogger != nil {
		opts = append(opts, rcron.WithLogger(cronLogger))
	}

	return opts
}
