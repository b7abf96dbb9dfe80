package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

// cronLogger routes cron's own messages into our logger.
type cronLogger struct {
	log Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Infof("%s %v", msg, keysAndValues)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Errorf("%s: %v %v", msg, err, keysAndValues)
}

// Scheduler runs named jobs on six-field cron specs. A job that is still
// running when its next tick arrives is skipped, so two backup runs never
// share a minute-resolution run ID.
type Scheduler struct {
	cron   *cron.Cron
	log    Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func New(log Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddJob registers job under name. Job errors are logged; they never stop
// the scheduler.
func (s *Scheduler) AddJob(name, spec string, job func(context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.log.Infof("Starting scheduled job %s", name)
		if err := job(s.ctx); err != nil {
			s.log.Errorf("Scheduled job %s failed: %v", name, err)
			return
		}
		s.log.Infof("Scheduled job %s finished", name)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels the context handed to running jobs and waits for them.
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
}
