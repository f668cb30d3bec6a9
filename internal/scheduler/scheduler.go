// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Job is one unit of periodic maintenance.
type Job func(ctx context.Context) error

// Scheduler runs maintenance jobs on cron specs. A run that is still going
// when its next tick fires is skipped rather than overlapped.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	tracer  trace.Tracer
	timeout time.Duration
}

// New creates a stopped scheduler. Each run gets timeout to finish.
func New(timeout time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{}))),
		ctx:     ctx,
		cancel:  cancel,
		tracer:  otel.Tracer("bibliotheca/scheduler"),
		timeout: timeout,
	}
}

// Add registers job under name. An empty spec leaves the job disabled.
func (s *Scheduler) Add(name, spec string, job Job) error {
	if spec == "" {
		log.Info().Str("job", name).Msg("job disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(spec, func() { s.Run(s.ctx, name, job) }); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	log.Info().Str("job", name).Str("spec", spec).Msg("job scheduled")
	return nil
}

// Run executes job once with the scheduler's tracing and logging.
func (s *Scheduler) Run(ctx context.Context, name string, job Job) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "scheduler."+name)
	defer span.End()

	logger := log.With().Str("job", name).Logger()
	ctx = logger.WithContext(ctx)

	start := time.Now()
	if err := job(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Dur("took", time.Since(start)).Msg("job failed")
		return
	}
	logger.Debug().Dur("took", time.Since(start)).Msg("job finished")
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	log.Debug().Fields(keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
