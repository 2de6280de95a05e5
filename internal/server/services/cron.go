package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/entryledger/internal/logging"
	"github.com/robfig/cron/v3"
)

// cronLogger routes the cron runtime's own messages (recovered panics,
// skipped ticks) to the structured logger.
type cronLogger struct {
	log logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Info(context.Background(), msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(context.Background(), msg, append(keysAndValues, "error", err)...)
}

// Daemon runs scheduler jobs on standard five-field cron specs. Specs
// without a CRON_TZ prefix are read in UTC.
type Daemon struct {
	sched     *Scheduler
	schedules map[string]cron.Schedule
}

// NewDaemon validates specs, keyed by job name. Jobs with an empty spec
// are not scheduled.
func NewDaemon(s *Scheduler, specs map[string]string) (*Daemon, error) {
	d := &Daemon{sched: s, schedules: map[string]cron.Schedule{}}
	for job, spec := range specs {
		if _, ok := s.jobs[job]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownJob, job)
		}
		if spec == "" {
			continue
		}
		if !strings.HasPrefix(spec, "CRON_TZ=") && !strings.HasPrefix(spec, "TZ=") {
			spec = "CRON_TZ=UTC " + spec
		}
		schedule, err := cron.ParseStandard(spec)
		if err != nil {
			return nil, fmt.Errorf("job %s: cron spec %q: %w", job, spec, err)
		}
		d.schedules[job] = schedule
	}
	return d, nil
}

// Next returns when job runs next after t, or the zero time when it is not
// scheduled.
func (d *Daemon) Next(job string, t time.Time) time.Time {
	if sc, ok := d.schedules[job]; ok {
		return sc.Next(t)
	}
	return time.Time{}
}

// Run blocks until ctx is done, then waits for running jobs to finish.
// A job still running when its next tick comes is skipped for that tick.
func (d *Daemon) Run(ctx context.Context) error {
	logger := cronLogger{log: d.sched.deps.Logger.With("module", "cron")}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	for _, job := range Jobs {
		sc, ok := d.schedules[job]
		if !ok {
			continue
		}
		job := job
		c.Schedule(sc, cron.FuncJob(func() {
			if _, err := d.sched.Run(ctx, job); err != nil {
				d.sched.deps.Logger.Error(ctx, "scheduled job failed", "job", job, "error", err)
			}
		}))
		d.sched.deps.Logger.Info(ctx, "job scheduled", "job", job, "next", sc.Next(time.Now().UTC()))
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
