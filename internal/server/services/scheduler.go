package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/entryledger/internal/dbx"
	"github.com/dmitrijs2005/entryledger/internal/server/entrystate"
	"github.com/dmitrijs2005/entryledger/internal/server/mail"
	"github.com/dmitrijs2005/entryledger/internal/server/models"
)

// Scheduler job names.
const (
	JobWithdrawUnpaidSubmitted = "withdraw-unpaid-submitted"
	JobWarnClosing             = "warn-closing"
	JobWarnWithdrawSelected    = "warn-withdraw-selected"
	JobRemindIncomplete        = "remind-incomplete"
)

// Jobs lists every job in the order the daemon registers them.
var Jobs = []string{JobWithdrawUnpaidSubmitted, JobWarnClosing, JobWarnWithdrawSelected, JobRemindIncomplete}

var ErrUnknownJob = errors.New("unknown scheduler job")

type SchedulerSettings struct {
	EntryYear string
	// EntriesClose is the moment entries close; zero means not set.
	EntriesClose time.Time
	// ClosingWarnWindow is how long before EntriesClose the closing
	// warning goes out.
	ClosingWarnWindow time.Duration
}

// RunReport is the result of one job run.
type RunReport struct {
	Job      string
	RunAt    time.Time
	Affected []string
	Failed   int
	Summary  string
}

type jobSpec struct {
	statuses []models.Status
	// triggers are tried in order; the first one that changes the entry wins.
	triggers []entrystate.Trigger
	// idle returns a reason when the job has nothing to do at now.
	idle func(now time.Time) string
}

type Scheduler struct {
	deps     *Deps
	settings SchedulerSettings
	jobs     map[string]jobSpec
}

func NewScheduler(deps *Deps, settings SchedulerSettings) *Scheduler {
	s := &Scheduler{deps: deps, settings: settings}
	s.jobs = map[string]jobSpec{
		JobWithdrawUnpaidSubmitted: {
			statuses: []models.Status{models.StatusSubmitted},
			triggers: []entrystate.Trigger{entrystate.AutoWithdrawUnpaid},
			idle: func(now time.Time) string {
				if settings.EntriesClose.IsZero() {
					return "entries close date not set"
				}
				if now.Before(settings.EntriesClose) {
					return "entries still open"
				}
				return ""
			},
		},
		JobWarnClosing: {
			statuses: []models.Status{models.StatusInProgress, models.StatusSubmitted},
			triggers: []entrystate.Trigger{entrystate.WarnClosing},
			idle: func(now time.Time) string {
				if settings.EntriesClose.IsZero() {
					return "entries close date not set"
				}
				if !now.Before(settings.EntriesClose) {
					return "entries already closed"
				}
				if now.Before(settings.EntriesClose.Add(-settings.ClosingWarnWindow)) {
					return "too early for closing warnings"
				}
				return ""
			},
		},
		JobWarnWithdrawSelected: {
			statuses: []models.Status{models.StatusSelected, models.StatusSelectedConfirmed},
			triggers: []entrystate.Trigger{entrystate.AutoWithdrawSelected, entrystate.WarnSelected},
		},
		JobRemindIncomplete: {
			statuses: []models.Status{models.StatusSelectedConfirmed},
			triggers: []entrystate.Trigger{entrystate.RemindIncomplete},
		},
	}
	return s
}

// Run executes one job over a snapshot of the candidate entries taken at
// the start of the run. Each entry is handled in its own transaction and a
// failure on one entry does not stop the others. The returned error is
// only set for failures of the run as a whole.
func (s *Scheduler) Run(ctx context.Context, job string) (*RunReport, error) {
	spec, ok := s.jobs[job]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}

	now := s.deps.now()
	report := &RunReport{Job: job, RunAt: now}
	log := s.deps.Logger.With("job", job)

	if spec.idle != nil {
		if reason := spec.idle(now); reason != "" {
			report.Summary = fmt.Sprintf("%s: %s; no action required", job, reason)
			return report, s.finish(ctx, report)
		}
	}

	snapshot, err := s.deps.Repos.Entries(s.deps.Runner.Conn()).ListActive(ctx, s.settings.EntryYear, spec.statuses...)
	if err != nil {
		err = fmt.Errorf("%s: snapshot: %w", job, err)
		s.deps.Metrics.ObserveSchedulerRun(job, 0, err)
		log.Error(ctx, "scheduler run failed", "error", err)
		return nil, err
	}

	for _, candidate := range snapshot {
		if !s.due(*candidate, spec, now) {
			continue
		}
		out, err := s.runOne(ctx, candidate.ID, spec, now)
		if err != nil {
			report.Failed++
			log.Error(ctx, "scheduler entry failed", "entry_id", candidate.ID, "error", err)
			continue
		}
		if !out.Changed {
			continue
		}
		report.Affected = append(report.Affected, out.Entry.String())
		_ = s.deps.Dispatcher.Dispatch(ctx, out.Entry, out.Emails())
	}

	if len(report.Affected) == 0 {
		report.Summary = fmt.Sprintf("%s: no action required", job)
	} else {
		report.Summary = fmt.Sprintf("%s: %d entries affected: %s", job, len(report.Affected), strings.Join(report.Affected, ", "))
		_ = s.deps.Dispatcher.Staff(ctx, mail.TemplateSchedulerSummary, map[string]any{
			"job":     job,
			"run_at":  now.Format(time.RFC3339),
			"entries": report.Affected,
		})
	}
	if report.Failed > 0 {
		report.Summary += fmt.Sprintf(" (%d failed)", report.Failed)
	}
	return report, s.finish(ctx, report)
}

// due runs the job's triggers against the snapshot copy without touching
// storage, so entries with nothing to do are not locked.
func (s *Scheduler) due(e models.Entry, spec jobSpec, now time.Time) bool {
	for _, tr := range spec.triggers {
		out, err := s.deps.Machine.Apply(e, entrystate.Event{Trigger: tr, Now: now})
		if err == nil && out.Changed {
			return true
		}
	}
	return false
}

func (s *Scheduler) runOne(ctx context.Context, entryID int64, spec jobSpec, now time.Time) (entrystate.Outcome, error) {
	var out entrystate.Outcome
	err := s.deps.Runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		entry, err := s.deps.Repos.Entries(tx).GetByIDForUpdate(ctx, entryID)
		if err != nil {
			return fmt.Errorf("lock entry %d: %w", entryID, err)
		}
		for _, tr := range spec.triggers {
			out, err = s.deps.persist(ctx, tx, *entry, entrystate.Event{Trigger: tr, Now: now})
			if err != nil || out.Changed {
				return err
			}
		}
		return nil
	})
	return out, err
}

// finish writes the run's audit line, logs it and records metrics.
func (s *Scheduler) finish(ctx context.Context, report *RunReport) error {
	err := s.deps.Runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.deps.Repos.ActivityLog(tx).Append(ctx, report.RunAt, report.Summary)
	})
	if err != nil {
		err = fmt.Errorf("%s: audit: %w", report.Job, err)
	}
	s.deps.Metrics.ObserveSchedulerRun(report.Job, len(report.Affected), err)
	s.deps.Logger.Info(ctx, "scheduler run finished",
		"job", report.Job,
		"affected", len(report.Affected),
		"failed", report.Failed,
		"summary", report.Summary,
	)
	return err
}
