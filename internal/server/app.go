// Package server wires the configuration, storage, mail, archive and
// metrics into the services, and runs either the HTTP ingress or a
// scheduler job on top of them.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/entryledger/internal/dbx"
	"github.com/dmitrijs2005/entryledger/internal/logging"
	"github.com/dmitrijs2005/entryledger/internal/server/archive"
	"github.com/dmitrijs2005/entryledger/internal/server/config"
	"github.com/dmitrijs2005/entryledger/internal/server/entrystate"
	"github.com/dmitrijs2005/entryledger/internal/server/httpapi"
	"github.com/dmitrijs2005/entryledger/internal/server/mail"
	"github.com/dmitrijs2005/entryledger/internal/server/metrics"
	"github.com/dmitrijs2005/entryledger/internal/server/repositories/memory"
	"github.com/dmitrijs2005/entryledger/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/entryledger/internal/server/services"
)

// MemoryDSN selects the in-process store instead of PostgreSQL.
const MemoryDSN = "memory"

// JobDaemon runs every scheduler job on its cron spec.
const JobDaemon = "daemon"

const (
	userCacheSize = 4096
	userCacheTTL  = 15 * time.Minute
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	metrics *metrics.Collector

	entries   *services.EntryService
	ledger    *services.LedgerService
	webhook   *services.WebhookProcessor
	scheduler *services.Scheduler
	directory *services.Directory
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(os.Stdout, c.LogFormat, c.LogLevel)
	app := &App{config: c, logger: logger, metrics: metrics.NewCollector("")}

	runner, repos, err := app.openStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	sink, err := newSink(c, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("mail init error: %w", err)
	}

	var arch archive.Archiver = archive.Nop{}
	if c.S3Bucket != "" {
		arch, err = archive.NewS3Archive(ctx, archive.Settings{
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
			AccessKey:    c.S3AccessKey,
			SecretKey:    c.S3SecretKey,
			Bucket:       c.S3Bucket,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("archive init error: %w", err)
		}
	}

	deps := &services.Deps{
		Runner: runner,
		Repos:  repos,
		Machine: entrystate.New(entrystate.Policy{
			WarnAfter:     c.WarnAfter,
			WithdrawAfter: c.WithdrawAfter,
		}),
		Logger:  logger,
		Metrics: app.metrics,
	}
	app.directory = services.NewDirectory(runner, repos, userCacheSize, userCacheTTL)
	deps.Dispatcher = services.NewDispatcher(sink, app.directory, services.Addresses{
		Organizer: c.OrganizerEmail,
		Support:   c.SupportEmail,
	}, logger, app.metrics)

	app.entries = services.NewEntryService(deps, c.EntryYear)
	app.ledger = services.NewLedgerService(deps)
	app.webhook = services.NewWebhookProcessor(deps, app.ledger, c.ReceiverEmail, arch)
	app.scheduler = services.NewScheduler(deps, services.SchedulerSettings{
		EntryYear:         c.EntryYear,
		EntriesClose:      c.EntriesCloseDate.Time,
		ClosingWarnWindow: c.ClosingWarnWindow,
	})
	return app, nil
}

func (app *App) openStore(ctx context.Context) (dbx.TxRunner, repomanager.RepositoryManager, error) {
	if app.config.DatabaseDSN == MemoryDSN {
		app.logger.Warn(ctx, "using in-memory store; data is lost on exit")
		s := memory.New()
		return s, s, nil
	}

	db, err := sql.Open("pgx", app.config.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	rm := &repomanager.PostgresRepositoryManager{}
	if err := rm.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	app.db = db
	return dbx.NewSQLRunner(db), rm, nil
}

func newSink(c *config.Config, logger logging.Logger) (mail.Sink, error) {
	switch c.MailDriver {
	case "smtp":
		return mail.NewSMTPSink(mail.SMTPConfig{
			Host:          c.SMTPHost,
			Port:          c.SMTPPort,
			Username:      c.SMTPUser,
			Password:      c.SMTPPassword,
			From:          c.FromEmail,
			SubjectPrefix: c.SubjectPrefix,
			TLS:           c.SMTPTLS,
		})
	case "log", "":
		return mail.NewLogSink(logger), nil
	}
	return nil, fmt.Errorf("unknown mail driver %q", c.MailDriver)
}

// Close releases the database connection, if any.
func (app *App) Close() {
	if app.db != nil {
		_ = app.db.Close()
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := httpapi.NewServer(httpapi.Options{
		Address:   app.config.HTTPAddr,
		Logger:    app.logger,
		Entries:   app.entries,
		Ledger:    app.ledger,
		Webhook:   app.webhook,
		Metrics:   app.metrics,
		Directory: app.directory,
		JWTSecret: app.config.IngressSecret,
	})

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves the HTTP ingress until a termination signal arrives.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()
}

// RunJob runs one scheduler job, or every job on its cron spec when job is
// JobDaemon.
func (app *App) RunJob(ctx context.Context, job string) error {
	if job != JobDaemon {
		report, err := app.scheduler.Run(ctx, job)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, report.Summary)
		return nil
	}

	d, err := services.NewDaemon(app.scheduler, map[string]string{
		services.JobWithdrawUnpaidSubmitted: app.config.CronWithdrawUnpaid,
		services.JobWarnClosing:             app.config.CronWarnClosing,
		services.JobWarnWithdrawSelected:    app.config.CronWarnWithdrawSelected,
		services.JobRemindIncomplete:        app.config.CronRemindIncomplete,
	})
	if err != nil {
		return err
	}

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	app.initSignalHandler(cancelFunc)

	app.logger.Info(ctx, "Starting scheduler daemon...")
	return d.Run(ctx)
}
