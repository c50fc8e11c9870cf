package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tesouraria-igreja/tesouraria/internal/app"
	"github.com/tesouraria-igreja/tesouraria/internal/audit"
	"github.com/tesouraria-igreja/tesouraria/internal/consistency"
	"github.com/tesouraria-igreja/tesouraria/internal/costcenters"
	"github.com/tesouraria-igreja/tesouraria/internal/ledger"
	"github.com/tesouraria-igreja/tesouraria/internal/masterdata"
	"github.com/tesouraria-igreja/tesouraria/internal/platform/db"
	"github.com/tesouraria-igreja/tesouraria/internal/rbac"
	"github.com/tesouraria-igreja/tesouraria/internal/recurring"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
	"github.com/tesouraria-igreja/tesouraria/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	clock := shared.NewSystemClock(cfg.AppTimezone)
	auditWriter := audit.NewWriter(shared.NewAuditLogger(pool), logger, cfg.AuditBuffer)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := auditWriter.Close(closeCtx); err != nil {
			logger.Warn("audit writer close", slog.Any("error", err))
		}
	}()

	rbacService := rbac.NewService(pool)
	costCenterService := costcenters.NewService(costcenters.NewRepository(pool), auditWriter)
	masterdataService := masterdata.NewService(masterdata.NewRepository(pool), auditWriter)
	ledgerService := ledger.NewService(ledger.NewRepository(pool), costCenterService, masterdataService, rbacService, auditWriter)
	recurringService := recurring.NewService(recurring.NewRepository(pool), ledgerService, rbacService, auditWriter, clock)
	checker := consistency.NewChecker(consistency.NewRepository(pool), clock, logger, consistency.Options{
		DuplicateWindowDays: cfg.ConsistencyDuplicateDays,
		WindowMonths:        cfg.ConsistencyWindowMonths,
	})

	scanJob := jobs.NewConsistencyScanJob(checker, logger, nil)
	recurringJob := jobs.NewRecurringGenerateJob(recurringService, logger, nil)

	recurringTask, err := jobs.NewRecurringGenerateTask(0, 0)
	if err != nil {
		logger.Error("build recurring task", slog.Any("error", err))
		os.Exit(1)
	}
	scanTask, err := jobs.NewConsistencyScanTask(0)
	if err != nil {
		logger.Error("build consistency task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: cfg.Redis().AsynqOpt(),
		Logger:    logger,
		Location:  clock.Location,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskConsistencyScan, Handler: scanJob.Handle},
			{Type: jobs.TaskRecurringGenerate, Handler: recurringJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.RecurringCron, Task: recurringTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.ConsistencyCron, Task: scanTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
