package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/crypto/bcrypt"

	"github.com/tesouraria-igreja/tesouraria/cmd/tesouraria/cli"
	"github.com/tesouraria-igreja/tesouraria/internal/app"
	"github.com/tesouraria-igreja/tesouraria/internal/apportionment"
	"github.com/tesouraria-igreja/tesouraria/internal/audit"
	audithttp "github.com/tesouraria-igreja/tesouraria/internal/audit/http"
	"github.com/tesouraria-igreja/tesouraria/internal/auth"
	"github.com/tesouraria-igreja/tesouraria/internal/closing"
	closinghttp "github.com/tesouraria-igreja/tesouraria/internal/closing/http"
	"github.com/tesouraria-igreja/tesouraria/internal/consistency"
	"github.com/tesouraria-igreja/tesouraria/internal/costcenters"
	"github.com/tesouraria-igreja/tesouraria/internal/ledger"
	"github.com/tesouraria-igreja/tesouraria/internal/loans"
	"github.com/tesouraria-igreja/tesouraria/internal/masterdata"
	"github.com/tesouraria-igreja/tesouraria/internal/observability"
	"github.com/tesouraria-igreja/tesouraria/internal/platform/cache"
	"github.com/tesouraria-igreja/tesouraria/internal/platform/db"
	"github.com/tesouraria-igreja/tesouraria/internal/rbac"
	"github.com/tesouraria-igreja/tesouraria/internal/recurring"
	"github.com/tesouraria-igreja/tesouraria/internal/reports"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
	"github.com/tesouraria-igreja/tesouraria/internal/users"
	"github.com/tesouraria-igreja/tesouraria/internal/ushers"
	"github.com/tesouraria-igreja/tesouraria/internal/view"
	"github.com/tesouraria-igreja/tesouraria/jobs"
	"github.com/tesouraria-igreja/tesouraria/report"
)

const usage = `uso:
  tesouraria                               inicia o servidor HTTP
  tesouraria jobs trigger <tarefa> [AAAA-MM] enfileira consistency:scan ou recurring:generate
  tesouraria jobs stats                    mostra a fila padrão
  tesouraria hash-password                 lê uma senha da entrada padrão e imprime o hash bcrypt`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	args := os.Args[1:]
	if len(args) > 0 && args[0] != "serve" {
		if err := runCommand(args); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()
	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	clock := shared.NewSystemClock(cfg.AppTimezone)
	loc := clock.Location
	metrics := observability.NewMetrics()

	auditWriter := audit.NewWriter(shared.NewAuditLogger(pool), logger, cfg.AuditBuffer).OnDrop(metrics.AuditDropped)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := auditWriter.Close(closeCtx); err != nil {
			logger.Warn("audit writer close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "tesouraria_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	templates, err := view.NewEngine()
	if err != nil {
		return fmt.Errorf("parse templates: %w", err)
	}

	rbacService := rbac.NewService(pool)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	costCenterService := costcenters.NewService(costcenters.NewRepository(pool), auditWriter)
	masterdataService := masterdata.NewService(masterdata.NewRepository(pool), auditWriter)
	ledgerService := ledger.NewService(ledger.NewRepository(pool), costCenterService, masterdataService, rbacService, auditWriter)
	ruleService := apportionment.NewService(apportionment.NewRepository(pool), auditWriter, cfg.ApportionmentOptions())
	closingService := closing.NewService(closing.NewRepository(pool), rbacService, auditWriter, clock, closing.Options{
		AllowEmpty:    cfg.ClosingAllowEmpty,
		Apportionment: cfg.ApportionmentOptions(),
	})
	checker := consistency.NewChecker(consistency.NewRepository(pool), clock, logger, consistency.Options{
		DuplicateWindowDays: cfg.ConsistencyDuplicateDays,
		WindowMonths:        cfg.ConsistencyWindowMonths,
	})
	recurringService := recurring.NewService(recurring.NewRepository(pool), ledgerService, rbacService, auditWriter, clock)
	loanService := loans.NewService(loans.NewRepository(pool), ledgerService, rbacService, auditWriter, clock)
	usherService := ushers.NewService(ushers.NewRepository(pool), rbacService, auditWriter, clock)
	userRepo := users.NewRepository(pool)
	userService := users.NewService(userRepo, costCenterService, rbacService, auditWriter)
	authService := auth.NewService(userRepo, auditWriter, clock, logger)

	pdfClient := report.NewClient(cfg.GotenbergURL, cfg.GotenbergTimeout)
	pdfRenderer, err := reports.NewPDFRenderer(pdfClient)
	if err != nil {
		return fmt.Errorf("parse report templates: %w", err)
	}
	reportService := reports.NewService(closingService, ledgerService, costCenterService,
		app.MeterRenderer(pdfRenderer, metrics), clock, logger)

	queueOpts := cfg.Redis().AsynqOpt()
	jobClient, err := jobs.NewClient(queueOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(queueOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Templates:      templates,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		RBACMiddleware: rbacMiddleware,
		Metrics:        metrics,
		Clock:          clock,

		AuthHandler:          auth.NewHandler(logger, authService, templates, csrfManager, auditWriter),
		ClosingHandler:       closinghttp.NewHandler(logger, closingService, costCenterService, templates, csrfManager, rbacMiddleware, loc),
		LedgerHandler:        ledger.NewHandler(logger, ledgerService, costCenterService, masterdataService, templates, csrfManager, rbacMiddleware, loc),
		CostCenterHandler:    costcenters.NewHandler(logger, costCenterService, rbacMiddleware),
		ApportionmentHandler: apportionment.NewHandler(logger, ruleService, rbacMiddleware),
		ConsistencyHandler:   consistency.NewHandler(logger, checker, jobClient, templates, csrfManager, rbacMiddleware),
		ReportHandler: reports.NewHandler(reports.HandlerDeps{
			Logger:      logger,
			Service:     reportService,
			CostCenters: costCenterService,
			Access:      rbacService,
			Pinger:      pdfClient,
			Templates:   templates,
			CSRF:        csrfManager,
			RBAC:        rbacMiddleware,
			Clock:       clock,
		}),
		AuditHandler:      audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(pool)), templates, csrfManager, rbacMiddleware, clock),
		MasterDataHandler: masterdata.NewHandler(logger, masterdataService, rbacMiddleware),
		RecurringHandler:  recurring.NewHandler(logger, recurringService, rbacMiddleware, loc),
		LoanHandler:       loans.NewHandler(logger, loanService, rbacMiddleware, loc),
		UsherHandler:      ushers.NewHandler(logger, usherService, rbacMiddleware, loc),
		UsersHandler:      users.NewHandler(logger, userService, rbacMiddleware),
		AccessHandler:     rbac.NewAccessHandler(rbacMiddleware),
		JobHandler:        jobs.NewHandler(inspector, logger),

		Entries:  ledgerService,
		Closings: closingService,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("timezone", loc.String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runCommand(args []string) error {
	switch args[0] {
	case "jobs":
		return runJobs(args[1:])
	case "hash-password":
		return hashPassword()
	default:
		return errors.New(usage)
	}
}

func runJobs(args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	jobsCLI := cli.NewJobsCLI(cfg.Redis().AsynqOpt())
	defer jobsCLI.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New(usage)
		}
		month := ""
		if len(args) > 2 {
			month = args[2]
		}
		info, err := jobsCLI.Trigger(ctx, args[1], month)
		if err != nil {
			return err
		}
		fmt.Printf("tarefa %s enfileirada (id %s)\n", info.Type, info.ID)
		return nil
	case "stats":
		stats, err := jobsCLI.InspectQueue()
		if err != nil {
			return err
		}
		fmt.Printf("fila %s: pendentes=%d ativas=%d agendadas=%d novas tentativas=%d falhas hoje=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Failed)
		return nil
	default:
		return errors.New(usage)
	}
}

func hashPassword() error {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return err
	}
	password := strings.TrimRight(line, "\r\n")
	if err := users.ValidatePassword(password); err != nil {
		return err
	}
	hash, err := users.HashPassword(password, bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
