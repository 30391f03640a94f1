// Command server runs the enforcement gateway: it accepts scoring
// snapshots, governs them through the proposal pipeline, and exposes the
// review and audit control surface. Postgres, Redis, and Kafka are all
// optional; without them the process runs on in-memory stores with a
// dry-run executor, which is the local development mode.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aegis/internal/audit"
	auditmem "aegis/internal/audit/store/memory"
	auditpg "aegis/internal/audit/store/postgres"
	approvalflow "aegis/internal/enforcement/approval"
	"aegis/internal/enforcement/cooldown"
	"aegis/internal/enforcement/dispatch"
	"aegis/internal/enforcement/executor"
	"aegis/internal/enforcement/handler"
	"aegis/internal/enforcement/incident"
	"aegis/internal/enforcement/metrics"
	"aegis/internal/enforcement/outcome"
	"aegis/internal/enforcement/policy"
	"aegis/internal/enforcement/proposal"
	"aegis/internal/enforcement/recovery"
	"aegis/internal/enforcement/safemode"
	"aegis/internal/enforcement/service"
	"aegis/internal/enforcement/threat"
	"aegis/internal/platform/config"
	"aegis/internal/platform/httpserver"
	"aegis/internal/platform/kafka"
	"aegis/internal/platform/logger"
	"aegis/internal/platform/middleware"
	"aegis/internal/platform/postgres"
	platformredis "aegis/internal/platform/redis"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage: Postgres when configured, process memory otherwise.
	var (
		proposalStore proposal.Store
		auditStore    audit.Store
	)
	if cfg.PostgresDSN != "" {
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if _, err := pool.Exec(ctx, proposal.Schema); err != nil {
			log.Error("proposal schema apply failed", "error", err)
			os.Exit(1)
		}
		proposalStore = proposal.NewPostgresStore(pool)

		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Error("audit db open failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if _, err := db.ExecContext(ctx, auditpg.Schema); err != nil {
			log.Error("audit schema apply failed", "error", err)
			os.Exit(1)
		}
		auditStore = auditpg.New(db)
	} else {
		log.Warn("no postgres configured, proposals and audit are in-memory")
		proposalStore = proposal.NewMemoryStore(proposal.WithDedupCleanup(cfg.DedupIndexCleanup))
		auditStore = auditmem.New()
	}

	// Redis backs the safe mode switch and shared cooldowns across
	// replicas; without it both degrade to single-process state.
	rdb, err := platformredis.New(config.RedisFromEnv())
	if err != nil {
		log.Error("redis connect failed", "error", err)
		os.Exit(1)
	}
	var safe *safemode.State
	cooldownStore := cooldown.Store(cooldown.NewMemoryStore())
	if rdb != nil {
		defer rdb.Close()
		safe = safemode.New(rdb.Client, log)
		cooldownStore = cooldown.NewRedisStore(rdb.Client)
	} else {
		log.Warn("no redis configured, safe mode and cooldowns are local to this replica")
		safe = safemode.New(nil, log)
	}
	if err := safe.Init(ctx); err != nil {
		log.Error("safe mode init failed", "error", err)
		os.Exit(1)
	}
	go safe.Listen(ctx)

	cooldowns := cooldown.NewManager(cooldownStore, cooldown.Windows{
		Session: cfg.CooldownSession,
		User:    cfg.CooldownUser,
		Tenant:  cfg.CooldownTenant,
	}, cooldown.WithThreshold(cfg.EscalationThreshold))

	// Kafka carries three streams: enforcement commands out to the
	// action workers, ML feedback, and the audit mirror.
	broker, err := kafka.New(cfg.KafkaBrokers)
	if err != nil {
		log.Error("kafka connect failed", "error", err)
		os.Exit(1)
	}
	var exec executor.ActionExecutor
	resilientCfg := executor.DefaultResilientConfig()
	resilientCfg.Timeout = cfg.ExecutionTimeout
	ledgerOpts := []audit.Option{}
	var feedbackPub outcome.Publisher
	if broker != nil {
		defer broker.Close()
		if err := broker.EnsureTopics(ctx, cfg.ActionTopic, cfg.FeedbackTopic, cfg.AuditMirrorTopic); err != nil {
			log.Error("kafka topic setup failed", "error", err)
			os.Exit(1)
		}
		exec = executor.NewResilient(executor.NewKafka(broker, cfg.ActionTopic), resilientCfg, log)
		feedbackPub = broker

		mirrorCh := make(chan audit.Entry, 256)
		ledgerOpts = append(ledgerOpts, audit.WithMirror(mirrorCh))
		mirror := audit.NewMirrorWorker(mirrorCh, broker, cfg.AuditMirrorTopic, log)
		go func() {
			if err := mirror.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("audit mirror stopped", "error", err)
			}
		}()
	} else {
		log.Warn("no kafka configured, executor runs dry and feedback is discarded")
		exec = executor.NewResilient(executor.NewDryRun(log), resilientCfg, log)
	}

	ledger := audit.NewLedger(auditStore, log, ledgerOpts...)
	emitter := outcome.NewEmitter(feedbackPub, cfg.FeedbackTopic, cfg.FeedbackBufferSize, log)
	go emitter.Run(ctx)

	pool := dispatch.New(cfg.DispatcherWorkers, log)
	matrix := policy.NewMatrix()

	svc := service.New(service.Config{
		DedupWindow:      cfg.DedupWindow,
		ProposalTTL:      cfg.ProposalTTL,
		ExecutionTimeout: cfg.ExecutionTimeout,
		LedgerTimeout:    cfg.LedgerTimeout,
	}, service.Deps{
		Policies:  policy.NewEngine(),
		Override:  policy.NewOverride(),
		Matrix:    matrix,
		Analyzer:  threat.NewAnalyzer(threat.NewCalculator()),
		Guard:     threat.NewGuard(),
		Proposals: proposalStore,
		Cooldowns: cooldowns,
		SafeMode:  safe,
		Incidents: incident.NewGrouper(cfg.IncidentWindow),
		Workflow:  approvalflow.NewWorkflow(proposalStore, matrix, safe, log),
		Executor:  exec,
		Ledger:    ledger,
		Emitter:   emitter,
		Planner:   recovery.NewPlanner(),
		Rollback:  recovery.NewRollbackPolicy(0),
		Pool:      pool,
		Logger:    log,
		Metrics:   metrics.New(),
	})
	go svc.RunSweeper(ctx, time.Minute)

	validator := middleware.NewTokenValidator(cfg.JWTSigningKey)
	scoringKey := middleware.NewServiceKey(cfg.ScoringKeyHash, "scoring-engine")
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.ClientMetadata)
	router.Use(middleware.RequestTime)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RequireAuth(validator, scoringKey, log))
		handler.New(svc, log, cfg.ContextTTL).Register(r)
	})

	srv := httpserver.New(cfg.Addr, router)
	go func() {
		log.Info("enforcement gateway listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		log.Error("dispatcher drain failed", "error", err)
	}
	if pending := emitter.Pending(); pending > 0 {
		log.Warn("feedback records still queued at shutdown", "count", pending)
	}
}
