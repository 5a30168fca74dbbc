package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"leadqual-orchestrator/internal/audit"
	"leadqual-orchestrator/internal/auth"
	"leadqual-orchestrator/internal/classify"
	"leadqual-orchestrator/internal/config"
	"leadqual-orchestrator/internal/gateway"
	"leadqual-orchestrator/internal/httpapi"
	"leadqual-orchestrator/internal/hubspot"
	"leadqual-orchestrator/internal/orchestrator"
	"leadqual-orchestrator/internal/vapi"
	"leadqual-orchestrator/pkg/logger"
	"leadqual-orchestrator/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown.
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Local development convenience; the file is absent in deployed envs.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	// Durable stores when Postgres is configured, in-memory otherwise.
	var (
		attempts  orchestrator.AttemptStore = orchestrator.NewMemoryAttemptStore()
		failures  orchestrator.FailureStore = orchestrator.NewMemoryFailureStore()
		auditRepo audit.Repository          = audit.NewMemoryRepo()
	)
	if cfg.UsePostgres() {
		db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		attempts = orchestrator.NewPostgresAttemptStore(db)
		failures = orchestrator.NewPostgresFailureStore(db)
		auditRepo = audit.NewPostgresRepo(db)
	} else {
		log.Warn("DB_HOST not set, using in-memory stores")
	}

	var dedup gateway.Deduper = gateway.NewMemoryDeduper(0)
	if cfg.UseRedis() {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		dedup = gateway.NewRedisDeduper(rdb, "", 0)
	} else {
		log.Warn("REDIS_HOST not set, webhook dedup is per-process")
	}

	tokens := hubspot.NewTokenManager(hubspot.TokenManagerConfig{
		ClientID:        cfg.HubSpot.ClientID,
		ClientSecret:    cfg.HubSpot.ClientSecret,
		RefreshToken:    cfg.HubSpot.RefreshToken,
		SeedAccessToken: cfg.HubSpot.AccessToken,
	})
	crm := hubspot.NewClient(hubspot.ClientConfig{
		Tokens:          tokens,
		SummaryProperty: cfg.HubSpot.SummaryProperty,
		Logger:          log,
	})
	dialer := vapi.NewClient(vapi.ClientConfig{
		APIKey:     cfg.Vapi.APIKey,
		WorkflowID: cfg.Vapi.WorkflowID,
		WebhookURL: cfg.App.BaseURL + "/webhooks/vapi",
		Logger:     log,
	})

	var classifier classify.Classifier = classify.NewRuleClassifier(cfg.Classify.QualifyTimingDays)
	if cfg.Classify.OpenAIKey != "" {
		classifier = classify.NewLLMClassifier(cfg.Classify.OpenAIKey, classify.NewRuleClassifier(cfg.Classify.QualifyTimingDays), log)
	} else {
		log.Warn("OPENAI_API_KEY not set, using rule-based classification only")
	}

	auditor := audit.NewService(auditRepo)
	orch := orchestrator.NewService(orchestrator.ServiceConfig{
		CRM:        crm,
		Dialer:     dialer,
		Classifier: classifier,
		Attempts:   attempts,
		Failures:   failures,
		Auditor:    auditor,
		Logger:     log,
		Statuses: orchestrator.StatusMap{
			OpenDeal:    cfg.HubSpot.StatusOpenDeal,
			Unqualified: cfg.HubSpot.StatusUnqualified,
			Contacted:   cfg.HubSpot.StatusContacted,
		},
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	webhooks := &gateway.Handlers{
		Orch:          orch,
		Dedup:         dedup,
		Log:           log,
		HubSpotSecret: cfg.HubSpot.WebhookSecret,
		VapiSecret:    cfg.Vapi.WebhookSecret,
		Async:         true,
	}

	registerRoutes(r, routeDeps{
		authManager: authManager,
		webhooks:    webhooks,
		ops: httpapi.Handlers{
			Auth:  authManager,
			Orch:  orch,
			Audit: auditor,
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	// Async webhook dispatches may still be talking to the CRM or the voice
	// platform; give them the remainder of the shutdown window.
	if err := webhooks.Drain(shutdownCtx); err != nil {
		log.Error("webhook drain incomplete", "err", err)
	}
}
