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

	"call-insights/internal/actions"
	"call-insights/internal/ai"
	"call-insights/internal/audit"
	"call-insights/internal/auth"
	"call-insights/internal/config"
	"call-insights/internal/httpapi"
	"call-insights/internal/notify"
	"call-insights/internal/pipeline"
	"call-insights/internal/reporting"
	"call-insights/internal/store"
	"call-insights/internal/telephony"
	"call-insights/pkg/logger"
	"call-insights/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const pipelineCapKey = "call-insights:pipeline:inflight"

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PoolForWorkers(cfg.Pipeline.Workers))
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := store.Migrate(rootCtx, db); err != nil {
		log.Error("schema migration failed", "err", err)
		os.Exit(1)
	}
	records := store.NewPostgres(db)

	checks := []func(ctx context.Context) error{
		func(ctx context.Context) error { return utils.HealthCheck(ctx, db, 2*time.Second) },
	}

	limiter := pipeline.NoopLimiter()
	if cfg.Redis.PipelineCap > 0 {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		checks = append(checks, func(ctx context.Context) error { return utils.PingRedis(ctx, rdb, 2*time.Second) })
		limiter = pipeline.NewRedisLimiter(rdb, pipelineCapKey, cfg.Redis.PipelineCap, cfg.Pipeline.ClaimTTL)
	}

	transcriber, analyzer, err := ai.New(cfg.OpenAI)
	if err != nil {
		log.Error("openai init failed", "err", err)
		os.Exit(1)
	}

	publisher, closeSinks, err := buildPublisher(cfg.Notify, log)
	if err != nil {
		log.Error("notify init failed", "err", err)
		os.Exit(1)
	}

	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	processor := pipeline.NewProcessor(records, pipeline.Deps{
		Downloader:  pipeline.NewHTTPDownloader(cfg.Pipeline.TempDir, cfg.Pipeline.MaxAudioSizeMB),
		Transcriber: transcriber,
		Analyzer:    analyzer,
		Publisher:   publisher,
		Auditor:     auditSvc,
		Limiter:     limiter,
	}, pipeline.RetryPolicy{
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		BaseDelay:   cfg.Pipeline.BaseDelay,
		Multiplier:  cfg.Pipeline.Multiplier,
		MaxDelay:    cfg.Pipeline.MaxDelay,
	}, pipeline.Timeouts{
		Download:   cfg.Pipeline.DownloadTimeout,
		Transcribe: cfg.Pipeline.TranscribeTimeout,
		Analyze:    cfg.Pipeline.AnalyzeTimeout,
		Notify:     cfg.Pipeline.NotifyTimeout,
	})

	pool := pipeline.NewPool(records, processor, auditSvc, pipeline.PoolConfig{
		Workers:      cfg.Pipeline.Workers,
		BatchSize:    cfg.Pipeline.BatchSize,
		PollInterval: cfg.Pipeline.PollInterval,
		ClaimTTL:     cfg.Pipeline.ClaimTTL,
	}, log)
	go pool.Run(rootCtx)

	weekStart, err := cfg.WeekStart()
	if err != nil {
		log.Error("kpi calendar init failed", "err", err)
		os.Exit(1)
	}
	kpis := reporting.NewEngine(records, reporting.NewCalendar(cfg.Location(), weekStart))

	var scheduler *reporting.Scheduler
	if cfg.KPI.Schedule != "" {
		scheduler, err = reporting.NewScheduler(kpis, cfg.KPI.Schedule, log)
		if err != nil {
			log.Error("kpi scheduler init failed", "err", err)
			os.Exit(1)
		}
		if err := scheduler.Start(rootCtx); err != nil {
			log.Error("kpi scheduler start failed", "err", err)
			os.Exit(1)
		}
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		Auth:    authManager,
		Webhook: telephony.WebhookHandler{Gate: telephony.NewGate(cfg.Webhook.Secret, records, pool)},
		API: httpapi.Handlers{
			Auth:     authManager,
			Calls:    records,
			Pipeline: pool,
			Actions:  actions.NewService(records, auditSvc),
			KPIs:     kpis,
			Audit:    auditSvc,
		},
		Health: func(ctx context.Context) error {
			for _, check := range checks {
				if err := check(ctx); err != nil {
					return err
				}
			}
			return nil
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
	if scheduler != nil {
		scheduler.Stop()
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		log.Error("pipeline shutdown incomplete", "err", err)
	}
	closeSinks()
}

// buildPublisher fans out to every configured sink. The returned func closes
// sinks that hold connections.
func buildPublisher(cfg config.NotifyConfig, log *slog.Logger) (notify.Publisher, func(), error) {
	var (
		sinks   []notify.Sink
		closers []func() error
	)
	if cfg.SlackWebhookURL != "" {
		sinks = append(sinks, notify.NewSlackSink(cfg.SlackWebhookURL, nil))
	}
	if cfg.SMTPHost != "" {
		email, err := notify.NewEmailSink(notify.EmailConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.EmailFrom,
			To:       cfg.EmailTo,
		})
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, email)
	}
	if len(cfg.KafkaBrokers) > 0 {
		k := notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		sinks = append(sinks, k)
		closers = append(closers, k.Close)
	}
	if len(sinks) == 0 {
		log.Warn("no notification sinks configured")
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Error("notify sink close failed", "err", err)
			}
		}
	}
	return notify.NewFanout(sinks...), closeAll, nil
}
