package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/lumenspa/receptionist/internal/api/router"
	"github.com/lumenspa/receptionist/internal/booking"
	"github.com/lumenspa/receptionist/internal/calendar"
	appconfig "github.com/lumenspa/receptionist/internal/config"
	"github.com/lumenspa/receptionist/internal/http/handlers"
	"github.com/lumenspa/receptionist/internal/llm"
	"github.com/lumenspa/receptionist/internal/locks"
	"github.com/lumenspa/receptionist/internal/messaging"
	"github.com/lumenspa/receptionist/internal/observability/metrics"
	"github.com/lumenspa/receptionist/internal/scoring"
	"github.com/lumenspa/receptionist/internal/slots"
	"github.com/lumenspa/receptionist/internal/store"
	"github.com/lumenspa/receptionist/internal/timeutil"
	"github.com/lumenspa/receptionist/internal/turn"
	"github.com/lumenspa/receptionist/internal/voice"
	"github.com/lumenspa/receptionist/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting receptionist API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zone, err := timeutil.NewZone(cfg.SpaTimezone)
	if err != nil {
		logger.Error("invalid spa timezone", "timezone", cfg.SpaTimezone, "error", err)
		os.Exit(1)
	}

	// Storage: Postgres when configured, in-memory for local development.
	var st store.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("database connection failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		st = store.NewPostgres(pool)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		st = store.NewMemory()
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, webhook dedup disabled", "addr", cfg.RedisAddr, "error", err)
			rdb = nil
		}
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	hours := calendar.ParseHours(cfg.BusinessHoursOpen, cfg.BusinessHoursClose, cfg.SlotStepMinutes)
	cal, err := calendar.NewGoogleCalendar(ctx, cfg.GoogleCalendarID, cfg.GoogleCredentialsFile, cfg.GoogleCredentialsJSON,
		calendar.WithHours(hours),
		calendar.WithLogger(logger),
	)
	if err != nil {
		logger.Error("calendar init failed", "calendar_id", cfg.GoogleCalendarID, "error", err)
		os.Exit(1)
	}

	client := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL,
		llm.WithModel(cfg.OpenAIModel),
		llm.WithTimeout(cfg.LLMTimeout),
		llm.WithMaxAttempts(cfg.LLMMaxAttempts),
		llm.WithOpenAILogger(logger),
		llm.WithMetrics(m),
	)

	engine := slots.NewEngine(zone, cfg.OfferTTL, logger)
	tools := booking.NewTools(cal, zone, logger)
	bookingOrch := booking.NewOrchestrator(tools, engine, st, zone, logger, m)
	turnOrch := turn.NewOrchestrator(st, client, bookingOrch, zone, cfg.SpaName, logger, m)
	scorer := scoring.NewScorer(client, st, logger)

	bridge := voice.NewBridge(voice.Config{
		RealtimeURL:  cfg.OpenAIRealtimeURL,
		Model:        cfg.OpenAIRealtimeModel,
		APIKey:       cfg.OpenAIAPIKey,
		SpaName:      cfg.SpaName,
		Greeting:     cfg.VoiceGreeting,
		VADThreshold: cfg.VoiceVADThreshold,
		GraceWindow:  cfg.VoiceGraceWindow,
	}, st, bookingOrch, scorer, zone, logger, m)

	smsSender := messaging.BuildSMSSender(cfg, logger)
	emailSender := messaging.BuildEmailSender(ctx, cfg, logger)

	h := handlers.New(handlers.Deps{
		Store:  st,
		Turn:   turnOrch,
		Bridge: bridge,
		SMS:    smsSender,
		Email:  emailSender,
		Locks:  locks.NewKeyed(),
		Dedup:  locks.NewDeduper(rdb, locks.DefaultDedupTTL, logger),
		Zone:   zone,
		Logger: logger,

		SMSFromNumber:       cfg.SMSFromNumber,
		SMSReplyViaProvider: cfg.SMSReplyViaProvider,
		SpaName:             cfg.SpaName,
	})

	completer := turn.NewIdleCompleter(st, scorer, zone, cfg.IdleCompletionAfter, cfg.IdleSweepInterval, logger, m)
	go completer.Run(ctx)

	r := router.New(&router.Config{
		Logger:         logger,
		Handlers:       h,
		MetricsHandler: promhttp.Handler(),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
	logger.Info("stopped")
}
