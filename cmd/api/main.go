package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"canvas/api/internal/app"
	"canvas/api/internal/auth"
	"canvas/api/internal/authpw"
	"canvas/api/internal/completion"
	"canvas/api/internal/config"
	"canvas/api/internal/email"
	"canvas/api/internal/history"
	"canvas/api/internal/lockout"
	"canvas/api/internal/logging"
	"canvas/api/internal/media"
	"canvas/api/internal/metrics"
	"canvas/api/internal/search"
	"canvas/api/internal/secretbox"
	"canvas/api/internal/store"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogPretty)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	ctx := context.Background()
	clock := clockwork.NewRealClock()
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	var (
		dataStore store.Store
		fallback  search.Searcher
	)
	if cfg.MemoryStore() {
		log.Warn().Msg("using in-memory store; data is lost on restart")
		mem := store.NewMemoryStore()
		dataStore = mem
		fallback = search.NewScan(mem)
	} else {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}
		defer db.Close()
		if err := store.Migrate(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("migrations failed")
		}
		dataStore = store.NewPostgresStore(db)
		fallback = search.NewPgFTS(db)
	}

	var locks lockout.Store = lockout.NewMemoryStore(cfg.LockoutMaxAttempts, cfg.LockoutCooldown, clock)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := lockout.NewRedisStore(cfg.RedisURL, cfg.LockoutMaxAttempts, cfg.LockoutCooldown)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		locks = redisStore
		log.Info().Msg("using redis for sign-in lockout")
	}

	box, err := secretbox.New(cfg.APIKeySecret())
	if err != nil {
		log.Fatal().Err(err).Msg("api key encryption setup failed")
	}
	accounts, err := authpw.NewService(dataStore, box, authpw.Options{
		Cost:    cfg.BcryptCost,
		Lockout: locks,
		Logger:  log.With().Str("component", "accounts").Logger(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("account service setup failed")
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log.With().Str("component", "meili").Logger())
	}
	searchService := search.NewService(meili, fallback, log)
	defer searchService.Close()

	opts := app.Options{
		Store:      dataStore,
		Accounts:   accounts,
		Tokens:     auth.NewService([]byte(cfg.TokenSecret), cfg.TokenTTL, clock),
		Search:     searchService,
		Completion: completion.New(cfg.CompletionURL, cfg.CompletionTimeout),
		Importer:   media.NewImporter(15 * time.Second),
		Mailer: email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
			AppName:  "Canvas",
		}),
		Metrics: collector,
		Clock:   clock,
		Logger:  log,
	}
	if dir := strings.TrimSpace(cfg.HistoryDir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("failed to create history dir")
		}
		opts.History = history.New(dir, clock)
	}
	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		storage, err := media.NewS3Storage(ctx, media.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("object storage setup failed")
		}
		opts.Media = storage
	} else {
		log.Warn().Msg("S3_ENDPOINT not set; image uploads are kept in memory")
		opts.Media = media.NewMemoryStorage()
	}

	service, err := app.NewService(opts)
	if err != nil {
		log.Fatal().Err(err).Msg("service setup failed")
	}
	defer service.Close()

	limiter := app.NewRateLimiter(app.RateLimiterConfig{
		PerMinute: cfg.RatePerMinute,
		Burst:     cfg.RateBurst,
	}, log)
	defer limiter.Stop()

	httpServer := app.NewHTTPServer(service, app.ServerOptions{
		CORSOrigin:  cfg.CORSOrigin,
		Metrics:     collector,
		Gatherer:    prometheus.DefaultGatherer,
		RateLimiter: limiter,
		Logger:      log,
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("canvas api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	waitForSignal(log)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}

func waitForSignal(log zerolog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")
}
