package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"vitals-service/internal/analytics"
	"vitals-service/internal/api"
	"vitals-service/internal/cache"
	"vitals-service/internal/config"
	"vitals-service/internal/patients"
	"vitals-service/internal/ranges"
	"vitals-service/internal/service"
	"vitals-service/internal/store"
)

// Server owns the process-wide resources and the HTTP listener.
type Server struct {
	handler  http.Handler
	closers  []func()
	logger   *slog.Logger
	shutdown time.Duration
}

func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	policy, err := ranges.LoadFile(cfg.RangesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load range table: %w", err)
	}

	analyzer, err := analytics.NewAnalyzer(cfg.TrimFraction, analytics.WithFastPathLookback(cfg.FastPathLookback))
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", store.Describe(err, cfg.Database.Path), err)
	}
	s := &Server{logger: logger, shutdown: cfg.ShutdownTimeout}
	s.closers = append(s.closers, func() { st.Close() })

	responses, err := s.openCache(cfg.Cache)
	if err != nil {
		s.Close()
		return nil, err
	}

	vitals := service.New(st, responses, policy, analyzer,
		service.WithTTL(cfg.Cache.TTLFor),
		service.WithLogger(logger),
	)
	pts := patients.New(st, patients.WithLogger(logger))

	srv := api.NewServer(vitals, pts, st, api.Config{
		AllowedOrigins:   cfg.AllowedOrigins,
		LiveDefaultLimit: cfg.Live.DefaultLimit,
		LiveMaxLimit:     cfg.Live.MaxLimit,
		RequestTimeout:   cfg.RequestTimeout,
	}, logger)
	s.handler = srv.Handler()

	logger.Info("range table loaded", "ranges", strings.Join(policy.Keys(), ","))
	return s, nil
}

func openStore(ctx context.Context, db config.Database) (*store.SQLStore, error) {
	switch db.Driver {
	case "sqlite":
		return store.NewSQLite(ctx, db.Path)
	default:
		return store.NewPostgres(ctx, store.PostgresConfig{
			Host:           db.Host,
			Port:           db.Port,
			User:           db.User,
			Password:       db.Password,
			Name:           db.Name,
			SSLMode:        db.SSLMode,
			ConnectTimeout: db.ConnectTimeout,
			MaxOpenConns:   db.MaxOpenConns,
			MaxIdleConns:   db.MaxIdleConns,
			ConnMaxLife:    db.ConnMaxLifetime,
		})
	}
}

func (s *Server) openCache(cfg config.Cache) (service.ResponseCache, error) {
	if cfg.Backend == "redis" {
		redisClient, err := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPrefix, s.logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { redisClient.Close() })
		return redisClient, nil
	}

	mem := cache.NewTTLCache[[]byte](
		cache.WithSweepInterval(cfg.SweepInterval),
		cache.WithLogger(s.logger),
	)
	mem.Start()
	s.closers = append(s.closers, mem.Stop)

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "cache_entries",
		Help: "Number of responses held by the in-memory cache",
	}, func() float64 { return float64(mem.Len()) })
	return mem, nil
}

// Close releases resources in reverse order of acquisition.
func (s *Server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func (s *Server) Run(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		s.logger.Info("server is shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), s.shutdown)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("could not gracefully shut down the server", "error", err)
		}
		close(done)
	}()

	s.logger.Info("server is ready to handle requests", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("could not listen on %s: %w", addr, err)
	}

	<-done
	s.Close()
	s.logger.Info("server stopped")
	return nil
}

func newLogger(level string) *slog.Logger {
	lvl := new(slog.LevelVar)
	switch level {
	case "debug":
		lvl.Set(slog.LevelDebug)
	case "warn", "warning":
		lvl.Set(slog.LevelWarn)
	case "error":
		lvl.Set(slog.LevelError)
	default:
		lvl.Set(slog.LevelInfo)
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func logConfig(logger *slog.Logger, cfg *config.Config) {
	logger.Info("configuration",
		"port", cfg.Port,
		"database_driver", cfg.Database.Driver,
		"database_host", cfg.Database.Host,
		"database_name", cfg.Database.Name,
		"cache_backend", cfg.Cache.Backend,
		"trim_fraction", cfg.TrimFraction,
		"fast_path_lookback", cfg.FastPathLookback.String(),
		"ranges_file", cfg.RangesFile,
	)
}

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: search /etc/vitals-service, $HOME/.vitals-service, .)")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logConfig(logger, cfg)

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout+5*time.Second)
	server, err := NewServer(connectCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}

	if err := server.Run(fmt.Sprintf(":%d", cfg.Port)); err != nil {
		server.Close()
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
