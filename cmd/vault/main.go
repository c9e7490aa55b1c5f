package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"blog_vault/internal/config"
	"blog_vault/internal/control"
	"blog_vault/internal/domain"
	"blog_vault/internal/downloader"
	"blog_vault/internal/progress"
	"blog_vault/internal/source"
	"blog_vault/internal/storage/postgres"
	"blog_vault/internal/textfile"
	"blog_vault/internal/transfer"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// Setup logger
	logger := setupLogger("info")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	if len(cfg.Blogs) == 0 {
		logger.Error("no blogs configured")
		os.Exit(1)
	}

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Progress events go to the log and, when reachable, to RabbitMQ.
	sinks := progress.Multi{progress.NewLog(logger)}
	rabbitMQ, err := progress.NewRabbitMQ(progress.Config{
		URL:        cfg.RabbitMQ.URL,
		Exchange:   cfg.RabbitMQ.Exchange,
		RoutingKey: cfg.RabbitMQ.RoutingKey,
		QueueName:  cfg.RabbitMQ.QueueName,
	}, logger)
	if err != nil {
		logger.Warn("rabbitmq unavailable, progress goes to log only", "error", err)
	} else {
		defer rabbitMQ.Close()
		sinks = append(sinks, rabbitMQ)
	}

	signals := control.New(func(msg string) {
		logger.Error("fatal: stopping all blog jobs", "reason", msg)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		signals.Cancel()
		cancel()
	}()

	src := source.New(source.Config{
		PageSize:  cfg.Download.PageSize,
		Timeout:   cfg.Download.Timeout,
		UserAgent: cfg.Download.UserAgent,
	}, logger)

	transferer := transfer.New(transfer.Config{
		Timeout:   cfg.Download.Timeout,
		UserAgent: cfg.Download.UserAgent,
	}, logger)

	runner := downloader.NewRunner(
		downloader.RunnerConfig{
			GlobalParallel: cfg.Download.Parallel,
			Preview:        cfg.Download.Preview,
			QueueSize:      cfg.Download.QueueSize,
		},
		src,
		transferer,
		postgres.NewIndexStore(db),
		postgres.NewCrawlStateStore(db),
		textfile.NewAppender(),
		sinks,
		signals,
		logger,
	)

	blogs := make([]domain.Blog, 0, len(cfg.Blogs))
	for _, b := range cfg.Blogs {
		blogs = append(blogs, b.Blog())
	}

	logger.Info("starting backup run",
		"blogs", len(blogs),
		"parallel", cfg.Download.Parallel,
	)

	if ok := runner.Run(ctx, blogs); !ok {
		logger.Error("backup run finished with failures")
		os.Exit(1)
	}
	logger.Info("backup run finished")
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
