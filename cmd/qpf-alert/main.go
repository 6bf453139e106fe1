// Package main is the entrypoint for the QPF alert job.
//
// Each invocation runs one fetch -> compute -> decide -> write cycle against
// the WPC QPF MapServer and exits. Run it from cron, or deploy it as a Lambda
// function behind an EventBridge schedule: when AWS_LAMBDA_RUNTIME_API is set
// the same cycle is served through lambda.Start.
//
// Logs go to stderr. The only stdout output is the one-line run summary.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"qpfwatch/internal/config"
	"qpfwatch/internal/db"
	"qpfwatch/internal/external"
	"qpfwatch/internal/forecasts"
	"qpfwatch/internal/notifications/core"
	"qpfwatch/internal/notifications/feed"
	"qpfwatch/internal/scheduler"
	"qpfwatch/internal/telemetry"
	"qpfwatch/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(logger)

	logger.Info("qpfwatch starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"location", cfg.Location.Name,
		"threshold_in", cfg.Alert.ThresholdIn,
		"state_backend", cfg.State.Backend,
		"metrics_backend", cfg.Metrics.Backend,
	)

	a, err := buildApp(ctx, cfg, clockwork.NewRealClock(), logger)
	if err != nil {
		return fmt.Errorf("wiring dependencies: %w", err)
	}
	defer a.Close()

	if isLambdaEnvironment() {
		lambda.Start(newHandler(a.runner, logger))
		return nil
	}

	summary, err := runOnce(ctx, a.runner, logger)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, summary)
	return nil
}

// isLambdaEnvironment reports whether the process runs inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	return hasRuntimeAPI
}

// cycleRunner is satisfied by *scheduler.Runner.
type cycleRunner interface {
	Run(ctx context.Context) (scheduler.RunResult, error)
}

// newHandler returns the Lambda handler. Every invocation is one run.
func newHandler(r cycleRunner, logger *slog.Logger) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		return runOnce(ctx, r, logger)
	}
}

// runOnce tags ctx with a fresh run ID and executes one cycle.
func runOnce(ctx context.Context, r cycleRunner, logger *slog.Logger) (string, error) {
	ctx = types.WithRunID(ctx, uuid.NewString())

	res, err := r.Run(ctx)
	if err != nil {
		code := types.CodeOf(err)
		logger.ErrorContext(ctx, "Run failed",
			"error", err.Error(),
			"code", string(code),
			"upstream", code.IsUpstream(),
		)
		return "", fmt.Errorf("qpf alert run failed: %w", err)
	}
	return res.Summary(), nil
}

// app holds the wired runner and everything that must be released on exit.
type app struct {
	runner  *scheduler.Runner
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildApp wires every dependency from cfg. AWS configuration is only loaded
// when a component needs it.
func buildApp(ctx context.Context, cfg *config.Config, clock types.Clock, logger *slog.Logger) (*app, error) {
	a := &app{}

	var awsCfg *aws.Config
	getAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		loaded, err := loadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return aws.Config{}, err
		}
		awsCfg = &loaded
		return loaded, nil
	}

	// --- Upstream ---
	httpClient := &http.Client{Timeout: cfg.Upstream.RequestTimeout}
	base := external.NewBaseClient(httpClient, "wpc-qpf-mapserver",
		external.DefaultRetryPolicy(cfg.Upstream.MaxRetries), cfg.Upstream.UserAgent)

	msOpts := []external.MapServerOption{external.WithLogger(logger)}
	if cfg.Upstream.RawArchiveDir != "" {
		archive, err := external.NewPayloadArchive(cfg.Upstream.RawArchiveDir, clock)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, archive.Close)
		msOpts = append(msOpts, external.WithPayloadRecorder(archive))
	}
	mapServer := external.NewMapServerClient(base, cfg.Upstream.ServiceURL, msOpts...)

	sampler := forecasts.NewSampler(mapServer,
		cfg.Location.Longitude, cfg.Location.Latitude,
		cfg.Sampler.Field, cfg.Sampler.AttributeFallback, logger)
	forecastSvc := forecasts.NewService(mapServer, sampler, forecasts.LayerNames{
		Day12:         cfg.Layers.Day12Name,
		Day45:         cfg.Layers.Day45Name,
		Day67:         cfg.Layers.Day67Name,
		SixHourParent: cfg.Layers.SixHourParent,
	}, cfg.Layers.WindowSamples, logger)

	// --- State ---
	store, err := buildStateStore(ctx, cfg, clock, logger, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	// --- Feed sinks ---
	var mirrors []types.FeedSink
	if cfg.Mirror.S3Bucket != "" {
		ac, err := getAWS()
		if err != nil {
			a.Close()
			return nil, err
		}
		mirrors = append(mirrors, feed.NewS3Sink(newS3Client(ac, cfg.AWS), cfg.Mirror.S3Bucket, cfg.Mirror.S3Key))
	}
	if cfg.Mirror.FTPAddr != "" {
		if !cfg.Mirror.FTPPassword.IsSet() {
			logger.Warn("FTP mirror has no password configured", "addr", cfg.Mirror.FTPAddr, "user", cfg.Mirror.FTPUser)
		}
		mirrors = append(mirrors, feed.NewFTPSink(cfg.Mirror.FTPAddr, cfg.Mirror.FTPUser,
			cfg.Mirror.FTPPassword, cfg.Mirror.FTPPath, cfg.Upstream.RequestTimeout))
	}
	publisher := feed.NewPublisher(feed.NewFileSink(cfg.Feed.File), mirrors, logger)

	// --- Telemetry ---
	var cw telemetry.CloudWatchClient
	if cfg.Metrics.Backend == "cloudwatch" {
		ac, err := getAWS()
		if err != nil {
			a.Close()
			return nil, err
		}
		cw = cloudwatch.NewFromConfig(ac)
	}
	recorder, err := telemetry.New(cfg.Metrics, cw, clock, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.runner = scheduler.NewRunner(scheduler.RunnerConfig{
		Forecasts:      forecastSvc,
		Store:          store,
		Publisher:      publisher,
		Recorder:       recorder,
		Clock:          clock,
		Logger:         logger,
		Threshold:      cfg.Alert.ThresholdIn,
		ClearThreshold: cfg.Alert.EffectiveClearThreshold(),
		MaxItems:       cfg.Feed.MaxItems,
		Item: core.ItemTemplate{
			Location:    cfg.Location.Name,
			Threshold:   cfg.Alert.ThresholdIn,
			Link:        cfg.Feed.ItemLink,
			GUIDPrefix:  cfg.Feed.GUIDPrefix,
			Attribution: cfg.Feed.SourceAttribution,
		},
		Channel: feed.ChannelFor(cfg.Location.Name, cfg.Alert.ThresholdIn, cfg.Feed.Title, cfg.Feed.Link),
	})
	return a, nil
}

func buildStateStore(ctx context.Context, cfg *config.Config, clock types.Clock, logger *slog.Logger, a *app) (types.StateStore, error) {
	sc := cfg.State
	switch sc.Backend {
	case "sqlite":
		conn, err := db.OpenSQLite(ctx, sc.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, conn.Close)
		return db.NewSQLiteStateStore(ctx, conn, sc.Key, cfg.Feed.MaxItems, clock, logger)

	case "postgres":
		if !sc.DatabaseURL.IsSet() {
			return nil, types.NewAppError(types.ErrCodeInternalStateStore, "DATABASE_URL is required for the postgres state backend", nil)
		}
		pool, err := pgxpool.New(ctx, sc.DatabaseURL.Unmask())
		if err != nil {
			return nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		store := db.NewPostgresStateStore(pool, sc.Key, cfg.Feed.MaxItems, logger)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil

	default:
		return db.NewFileStateStore(sc.StateFile, sc.ItemsFile, cfg.Feed.MaxItems, logger), nil
	}
}

func loadAWSConfig(ctx context.Context, ac config.AWSConfig) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(ac.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS SDK config: %w", err)
	}
	if ac.EndpointURL != "" {
		cfg.BaseEndpoint = aws.String(ac.EndpointURL)
	}
	return cfg, nil
}

func newS3Client(cfg aws.Config, ac config.AWSConfig) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		// LocalStack and MinIO only serve path-style URLs.
		o.UsePathStyle = ac.EndpointURL != ""
	})
}

// newLogger builds the process logger. Records logged with a context that
// carries a run ID get a run_id attribute.
func newLogger(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(runIDHandler{handler})
}

// runIDHandler copies the run ID from the context onto every record.
type runIDHandler struct {
	slog.Handler
}

func (h runIDHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := types.GetRunID(ctx); id != "" {
		r.AddAttrs(slog.String("run_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h runIDHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return runIDHandler{h.Handler.WithAttrs(attrs)}
}

func (h runIDHandler) WithGroup(name string) slog.Handler {
	return runIDHandler{h.Handler.WithGroup(name)}
}
