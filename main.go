package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justinas/alice"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/camber-images/camber/internal/config"
	"github.com/camber-images/camber/internal/imagereq"
	"github.com/camber-images/camber/internal/populate"
	"github.com/camber-images/camber/internal/server"
	"github.com/camber-images/camber/internal/store"
	"github.com/camber-images/camber/internal/transform"
)

// memoizedLookups bounds the in-process memoization of cache records.
const memoizedLookups = 10_000

func configureServerRoutes(cfg config.Config, svc *service) http.Handler {
	mux := http.NewServeMux()

	// Uploads carry a full image body; everything else is small JSON or
	// bare paths.
	uploadLimitBytes := int64(64 << 20) // 64 MB
	requestLimitBytes := int64(20 << 10)

	standardRouteMiddleware := alice.New(allowCrossOrigin, logRequest)
	jsonRouteMiddleware := standardRouteMiddleware.Append(maxRequestSize(requestLimitBytes))
	uploadRouteMiddleware := standardRouteMiddleware.Append(maxRequestSize(uploadLimitBytes))

	// healthchecks skip the request log to keep probe noise out
	mux.Handle("GET /healthcheck", alice.New(allowCrossOrigin).Then(handleHealthCheck()))
	mux.Handle("GET /robots.txt", standardRouteMiddleware.Then(handleRobots(cfg.Server.AllowIndexing)))

	// every remaining GET shape (density resize, resize, original
	// passthrough) is dispatched by the request interpreter
	mux.Handle("GET /", standardRouteMiddleware.Then(handleGetImage(svc)))

	mux.Handle("POST /token", jsonRouteMiddleware.Then(handlePostToken(svc)))
	mux.Handle("POST /", uploadRouteMiddleware.Then(handleUpload(svc)))

	return mux
}

func main() {
	configureLogging()

	if err := launchServer(); err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	index, err := store.Open(store.Config{
		Path:     cfg.Storage.DBPath,
		PoolSize: cfg.Storage.PoolSize,
	})
	if err != nil {
		return fmt.Errorf("index store open failed: %w", err)
	}

	engine, err := transform.NewEngine()
	if err != nil {
		return fmt.Errorf("transform engine configuration failed: %w", err)
	}

	var loadOptions []func(*awsconfig.LoadOptions) error
	if cfg.AWS.Region != "" {
		loadOptions = append(loadOptions, awsconfig.WithRegion(cfg.AWS.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return fmt.Errorf("aws configuration failed: %w", err)
	}

	svc := &service{
		index:     store.NewMemoIndex(index, memoizedLookups),
		tokens:    store.NewTokenAuthority(index, cfg.Token.TTL),
		engine:    engine,
		originals: transform.NewOriginals(cfg.Storage.OriginalsDir),
		populator: populate.New(s3.NewFromConfig(awsCfg), index, cfg.AWS.Bucket, cfg.AWS.BucketURL),
		constraints: imagereq.Constraints{
			MaxWidth:  cfg.Constraints.MaxWidth,
			MaxHeight: cfg.Constraints.MaxHeight,
		},
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           configureServerRoutes(cfg, svc),
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	hooks := &server.ShutdownHooks{}
	hooks.Add("index store", index.Close)

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	if err := server.Run(srv, shutdownTimeout, hooks); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func configureLogging() {
	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}
