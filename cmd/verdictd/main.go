// Copyright (C) 2026 Arbiter AI (oss@arbiter-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// verdictd is the forecast verification and skill-scoring server.
//
// Configuration is taken from the environment:
//
//	VERDICT_PORT              - listen port (default 12300)
//	VERDICT_DATA_DIR          - Badger data directory (default ~/.arbiter/verdict)
//	VERDICT_LOG_DIR           - log file directory (default: stderr only)
//	VERDICT_LOG_LEVEL         - debug, info, warn, error (default info)
//	VERDICT_EVIDENCE_SOURCES  - extra evidence allow-list YAML, hot-reloaded
//	VERDICT_API_KEYS          - comma-separated key:role pairs; empty disables auth
//	VERDICT_INGEST_RPS        - per-caller ingestion rate (default 50)
//	OTEL_EXPORTER_OTLP_ENDPOINT - OTLP collector address
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ArbiterAI/ArbiterFOSS/pkg/logging"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/evidence"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/ledger"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/middleware"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/observability"
	storage "github.com/ArbiterAI/ArbiterFOSS/services/verdict/storage/badger"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "arbiter-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("verdict-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// parseAPIKeys parses "key:role,key:role" into the middleware key set.
func parseAPIKeys(raw string) map[string]middleware.Role {
	keys := make(map[string]middleware.Role)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, role, ok := strings.Cut(pair, ":")
		if !ok || key == "" {
			slog.Warn("Skipping malformed API key entry")
			continue
		}
		switch r := middleware.Role(role); r {
		case middleware.RoleForecaster, middleware.RoleCollector,
			middleware.RoleGovernance, middleware.RoleAdmin:
			keys[key] = r
		default:
			slog.Warn("Skipping API key with unknown role", "role", role)
		}
	}
	return keys
}

func main() {
	port := os.Getenv("VERDICT_PORT")
	if port == "" {
		port = "12300"
	}

	appLogger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("VERDICT_LOG_LEVEL")),
		LogDir:  os.Getenv("VERDICT_LOG_DIR"),
		Service: "verdictd",
		JSON:    true,
	})
	defer appLogger.Close()
	slog.SetDefault(appLogger.Logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	dataDir := os.Getenv("VERDICT_DATA_DIR")
	if dataDir == "" {
		dataDir = "~/.arbiter/verdict"
	}
	dbCfg := storage.DefaultConfig()
	dbCfg.Path = dataDir
	dbCfg.Logger = appLogger.Logger
	db, err := storage.Open(dbCfg)
	if err != nil {
		log.Fatalf("FATAL: Could not open the ledger database: %v", err)
	}
	store := ledger.New(db)
	defer store.Close()

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	var registry *evidence.Registry
	if extra := os.Getenv("VERDICT_EVIDENCE_SOURCES"); extra != "" {
		registry, err = evidence.NewRegistryFromFile(extra, appLogger.Logger)
		if err != nil {
			log.Fatalf("FATAL: Could not load evidence allow-list from %s: %v", extra, err)
		}
		if err := registry.Watch(watchCtx, extra); err != nil {
			slog.Warn("Evidence allow-list hot reload disabled", "error", err)
		}
	} else {
		registry, err = evidence.NewRegistry(appLogger.Logger)
		if err != nil {
			log.Fatalf("FATAL: Could not load the embedded evidence allow-list: %v", err)
		}
	}

	svc, err := verdict.NewService(verdict.Config{
		Store:    store,
		Registry: registry,
		Metrics:  observability.NewVerdictMetrics(nil),
		Logger:   appLogger.Logger,
	})
	if err != nil {
		log.Fatalf("FATAL: Could not initialize the verdict service: %v", err)
	}
	handlers := verdict.NewHandlers(svc)

	ingestRPS := 50.0
	if raw := os.Getenv("VERDICT_INGEST_RPS"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			ingestRPS = v
		}
	}
	limiter := middleware.NewRateLimiter(ingestRPS, int(ingestRPS)*2)

	router := gin.Default()
	router.Use(otelgin.Middleware("verdict-service"))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.APIKeyAuth(parseAPIKeys(os.Getenv("VERDICT_API_KEYS"))))
	verdict.RegisterRoutes(v1, handlers, limiter)

	// Run until SIGINT/SIGTERM so the deferred Badger close executes and
	// the value log stays clean.
	go func() {
		slog.Info("Starting the verdict server", "port", port)
		if err := router.Run(":" + port); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down the verdict server")
}
