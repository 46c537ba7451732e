// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator assembles the chat service: configuration, the
// provider client bag, storage, retrieval, search, and the HTTP router.
//
// Missing optional keys disable their feature rather than failing
// startup; only DATABASE_URL and OPENAI_API_KEY are required.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	openaisdk "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianChat/pkg/logging"
	"github.com/AleutianAI/AleutianChat/pkg/paths"
	"github.com/AleutianAI/AleutianChat/services/attachments"
	"github.com/AleutianAI/AleutianChat/services/extract"
	"github.com/AleutianAI/AleutianChat/services/ingest"
	"github.com/AleutianAI/AleutianChat/services/llm"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/routes"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/services"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/status"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/store"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/ttl"
	"github.com/AleutianAI/AleutianChat/services/search"
	"github.com/AleutianAI/AleutianChat/services/vector"
)

// defaultSystemMessageContent seeds the shared default persona.
const defaultSystemMessageContent = "You are a helpful, knowledgeable assistant. " +
	"Answer clearly and concisely, and say so when you do not know something."

// =============================================================================
// Configuration
// =============================================================================

// Config holds everything the service reads from the environment.
type Config struct {
	Port        int
	AppEnv      string // development, production, digitalocean, azure
	DatabaseURL string
	SecretKey   string

	OpenAIAPIKey    string
	AnthropicAPIKey string
	GoogleAPIKey    string
	CerebrasAPIKey  string

	PineconeAPIKey string
	PineconeIndex  string

	BraveSearchAPIKey string

	WhispererAPIKey  string
	WhispererBaseURL string

	BaseUploadFolder string
	OTelEndpoint     string
}

// LoadConfigFromEnv reads the recognized environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		Port:              8000,
		AppEnv:            envOr("APP_ENV", "development"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SecretKey:         envOr("SECRET_KEY", "dev-secret-key"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:   os.Getenv("ANTHROPIC_API_KEY"),
		GoogleAPIKey:      os.Getenv("GOOGLE_API_KEY"),
		CerebrasAPIKey:    os.Getenv("CEREBRAS_API_KEY"),
		PineconeAPIKey:    os.Getenv("PINECONE_API_KEY"),
		PineconeIndex:     envOr("PINECONE_INDEX", "chat-documents"),
		BraveSearchAPIKey: os.Getenv("BRAVE_SEARCH_API_KEY"),
		WhispererAPIKey:   os.Getenv("LLMWHISPERER_API_KEY"),
		WhispererBaseURL:  os.Getenv("LLMWHISPERER_BASE_URL"),
		BaseUploadFolder:  envOr("BASE_UPLOAD_FOLDER", "./data/uploads"),
		OTelEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Validate checks the required settings.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	return nil
}

// =============================================================================
// Service
// =============================================================================

// Service is the assembled orchestrator.
type Service struct {
	config    Config
	logger    *logging.Logger
	router    *gin.Engine
	store     *store.PG
	status    *status.Manager
	scheduler *ttl.Scheduler
	cleanupFn func(context.Context)
}

// New assembles the service from configuration. Optional features come
// up disabled when their keys are absent.
func New(ctx context.Context, cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{
		Level:   logLevelFor(cfg.AppEnv),
		Service: "chat-orchestrator",
		JSON:    cfg.AppEnv != "development",
	})
	slog.SetDefault(logger.Slog())

	s := &Service{config: cfg, logger: logger}

	if cfg.OTelEndpoint != "" {
		cleanup, err := initTracer(ctx, cfg.OTelEndpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		s.cleanupFn = cleanup
	}
	metrics := observability.InitMetrics()

	// Durable store and the seeded default persona.
	pg, err := store.NewPG(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the database: %w", err)
	}
	s.store = pg
	if _, err := pg.EnsureDefaultSystemMessage(ctx, defaultSystemMessageContent); err != nil {
		return nil, fmt.Errorf("failed to seed the default system message: %w", err)
	}

	// Provider clients. Each missing key leaves its slot nil and the
	// router reports ErrConfig for that family.
	var clients llm.Clients
	openaiClient, err := llm.NewOpenAIClient(cfg.OpenAIAPIKey)
	if err != nil {
		return nil, err
	}
	clients.OpenAI = openaiClient

	if cfg.AnthropicAPIKey != "" {
		if c, err := llm.NewAnthropicClient(cfg.AnthropicAPIKey); err == nil {
			clients.Anthropic = c
		} else {
			slog.Warn("Anthropic client unavailable", "error", err)
		}
	}
	var geminiClient *llm.GeminiClient
	if cfg.GoogleAPIKey != "" {
		if c, err := llm.NewGeminiClient(ctx, cfg.GoogleAPIKey); err == nil {
			geminiClient = c
			clients.Gemini = c
		} else {
			slog.Warn("Gemini client unavailable", "error", err)
		}
	}
	if cfg.CerebrasAPIKey != "" {
		if c, err := llm.NewCerebrasClient(cfg.CerebrasAPIKey); err == nil {
			clients.Cerebras = c
		} else {
			slog.Warn("Cerebras client unavailable", "error", err)
		}
	}
	router := llm.NewRouter(clients)
	var counter *llm.Counter
	if geminiClient != nil {
		counter = llm.NewCounter(geminiClient)
	} else {
		counter = llm.NewCounter(nil)
	}

	// Storage layout and document extraction.
	layout := paths.NewLayout(cfg.BaseUploadFolder)
	whisperer := extract.NewWhispererClient(cfg.WhispererAPIKey, cfg.WhispererBaseURL)
	var extractor *extract.Service
	if whisperer != nil {
		extractor = extract.NewService(whisperer)
	} else {
		slog.Info("LLMWhisperer not configured, PDF extraction disabled")
		extractor = extract.NewService(nil)
	}

	// Vector retrieval. Disabled without a Pinecone key.
	var fileManager *ingest.Manager
	var retriever services.Retriever
	if cfg.PineconeAPIKey != "" {
		index, err := vector.NewPineconeIndex(ctx, cfg.PineconeAPIKey, cfg.PineconeIndex)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Pinecone: %w", err)
		}
		dbID, err := vector.DatabaseIdentifier(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		embedder := vector.NewOpenAIEmbedder(openaisdk.NewClient(cfg.OpenAIAPIKey))
		processor := ingest.NewProcessor(index, embedder, extractor, layout, dbID)
		fileManager = ingest.NewManager(processor, pg, layout)
		retriever = processor
	} else {
		slog.Info("Pinecone not configured, semantic retrieval disabled")
	}

	// Web search. Disabled without a Brave key.
	var searcher search.Searcher
	if brave := search.NewBraveClient(cfg.BraveSearchAPIKey); brave != nil {
		searcher = brave
	} else {
		slog.Info("Brave search not configured, web search disabled")
	}
	webSearch := search.NewService(searcher, search.NewPageFetcher(), router)

	// Status sessions, attachments, pipeline.
	statusMgr := status.NewManager(nil)
	statusMgr.OnCountChange = metrics.SetActiveWebsockets
	s.status = statusMgr

	attachmentHandler := attachments.NewHandler(layout, extractor)
	pipeline := services.NewChatPipeline(pg, router, counter, retriever,
		webSearch, attachmentHandler, statusMgr, layout, metrics, nil)

	s.scheduler = ttl.NewScheduler(statusMgr, attachmentHandler, ttl.DefaultSchedulerConfig(), nil)

	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	deps := routes.Deps{
		Store:       pg,
		Pipeline:    pipeline,
		Status:      statusMgr,
		Attachments: attachmentHandler,
		Counter:     counter,
		Signer:      middleware.NewSigner(cfg.SecretKey),
		Metrics:     metrics,
	}
	if fileManager != nil {
		deps.Files = fileManager
	}
	routes.SetupRoutes(engine, deps)
	s.router = engine
	return s, nil
}

// Router exposes the gin engine for tests.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// Run starts the cleanup scheduler and the HTTP server, blocking until
// the server stops.
func (s *Service) Run() error {
	s.scheduler.Start()
	defer s.Close()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Chat orchestrator listening", "addr", addr, "env", s.config.AppEnv)
	return s.router.Run(addr)
}

// Close releases background resources.
func (s *Service) Close() {
	s.scheduler.Stop()
	if s.store != nil {
		s.store.Close()
	}
	if s.cleanupFn != nil {
		s.cleanupFn(context.Background())
	}
	s.logger.Close()
}

func logLevelFor(appEnv string) logging.Level {
	if appEnv == "development" {
		return logging.LevelDebug
	}
	return logging.LevelInfo
}

// initTracer wires the OTLP gRPC exporter and registers the global
// tracer provider.
func initTracer(ctx context.Context, endpoint string) (func(context.Context), error) {
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("chat-orchestrator")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExporter)))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("Failed to shut down the OTLP exporter", "error", err)
		}
	}, nil
}
