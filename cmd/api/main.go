package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	agentsrepo "storefront_backend/internal/agents/repository"
	catalogrepo "storefront_backend/internal/catalog/repository"
	"storefront_backend/internal/conversation"
	conversationrepo "storefront_backend/internal/conversation/repository"
	"storefront_backend/internal/delivery"
	deliveryrepo "storefront_backend/internal/delivery/repository"
	"storefront_backend/internal/email"
	"storefront_backend/internal/events"
	"storefront_backend/internal/fulfillment"
	apphttp "storefront_backend/internal/http"
	"storefront_backend/internal/http/router"
	"storefront_backend/internal/knowledge"
	"storefront_backend/internal/notification"
	"storefront_backend/internal/notification/outbox"
	ordersrepo "storefront_backend/internal/orders/repository"
	"storefront_backend/internal/payments"
	"storefront_backend/internal/session"
	"storefront_backend/internal/whatsapp"
	"storefront_backend/platform/ai/embeddings"
	"storefront_backend/platform/ai/openai"
	"storefront_backend/platform/config"
	"storefront_backend/platform/db"
	"storefront_backend/platform/logger"
	"storefront_backend/platform/qdrant"
	"storefront_backend/platform/secretbox"
	"storefront_backend/platform/storage"
	"storefront_backend/platform/validator"
)

const (
	llmTimeout       = 60 * time.Second
	embeddingTimeout = 15 * time.Second
	qdrantTimeout    = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, pool)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	eventBus := events.NewInMemoryBus(log)
	val := validator.New()

	var images fulfillment.ImageResolver
	if cfg.IsMinIOEnabled() {
		storageSvc, err := storage.NewMinIOService(cfg)
		if err != nil {
			log.Error("failed to initialize storage service", "error", err)
			panic("failed to initialize storage service: " + err.Error())
		}
		if err := withRetry(ctx, log, "ensure catalog-assets bucket", 5, 2*time.Second, func() error {
			return storageSvc.EnsureBucketExists(ctx)
		}); err != nil {
			log.Error("failed to ensure storage bucket exists", "error", err, "bucket", cfg.GetMinioBucketCatalogAssets())
			panic("failed to ensure storage bucket exists: " + err.Error())
		}
		images = storageSvc
		log.Info("storage service initialized", "catalogAssetsBucket", cfg.GetMinioBucketCatalogAssets())
	} else {
		log.Warn("MINIO_ENDPOINT not configured; catalog images are sent as stored")
	}

	var dedupe conversation.Deduper
	if cfg.GetRedisURL() != "" {
		opt, err := redis.ParseURL(cfg.GetRedisURL())
		if err != nil {
			panic("invalid REDIS_URL: " + err.Error())
		}
		redisClient := redis.NewClient(opt)
		defer func() { _ = redisClient.Close() }()
		dedupe = conversation.NewRedisDeduper(redisClient, cfg.GetDedupeTTL())
	} else {
		log.Warn("REDIS_URL not configured; webhook retries are only filtered by message id")
	}

	credentialKey := cfg.GetSessionCredentialKey()
	sealer, err := secretbox.New(credentialKey)
	if err != nil {
		log.Error("failed to initialize credential sealer", "error", err)
		panic("failed to initialize credential sealer: " + err.Error())
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	agentRepo := agentsrepo.New(pool)
	catalogRepo := catalogrepo.New(pool)
	orderRepo := ordersrepo.New(pool)
	conversationRepo := conversationrepo.New(pool)
	outboundRepo := deliveryrepo.New(pool)

	// Notification module subscribes to domain events (not HTTP-facing)
	notificationModule := notification.New(outbox.New(pool), agentRepo, email.NewSender(cfg), log)
	notificationModule.RegisterHandlers(eventBus)

	gateway := payments.NewClient(cfg)
	paymentService := payments.NewService(gateway, orderRepo, eventBus, cfg, log)
	paymentHandler := payments.NewHandler(paymentService, gateway, orderRepo, log)

	tools := fulfillment.NewDispatcher(fulfillment.Deps{
		Catalog:  catalogRepo,
		Orders:   orderRepo,
		Payments: paymentService,
		Images:   images,
		Drafts:   conversationRepo,
		Bus:      eventBus,
		Log:      log,
	}, val)

	llm := openai.NewModel(openai.Config{
		APIKey:  cfg.GetLLMAPIKey(),
		BaseURL: cfg.GetLLMBaseURL(),
		Model:   cfg.GetLLMModel(),
		Timeout: llmTimeout,
	})
	prompt, err := conversation.NewPromptBuilder()
	if err != nil {
		panic("failed to load prompt templates: " + err.Error())
	}

	var kb conversation.Knowledge
	if cfg.IsEmbeddingEnabled() && cfg.IsQdrantEnabled() {
		kb = knowledge.NewRetriever(
			embeddings.NewClient(embeddings.Config{
				BaseURL: cfg.GetEmbeddingAPIURL(),
				APIKey:  cfg.GetEmbeddingAPIKey(),
				Model:   cfg.GetEmbeddingModel(),
				Timeout: embeddingTimeout,
			}),
			qdrant.NewClient(qdrant.Config{
				BaseURL:    cfg.GetQdrantURL(),
				APIKey:     cfg.GetQdrantAPIKey(),
				Collection: cfg.GetQdrantCollection(),
				Timeout:    qdrantTimeout,
			}),
		)
		log.Info("knowledge retrieval enabled", "collection", cfg.GetQdrantCollection())
	}

	sessions := session.NewManager(
		whatsapp.NewConnector(cfg, log),
		session.NewCredentialStore(pool, sealer),
		agentRepo,
		eventBus,
		cfg,
		log,
	)
	if err := sessions.Restore(ctx); err != nil {
		log.Error("failed to restore whatsapp sessions", "error", err)
	}

	pipeline := conversation.NewPipeline(conversation.Deps{
		Store:      conversationRepo,
		Agents:     agentRepo,
		Catalog:    catalogRepo,
		Orders:     orderRepo,
		Tools:      tools,
		Senders:    sessions,
		LLM:        llm,
		Classifier: conversation.NewLLMClassifier(llm),
		Prompt:     prompt,
		Knowledge:  kb,
		Dedupe:     dedupe,
		Bus:        eventBus,
		Log:        log,
	}, cfg)
	webhook := conversation.NewWebhookHandler(pipeline, cfg.GetBridgeWebhookSecret(), log)

	listener := delivery.NewListener(pool, conversationRepo, outboundRepo, sessions, sessions, cfg, log)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config: cfg,
		Logger: log,
		Health: pool,
		Modules: []apphttp.Module{
			session.NewHandler(sessions, agentRepo),
			paymentHandler,
			webhook,
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return listener.Run(gctx)
	})
	g.Go(func() error {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
	}

	webhook.Wait()
	sessions.Shutdown()
	eventBus.Wait()
	log.Info("server stopped")
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
