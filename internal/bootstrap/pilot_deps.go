// Package bootstrap wires configuration, stores, adapters, and services.
package bootstrap

import (
	"context"
	"time"

	"pilot_server/adapter/out/messaging"
	"pilot_server/adapter/out/mongodb"
	"pilot_server/adapter/out/persistence"
	"pilot_server/adapter/out/provider"
	"pilot_server/adapter/out/storage"
	"pilot_server/config"
	"pilot_server/core/agent/llm"
	"pilot_server/core/domain"
	"pilot_server/core/port/in"
	"pilot_server/core/port/out"
	"pilot_server/core/service/classification"
	"pilot_server/core/service/pipeline"
	"pilot_server/core/service/qa"
	"pilot_server/core/service/watch"
	"pilot_server/infra/database"
	"pilot_server/pkg/logger"
	"pilot_server/pkg/resilience"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// Dependencies holds every wired component. Both the API process and the
// worker process build the same graph.
type Dependencies struct {
	Config  *config.Config
	DB      *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client

	// Repositories
	MessageRepo    out.MessageRepository
	QARepo         out.QARepository
	SettingsRepo   out.SettingsRepository
	PromptRepo     out.PromptRepository
	AttachmentRepo out.AttachmentRepository
	ConnectionRepo out.ConnectionRepository
	BodyRepo       out.BodyRepository
	BlobStore      out.BlobStore

	// Providers
	GmailProvider   *provider.GmailAdapter
	OutlookProvider *provider.OutlookAdapter

	// Messaging
	MessageProducer out.MessageProducer

	// Model
	LLMClient *llm.Client
	Model     out.ModelProvider

	// Services
	Classifier *classification.Classifier
	Evaluator  *qa.Evaluator
	Pipeline   in.PipelineService
	Watch      in.WatchService
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Postgres
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })
	logger.Info("Postgres connected (pool max=%d)", database.DefaultPostgresConfig().MaxOpenConns)

	// Redis. Backfill jobs and webhook dedupe live here.
	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Redis = redisClient
	cleanups = append(cleanups, func() { redisClient.Close() })
	logger.Info("Redis connected")

	// MongoDB holds the full message bodies.
	mongoClient, err := mongodb.NewClient(cfg.MongoDBURL)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.MongoDB = mongoClient
	cleanups = append(cleanups, func() {
		mongoClient.Disconnect(context.Background())
	})

	bodyRepo := mongodb.NewBodyAdapter(mongoClient.Database(cfg.MongoDBName))
	indexCtx, cancelIndex := context.WithTimeout(context.Background(), 10*time.Second)
	if err := bodyRepo.EnsureIndexes(indexCtx); err != nil {
		logger.WithError(err).Warn("Failed to ensure MongoDB indexes")
	}
	cancelIndex()
	deps.BodyRepo = bodyRepo
	logger.Info("MongoDB connected (database=%s)", cfg.MongoDBName)

	// Repositories
	deps.MessageRepo = persistence.NewMessageAdapter(db)
	deps.QARepo = persistence.NewQAAdapter(db)
	deps.SettingsRepo = persistence.NewSettingsAdapter(db)
	deps.PromptRepo = persistence.NewPromptAdapter(db)
	deps.AttachmentRepo = persistence.NewAttachmentAdapter(db)
	deps.ConnectionRepo = persistence.NewConnectionAdapter(db)

	// Blob storage
	deps.BlobStore = storage.NewSupabaseAdapter(&storage.SupabaseConfig{
		URL:            cfg.SupabaseURL,
		ServiceRoleKey: cfg.SupabaseServiceRoleKey,
		Bucket:         cfg.StorageBucket,
	})

	// Mail providers
	deps.GmailProvider = provider.NewGmailAdapter(&provider.GmailConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		ProjectID:    cfg.GoogleProjectID,
	})
	deps.OutlookProvider = provider.NewOutlookAdapter(&provider.OutlookConfig{
		ClientID:     cfg.MicrosoftClientID,
		ClientSecret: cfg.MicrosoftClientSecret,
		TenantID:     cfg.MicrosoftTenantID,
		WebhookURL:   cfg.WebhookBaseURL + "/webhook/outlook",
	})

	// Messaging
	deps.MessageProducer = messaging.NewRedisProducer(redisClient)

	// Model
	deps.LLMClient = llm.NewClient(llm.ClientConfig{
		APIKey: cfg.OpenAIAPIKey,
		Model:  cfg.LLMModel,
	})
	deps.Model = llm.NewModelAdapter(deps.LLMClient, &resilience.RetryPolicy{
		MaxAttempts:    cfg.LLMMaxRetries + 1,
		AttemptTimeout: time.Duration(cfg.LLMTimeoutSec) * time.Second,
		Backoff:        500 * time.Millisecond,
	}, cfg.LLMMaxTokens)

	// Services
	deps.Classifier = classification.NewClassifier(deps.Model, classification.Config{
		MinConfidence:     cfg.IntentMinConfidence,
		SpamMinConfidence: cfg.SpamMinConfidence,
		ContextWindow:     cfg.IntentContextWindow,
	})

	deps.Evaluator = qa.NewEvaluator(deps.MessageRepo, deps.QARepo, deps.Model, qa.Config{
		InboundMaxChars:  cfg.QAInboundMaxChars,
		DraftMaxChars:    cfg.QADraftMaxChars,
		ThreadContextLen: cfg.QAThreadContextLen,
	})

	deps.Pipeline = pipeline.NewOrchestrator(
		deps.MessageRepo,
		deps.SettingsRepo,
		deps.PromptRepo,
		deps.AttachmentRepo,
		deps.BodyRepo,
		deps.BlobStore,
		deps.Classifier,
		deps.Evaluator,
		pipeline.Config{
			QABatchSize: cfg.QABatchSize,
			QAPromptKey: cfg.QAPromptKey,
		},
	)

	deps.Watch = watch.NewService(
		deps.ConnectionRepo,
		map[domain.Provider]out.EmailProvider{
			domain.MailProviderGmail:   deps.GmailProvider,
			domain.MailProviderOutlook: deps.OutlookProvider,
		},
		deps.MessageProducer,
		watch.Config{
			RenewThreshold: time.Duration(cfg.WatchRenewThresholdHours) * time.Hour,
		},
	)

	return deps, cleanup, nil
}
