package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aitextbook/backend-go/internal/cohere"
	"github.com/aitextbook/backend-go/internal/config"
	"github.com/aitextbook/backend-go/internal/database"
	"github.com/aitextbook/backend-go/internal/knowledge"
	"github.com/aitextbook/backend-go/internal/logger"
	"github.com/aitextbook/backend-go/internal/services"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App encapsulates the shared infrastructure and services built once at
// process start. Everything is wired explicitly; there are no package-level
// service singletons.
type App struct {
	Config      *config.Config
	DB          *gorm.DB
	Redis       *redis.Client
	Embedder    knowledge.Embedder
	Generator   knowledge.Generator
	VectorStore knowledge.VectorStore
	RAG         *services.RAGService
	Chat        *services.ChatService

	cleanupTasks []func() error
}

// Options 控制启动行为
type Options struct {
	// SkipDatabase 仅使用向量库和AI供应商（内容加载工具用）
	SkipDatabase bool
	// ForceRecreateCollection 销毁并重建向量集合
	ForceRecreateCollection bool
}

// Init bootstraps configuration, logger, database connections, AI providers
// and the vector store, then wires the RAG and chat services.
//
// 供应商缺少凭证时降级为Mock模式继续启动；数据库和向量库
// 初始化失败则直接失败（两者不是可选项）。
func Init(ctx context.Context, opts Options) (*App, error) {
	// Load environment variables from .env if present (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	if err := logger.InitLogger(); err != nil {
		return nil, err
	}

	if err := config.LoadConfig(); err != nil {
		return nil, err
	}
	cfg := config.AppConfig

	app := &App{Config: cfg}

	if !opts.SkipDatabase {
		db, err := database.InitDB()
		if err != nil {
			return nil, fmt.Errorf("database init failed: %w", err)
		}
		app.DB = db
		app.cleanupTasks = append(app.cleanupTasks, database.CloseDB)

		// Redis可选：连不上只降级历史缓存，不阻断启动
		rdb, err := database.InitRedis()
		if err != nil {
			logger.Warn("redis unavailable, conversation history cache disabled", zap.Error(err))
		} else if rdb != nil {
			app.Redis = rdb
			app.cleanupTasks = append(app.cleanupTasks, database.CloseRedis)
		}
	}

	app.Embedder, app.Generator = buildProviders(cfg)

	store, err := buildVectorStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("vector store init failed: %w", err)
	}
	app.VectorStore = store
	app.cleanupTasks = append(app.cleanupTasks, store.Close)

	// 维度契约：embedder输出维度必须与集合配置一致，在启动时失败
	// 而不是等到检索时静默出错
	if dims := app.Embedder.Dimensions(); dims != 0 && dims != cfg.VectorStore.VectorSize {
		return nil, fmt.Errorf("embedder dimension %d does not match collection vector size %d",
			dims, cfg.VectorStore.VectorSize)
	}

	if err := store.EnsureCollection(ctx, cfg.VectorStore.VectorSize, opts.ForceRecreateCollection); err != nil {
		return nil, fmt.Errorf("failed to ensure collection: %w", err)
	}

	app.RAG = services.NewRAGService(app.Embedder, app.Generator, app.VectorStore)

	if app.DB != nil {
		history := services.NewHistoryCache(app.Redis, cfg.Chatbot.HistoryWindow,
			time.Duration(cfg.Chatbot.HistoryTTLDays)*24*time.Hour)
		app.Chat = services.NewChatService(app.DB, app.RAG, history)
	}

	logger.Info("application bootstrapped",
		zap.String("ai_provider", cfg.Chatbot.Provider),
		zap.String("vector_store", cfg.VectorStore.Provider),
		zap.Bool("embedder_ready", app.Embedder.Ready()),
		zap.Bool("generator_ready", app.Generator.Ready()))

	return app, nil
}

// buildProviders 按配置选择AI供应商，凭证缺失时各实现自行降级
func buildProviders(cfg *config.Config) (knowledge.Embedder, knowledge.Generator) {
	switch cfg.Chatbot.Provider {
	case "openai":
		return knowledge.NewOpenAIEmbedder(cfg.OpenAI.APIKey, cfg.OpenAI.EmbedModel),
			knowledge.NewOpenAIGenerator(cfg.OpenAI.APIKey, cfg.OpenAI.ChatModel)
	default:
		svc := cohere.NewService(cfg.Cohere.APIKey)
		svc.SetBaseURL(cfg.Cohere.BaseURL)
		return knowledge.NewCohereEmbedder(svc, cfg.Cohere.EmbedModel),
			knowledge.NewCohereGenerator(svc, cfg.Cohere.ChatModel)
	}
}

func buildVectorStore(ctx context.Context, cfg *config.Config) (knowledge.VectorStore, error) {
	switch cfg.VectorStore.Provider {
	case "milvus":
		return knowledge.NewMilvusVectorStore(ctx, knowledge.MilvusOptions{
			Address:    cfg.VectorStore.Milvus.Address,
			Username:   cfg.VectorStore.Milvus.Username,
			Password:   cfg.VectorStore.Milvus.Password,
			Collection: cfg.VectorStore.Collection,
			Database:   cfg.VectorStore.Milvus.Database,
			UseTLS:     cfg.VectorStore.Milvus.TLS,
		})
	default:
		return knowledge.NewQdrantVectorStore(knowledge.QdrantOptions{
			URL:        cfg.VectorStore.Qdrant.URL,
			APIKey:     cfg.VectorStore.Qdrant.APIKey,
			Collection: cfg.VectorStore.Collection,
			UseTLS:     cfg.VectorStore.Qdrant.UseTLS,
		})
	}
}

// Shutdown 逆序释放资源
func (a *App) Shutdown() {
	for i := len(a.cleanupTasks) - 1; i >= 0; i-- {
		if err := a.cleanupTasks[i](); err != nil {
			logger.Warn("cleanup task failed", zap.Error(err))
		}
	}
	logger.Sync()
}
