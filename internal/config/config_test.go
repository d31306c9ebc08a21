package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadConfig viper是进程级单例，默认值和环境变量覆盖按顺序在
// 同一个测试里验证
func TestLoadConfig(t *testing.T) {
	require.NoError(t, LoadConfig())

	cfg := AppConfig
	require.NotNil(t, cfg)

	// 默认值
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "qdrant", cfg.VectorStore.Provider)
	assert.Equal(t, "physical_ai_textbook", cfg.VectorStore.Collection)
	assert.Equal(t, 1024, cfg.VectorStore.VectorSize)
	assert.Equal(t, "cosine", cfg.VectorStore.Distance)
	assert.Equal(t, "cohere", cfg.Chatbot.Provider)
	assert.Equal(t, 5, cfg.Chatbot.TopK)
	assert.Equal(t, 10, cfg.Chatbot.HistoryWindow)
	assert.Equal(t, 7, cfg.Chatbot.HistoryTTLDays)
	assert.Equal(t, "embed-multilingual-v3.0", cfg.Cohere.EmbedModel)
	assert.Equal(t, "command-r", cfg.Cohere.ChatModel)
	assert.False(t, cfg.Metrics.Enabled)

	// 环境变量覆盖
	t.Setenv("DATABASE_URL", "postgresql://test:test@db:5432/test")
	t.Setenv("QDRANT_URL", "http://qdrant:6333")
	t.Setenv("QDRANT_COLLECTION_NAME", "custom_collection")
	t.Setenv("VECTOR_SIZE", "384")
	t.Setenv("AI_PROVIDER", "openai")
	t.Setenv("METRICS_ENABLED", "true")

	require.NoError(t, LoadConfig())
	cfg = AppConfig

	assert.Equal(t, "postgresql://test:test@db:5432/test", cfg.Database.URL)
	assert.Equal(t, "http://qdrant:6333", cfg.VectorStore.Qdrant.URL)
	assert.Equal(t, "custom_collection", cfg.VectorStore.Collection)
	assert.Equal(t, 384, cfg.VectorStore.VectorSize)
	assert.Equal(t, "openai", cfg.Chatbot.Provider)
	assert.True(t, cfg.Metrics.Enabled)
}

// TestLoadConfig_InvalidVectorSizeIgnored 非法VECTOR_SIZE保留原值
func TestLoadConfig_InvalidVectorSizeIgnored(t *testing.T) {
	t.Setenv("VECTOR_SIZE", "not-a-number")
	require.NoError(t, LoadConfig())
	assert.Greater(t, AppConfig.VectorStore.VectorSize, 0)
}

// TestLoadConfig_MilvusAddressSwitchesProvider 设置MILVUS_ADDRESS默认切到milvus
func TestLoadConfig_MilvusAddressSwitchesProvider(t *testing.T) {
	t.Setenv("MILVUS_ADDRESS", "milvus:19530")
	require.NoError(t, LoadConfig())
	assert.Equal(t, "milvus", AppConfig.VectorStore.Provider)
	assert.Equal(t, "milvus:19530", AppConfig.VectorStore.Milvus.Address)
}

func TestGetAppConfig(t *testing.T) {
	AppConfig = nil
	cfg := GetAppConfig()
	require.NotNil(t, cfg)
}
