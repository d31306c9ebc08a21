package knowledge

import (
	"context"
	"errors"
	"strings"

	"github.com/aitextbook/backend-go/internal/cohere"
	"github.com/aitextbook/backend-go/internal/logger"
	"github.com/aitextbook/backend-go/internal/metrics"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Embedder 定义文本向量化接口
//
// Embed对远端故障只降级不抛错：服务未配置或API调用失败时返回固定的
// 兜底向量（各分量均为fallbackComponent），调用方不能假设返回的向量
// 具有语义。error仅在输入本身非法时返回。
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Ready() bool
}

// fallbackComponent 兜底向量的固定分量值
const fallbackComponent = 0.1

// FallbackVector 返回全部分量为0.1的兜底向量
func FallbackVector(dimensions int) []float32 {
	vec := make([]float32, dimensions)
	for i := range vec {
		vec[i] = fallbackComponent
	}
	return vec
}

// NoopEmbedder 默认占位实现
type NoopEmbedder struct{}

func (n *NoopEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embedding provider not configured")
}

func (n *NoopEmbedder) Dimensions() int {
	return 0
}

func (n *NoopEmbedder) Ready() bool {
	return false
}

// Cohere Embedding模型维度映射
var cohereEmbeddingDimensions = map[string]int{
	"embed-multilingual-v3.0":       1024,
	"embed-english-v3.0":            1024,
	"embed-multilingual-light-v3.0": 384,
	"embed-english-light-v3.0":      384,
}

// CohereEmbedder 使用Cohere Embedding API
type CohereEmbedder struct {
	service    *cohere.Service
	model      string
	dimensions int
	logger     *zap.Logger
}

// NewCohereEmbedder 创建Cohere嵌入向量生成器
// service为nil时仍然可用，Embed走Mock兜底
func NewCohereEmbedder(service *cohere.Service, model string) Embedder {
	if model == "" {
		model = "embed-multilingual-v3.0"
	}

	dims, ok := cohereEmbeddingDimensions[model]
	if !ok {
		dims = 1024
	}

	return &CohereEmbedder{
		service:    service,
		model:      model,
		dimensions: dims,
		logger:     logger.Named("embedder.cohere"),
	}
}

func (e *CohereEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("text is empty")
	}

	if !e.service.Ready() {
		e.logger.Warn("cohere not configured, returning fallback embedding",
			zap.String("text", truncate(text, 50)))
		metrics.EmbeddingFallbacks.WithLabelValues("cohere", "not_ready").Inc()
		return FallbackVector(e.dimensions), nil
	}

	resp, err := e.service.Embed(ctx, cohere.EmbedRequest{
		Texts:     []string{text},
		Model:     e.model,
		InputType: "search_query",
	})
	if err != nil {
		e.logger.Warn("cohere embed failed, returning fallback embedding", zap.Error(err))
		metrics.EmbeddingFallbacks.WithLabelValues("cohere", "api_error").Inc()
		return FallbackVector(e.dimensions), nil
	}

	// float64转float32
	embedding := resp.Embeddings[0]
	result := make([]float32, len(embedding))
	for i, v := range embedding {
		result[i] = float32(v)
	}
	return result, nil
}

func (e *CohereEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *CohereEmbedder) Ready() bool {
	return e.service.Ready()
}

var openaiEmbeddingDimensions = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
}

// OpenAIEmbedder 使用OpenAI Embedding API，降级策略与CohereEmbedder一致
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	logger     *zap.Logger
}

// NewOpenAIEmbedder 创建OpenAI嵌入向量生成器
func NewOpenAIEmbedder(apiKey, model string) Embedder {
	if model == "" {
		model = "text-embedding-3-small"
	}

	var client *openai.Client
	if strings.TrimSpace(apiKey) != "" {
		client = openai.NewClient(apiKey)
	}

	dims, ok := openaiEmbeddingDimensions[model]
	if !ok {
		dims = 1536
	}

	return &OpenAIEmbedder{
		client:     client,
		model:      model,
		dimensions: dims,
		logger:     logger.Named("embedder.openai"),
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("text is empty")
	}

	if e.client == nil {
		e.logger.Warn("openai not configured, returning fallback embedding")
		metrics.EmbeddingFallbacks.WithLabelValues("openai", "not_ready").Inc()
		return FallbackVector(e.dimensions), nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil || len(resp.Data) == 0 {
		e.logger.Warn("openai embed failed, returning fallback embedding", zap.Error(err))
		metrics.EmbeddingFallbacks.WithLabelValues("openai", "api_error").Inc()
		return FallbackVector(e.dimensions), nil
	}

	embedding := resp.Data[0].Embedding
	result := make([]float32, len(embedding))
	copy(result, embedding)
	return result, nil
}

func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *OpenAIEmbedder) Ready() bool {
	return e.client != nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
