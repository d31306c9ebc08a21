package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aitextbook/backend-go/internal/cohere"
	"github.com/aitextbook/backend-go/internal/logger"
	"github.com/aitextbook/backend-go/internal/metrics"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// systemPreamble 固定的助手角色设定，每次真实调用都会带上
const systemPreamble = "You are an AI assistant specialized in robotics and intelligent systems. Answer questions based on the provided context."

// maxContextChunks 拼入提示词的上下文块上限，固定策略，不可配置
const maxContextChunks = 3

// Turn 历史对话中的一轮
type Turn struct {
	Role    string `json:"role"` // user | assistant
	Content string `json:"content"`
}

// GenerateRequest 生成请求
type GenerateRequest struct {
	Query         string
	ContextChunks []string
	History       []Turn
	SelectedText  string
}

// Generator 定义答案生成接口
//
// 与Embedder相同的降级约定：服务未配置或远端失败时返回确定性的
// 模板兜底文本（包含原始问题），不向外抛错
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	Ready() bool
}

// buildPrompt 组装用户消息：问题 + 前3块上下文 + 选中文本
func buildPrompt(req GenerateRequest) string {
	message := req.Query

	if len(req.ContextChunks) > 0 {
		chunks := req.ContextChunks
		if len(chunks) > maxContextChunks {
			chunks = chunks[:maxContextChunks]
		}
		message = fmt.Sprintf("%s\n\nContext:\n%s", message, strings.Join(chunks, "\n"))
	}

	if strings.TrimSpace(req.SelectedText) != "" {
		message = fmt.Sprintf("%s\n\nSelected text:\n%s", message, req.SelectedText)
	}

	return message
}

// mockAnswer 未配置凭证时的确定性回复
func mockAnswer(query string) string {
	return fmt.Sprintf("I'm your AI assistant. Regarding '%s', I can tell you that this is a mock response for testing purposes.", query)
}

// errorAnswer 远端调用失败时的兜底回复
func errorAnswer(query string) string {
	return fmt.Sprintf("I'm sorry, I encountered an issue generating a response. The query was about: %s...", truncate(query, 100))
}

// CohereGenerator 使用Cohere Chat API生成答案
type CohereGenerator struct {
	service *cohere.Service
	model   string
	logger  *zap.Logger
}

// NewCohereGenerator 创建Cohere生成器，service为nil时走Mock兜底
func NewCohereGenerator(service *cohere.Service, model string) Generator {
	if model == "" {
		model = "command-r"
	}
	return &CohereGenerator{
		service: service,
		model:   model,
		logger:  logger.Named("generator.cohere"),
	}
}

func (g *CohereGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if strings.TrimSpace(req.Query) == "" {
		return "", errors.New("query is empty")
	}

	if !g.service.Ready() {
		g.logger.Warn("cohere not configured, returning mock answer",
			zap.String("query", truncate(req.Query, 50)))
		metrics.GenerationFallbacks.WithLabelValues("cohere", "not_ready").Inc()
		return mockAnswer(req.Query), nil
	}

	history := make([]cohere.ChatTurn, 0, len(req.History))
	for _, turn := range req.History {
		role := "USER"
		if turn.Role == "assistant" {
			role = "CHATBOT"
		}
		history = append(history, cohere.ChatTurn{Role: role, Message: turn.Content})
	}

	resp, err := g.service.Chat(ctx, cohere.ChatRequest{
		Message:     buildPrompt(req),
		Model:       g.model,
		Preamble:    systemPreamble,
		ChatHistory: history,
	})
	if err != nil {
		g.logger.Warn("cohere chat failed, returning fallback answer", zap.Error(err))
		metrics.GenerationFallbacks.WithLabelValues("cohere", "api_error").Inc()
		return errorAnswer(req.Query), nil
	}

	return resp.Text, nil
}

func (g *CohereGenerator) Ready() bool {
	return g.service.Ready()
}

// OpenAIGenerator 使用OpenAI Chat Completion API生成答案
type OpenAIGenerator struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAIGenerator 创建OpenAI生成器
func NewOpenAIGenerator(apiKey, model string) Generator {
	if model == "" {
		model = "gpt-4o-mini"
	}

	var client *openai.Client
	if strings.TrimSpace(apiKey) != "" {
		client = openai.NewClient(apiKey)
	}

	return &OpenAIGenerator{
		client: client,
		model:  model,
		logger: logger.Named("generator.openai"),
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if strings.TrimSpace(req.Query) == "" {
		return "", errors.New("query is empty")
	}

	if g.client == nil {
		g.logger.Warn("openai not configured, returning mock answer")
		metrics.GenerationFallbacks.WithLabelValues("openai", "not_ready").Inc()
		return mockAnswer(req.Query), nil
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPreamble},
	}
	for _, turn := range req.History {
		role := openai.ChatMessageRoleUser
		if turn.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: buildPrompt(req),
	})

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: messages,
	})
	if err != nil || len(resp.Choices) == 0 {
		g.logger.Warn("openai chat failed, returning fallback answer", zap.Error(err))
		metrics.GenerationFallbacks.WithLabelValues("openai", "api_error").Inc()
		return errorAnswer(req.Query), nil
	}

	return resp.Choices[0].Message.Content, nil
}

func (g *OpenAIGenerator) Ready() bool {
	return g.client != nil
}
