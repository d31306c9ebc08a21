package cohere

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aitextbook/backend-go/internal/logger"
	"go.uber.org/zap"
)

// Service 统一的Cohere服务，支持Embedding和Chat
type Service struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter sync.Mutex
}

// EmbedRequest 向量化请求
type EmbedRequest struct {
	Texts     []string `json:"texts"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type,omitempty"`
}

// EmbedResponse 向量化响应
type EmbedResponse struct {
	ID         string      `json:"id"`
	Embeddings [][]float64 `json:"embeddings"`
	Meta       *Meta       `json:"meta,omitempty"`
}

// ChatTurn 历史对话轮次，Role取值 USER / CHATBOT
type ChatTurn struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

// ChatRequest 聊天请求
type ChatRequest struct {
	Message     string     `json:"message"`
	Model       string     `json:"model,omitempty"`
	Preamble    string     `json:"preamble,omitempty"`
	ChatHistory []ChatTurn `json:"chat_history,omitempty"`
	MaxTokens   *int       `json:"max_tokens,omitempty"`
	Temperature *float64   `json:"temperature,omitempty"`
}

// ChatResponse 聊天响应
type ChatResponse struct {
	Text         string `json:"text"`
	GenerationID string `json:"generation_id"`
	FinishReason string `json:"finish_reason"`
	Meta         *Meta  `json:"meta,omitempty"`
}

// Meta 计费单元信息
type Meta struct {
	BilledUnits struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"billed_units"`
}

// Error Cohere API错误
type Error struct {
	Message string `json:"message"`
}

// NewService 创建Cohere服务，API Key为空时返回nil
func NewService(apiKey string) *Service {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		logger.Warn("Cohere API key is empty, service disabled")
		return nil
	}

	return &Service{
		apiKey:  apiKey,
		baseURL: "https://api.cohere.com",
		client: &http.Client{
			Timeout: 60 * time.Second, // 生成调用可能较慢
		},
	}
}

// SetBaseURL 覆盖默认API地址（代理或兼容端点场景）
func (s *Service) SetBaseURL(url string) {
	if s != nil && url != "" {
		s.baseURL = strings.TrimSuffix(url, "/")
	}
}

// Ready 检查服务是否可用
func (s *Service) Ready() bool {
	return s != nil && s.client != nil
}

// Embed 调用向量化接口
func (s *Service) Embed(ctx context.Context, req EmbedRequest) (*EmbedResponse, error) {
	var resp EmbedResponse
	if err := s.post(ctx, "/v1/embed", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("embed response empty")
	}
	return &resp, nil
}

// Chat 调用聊天接口
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var resp ChatResponse
	if err := s.post(ctx, "/v1/chat", req, &resp); err != nil {
		return nil, err
	}

	logger.Debug("cohere chat completed",
		zap.String("model", req.Model),
		zap.String("finish_reason", resp.FinishReason))
	return &resp, nil
}

func (s *Service) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("cohere service not initialized")
	}

	s.limiter.Lock()
	defer s.limiter.Unlock()

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.apiKey))

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("cohere api call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr Error
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
			return fmt.Errorf("cohere api error: %s (HTTP %d)", apiErr.Message, resp.StatusCode)
		}
		return fmt.Errorf("cohere api error: HTTP %d - %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
