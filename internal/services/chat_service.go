package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aitextbook/backend-go/internal/knowledge"
	"github.com/aitextbook/backend-go/internal/logger"
	"github.com/aitextbook/backend-go/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrEmptyMessage 消息内容为空（客户端输入错误）
	ErrEmptyMessage = errors.New("message is empty")
	// ErrSessionNotFound 引用的会话不存在
	ErrSessionNotFound = errors.New("session not found")
)

// ChatMessageRequest 对话消息请求
type ChatMessageRequest struct {
	UserID       *uint  `json:"user_id,omitempty"`
	SessionID    *uint  `json:"session_id,omitempty"`
	Message      string `json:"message"`
	SelectedText string `json:"selected_text,omitempty"`
	ChapterSlug  string `json:"chapter_slug,omitempty"`
}

// ChatMessageResponse 对话消息响应
type ChatMessageResponse struct {
	SessionID uint         `json:"session_id"`
	Response  string       `json:"response"`
	Sources   []SourceInfo `json:"sources"`
}

// messageMetadata 助手消息附带的结构化元数据
type messageMetadata struct {
	Sources []SourceInfo `json:"sources"`
}

// ChatService 会话编排服务
//
// 负责§会话/消息持久化契约：解析或创建会话、落库用户消息、
// 调用RAG管线、落库助手消息（来源列表作为元数据）。
// RAG核心自身不接触存储。
type ChatService struct {
	db      *gorm.DB
	rag     *RAGService
	history *HistoryCache
	logger  *zap.Logger
}

// NewChatService 创建会话编排服务，history可为nil（不做历史缓存）
func NewChatService(db *gorm.DB, rag *RAGService, history *HistoryCache) *ChatService {
	return &ChatService{
		db:      db,
		rag:     rag,
		history: history,
		logger:  logger.Named("chat"),
	}
}

// HandleMessage 处理一条入站消息并返回AI回复
//
// 未提供session_id时自动创建新会话；提供的session_id不存在时创建之，
// 并发创建同一ID时重复键错误视为成功（幂等）。
// 助手消息落库失败只记日志，回复仍然返回。
func (s *ChatService) HandleMessage(ctx context.Context, req ChatMessageRequest) (*ChatMessageResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}

	sessionID, err := s.resolveSession(ctx, req.SessionID, req.UserID)
	if err != nil {
		return nil, err
	}

	// 先取历史再落库当前消息，避免当前问题混入历史
	history := s.conversationHistory(ctx, sessionID)

	userMessage := models.ChatMessage{
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content:   req.Message,
	}
	if err := s.db.WithContext(ctx).Create(&userMessage).Error; err != nil {
		return nil, fmt.Errorf("failed to store user message: %w", err)
	}

	answer := s.rag.Answer(ctx, AnswerRequest{
		Question:     req.Message,
		SelectedText: req.SelectedText,
		ChapterSlug:  req.ChapterSlug,
		History:      history,
	})

	metadata, _ := json.Marshal(messageMetadata{Sources: answer.Sources})
	assistantMessage := models.ChatMessage{
		SessionID: sessionID,
		Role:      models.RoleAssistant,
		Content:   answer.Answer,
		Metadata:  string(metadata),
	}
	if err := s.db.WithContext(ctx).Create(&assistantMessage).Error; err != nil {
		// 落库失败不阻断回复，与原有行为一致
		s.logger.Error("failed to store assistant message",
			zap.Uint("session_id", sessionID), zap.Error(err))
	}

	if s.history != nil {
		s.history.Append(ctx, sessionID,
			knowledge.Turn{Role: models.RoleUser, Content: req.Message},
			knowledge.Turn{Role: models.RoleAssistant, Content: answer.Answer},
		)
	}

	return &ChatMessageResponse{
		SessionID: sessionID,
		Response:  answer.Answer,
		Sources:   answer.Sources,
	}, nil
}

// SessionMessages 按时间顺序返回会话内的全部消息
func (s *ChatService) SessionMessages(ctx context.Context, sessionID uint) ([]models.ChatMessage, error) {
	var session models.ChatSession
	if err := s.db.WithContext(ctx).First(&session, sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var messages []models.ChatMessage
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return messages, nil
}

// resolveSession 解析或创建会话，返回会话ID
func (s *ChatService) resolveSession(ctx context.Context, sessionID *uint, userID *uint) (uint, error) {
	if sessionID == nil {
		session := models.ChatSession{UserID: normalizeUserID(userID)}
		if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
			return 0, fmt.Errorf("failed to create session: %w", err)
		}
		s.logger.Info("created new session", zap.Uint("session_id", session.ID))
		return session.ID, nil
	}

	if err := s.ensureSession(ctx, *sessionID, userID); err != nil {
		return 0, err
	}
	return *sessionID, nil
}

// ensureSession 确保调用方提供的会话ID存在，不存在则创建。
// 两个请求并发创建同一个新会话时，重复插入按已成功处理
func (s *ChatService) ensureSession(ctx context.Context, sessionID uint, userID *uint) error {
	var session models.ChatSession
	err := s.db.WithContext(ctx).First(&session, sessionID).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to check session: %w", err)
	}

	create := models.ChatSession{ID: sessionID, UserID: normalizeUserID(userID)}
	if err := s.db.WithContext(ctx).Create(&create).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "duplicate key") {
			s.logger.Warn("session already exists (concurrent creation)",
				zap.Uint("session_id", sessionID))
			return nil
		}
		return fmt.Errorf("failed to create session %d: %w", sessionID, err)
	}

	s.logger.Info("created session with caller-supplied id", zap.Uint("session_id", sessionID))
	return nil
}

// conversationHistory 读取最近的对话历史：优先缓存，未命中走数据库
func (s *ChatService) conversationHistory(ctx context.Context, sessionID uint) []knowledge.Turn {
	if s.history != nil {
		if turns := s.history.Recent(ctx, sessionID); turns != nil {
			return turns
		}
	}

	var messages []models.ChatMessage
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Limit(10).
		Find(&messages).Error; err != nil {
		s.logger.Debug("history load failed", zap.Error(err))
		return nil
	}

	// 倒序查出来的，翻回时间顺序
	turns := make([]knowledge.Turn, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		turns = append(turns, knowledge.Turn{
			Role:    messages[i].Role,
			Content: messages[i].Content,
		})
	}
	return turns
}

// normalizeUserID 过滤无效的用户ID（0或nil按匿名处理）
func normalizeUserID(userID *uint) *uint {
	if userID == nil || *userID == 0 {
		return nil
	}
	return userID
}
