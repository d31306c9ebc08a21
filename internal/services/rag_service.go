package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/aitextbook/backend-go/internal/knowledge"
	"github.com/aitextbook/backend-go/internal/logger"
	"github.com/aitextbook/backend-go/internal/metrics"
	"go.uber.org/zap"
)

// 三种固定的兜底回复。终端用户永远看不到原始错误，
// 诊断信息走RetrievalAnswer.Err旁路，仅用于日志。
const (
	answerEmbeddingFailure = "Hello! I'm your AI assistant. I'm currently experiencing some technical difficulties, but I'm here to help. Could you try rephrasing your question?"

	answerNoContext = "I'm having trouble finding specific information about your question in the textbook. However, I'm an AI assistant designed to help you learn about robotics. Could you try asking about inverse kinematics, PID controllers, or humanoid locomotion?"

	answerPipelineError = "I encountered an error while processing your question. Please try again or rephrase your question."
)

// generalQuestionPhrases 寒暄/元问题的固定短语表，子串命中即判为general。
// 已知会误判（如技术问题里恰好包含"hi"子串），原样保留。
var generalQuestionPhrases = []string{
	"hello", "hi", "hey", "how are you", "what is your name",
	"who are you", "what do you do", "introduce yourself",
	"help", "start", "greetings", "good morning", "good evening",
}

const defaultTopK = 5

// SourceInfo 答案引用的来源描述
type SourceInfo struct {
	ChapterSlug string  `json:"chapter_slug"`
	ModuleName  string  `json:"module_name"`
	Score       float64 `json:"score"`
}

// RetrievalAnswer 一次问答的结果。三个出口分支
// （embedding失败 / 无上下文 / 正常回答）结构完全一致，
// Sources和ContextChunks永远非nil
type RetrievalAnswer struct {
	Answer        string       `json:"answer"`
	Sources       []SourceInfo `json:"sources"`
	ContextChunks []string     `json:"context_chunks"`
	Err           string       `json:"error,omitempty"` // 仅供运维诊断，不展示给用户
}

// AnswerRequest 问答请求
type AnswerRequest struct {
	Question     string
	SelectedText string
	ChapterSlug  string
	History      []knowledge.Turn
	TopK         int
}

// SimilarChunk 相似内容检索结果
type SimilarChunk struct {
	Content     string  `json:"content"`
	ChapterSlug string  `json:"chapter_slug"`
	ModuleName  string  `json:"module_name"`
	ChunkIndex  int     `json:"chunk_index"`
	Score       float64 `json:"score"`
}

// RAGService 检索增强问答服务
//
// 无状态：每次Answer调用都是一条独立的管线，协作者均可被多个
// 请求并发使用。任何一步失败都降级为固定回复，从不重试。
type RAGService struct {
	embedder  knowledge.Embedder
	generator knowledge.Generator
	store     knowledge.VectorStore
	logger    *zap.Logger
}

// NewRAGService 创建RAG问答服务，依赖在进程启动时构造一次后显式传入
func NewRAGService(embedder knowledge.Embedder, generator knowledge.Generator, store knowledge.VectorStore) *RAGService {
	return &RAGService{
		embedder:  embedder,
		generator: generator,
		store:     store,
		logger:    logger.Named("rag"),
	}
}

// isGeneralQuestion 判断是否为寒暄类问题（子串匹配的启发式，不是NLP）
func isGeneralQuestion(question string) bool {
	lowered := strings.ToLower(question)
	for _, phrase := range generalQuestionPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}

// Answer 回答一个问题
//
// 管线顺序：分类 -> 向量化 -> 检索 -> 上下文组装 -> 生成。
// 向量化抛错是终止性失败；检索抛错被吸收为零结果；
// 零结果时直接跳过生成返回固定回复（分类结果在这一分支不参与判断，
// 与原有行为保持一致）。任何未捕获的异常都收敛为pipeline_error回复。
// 永不返回error。
func (s *RAGService) Answer(ctx context.Context, req AnswerRequest) (result *RetrievalAnswer) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("rag pipeline panic", zap.Any("panic", r))
			metrics.Answers.WithLabelValues("pipeline_error").Inc()
			result = &RetrievalAnswer{
				Answer:        answerPipelineError,
				Sources:       []SourceInfo{},
				ContextChunks: []string{},
				Err:           fmt.Sprintf("%v", r),
			}
		}
	}()

	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	s.logger.Info("answering question", zap.String("question", truncateQuestion(req.Question)))

	// 第一步：分类
	general := isGeneralQuestion(req.Question)

	// 第二步：向量化。失败是终止性的，直接走技术故障回复
	queryVector, err := s.embedder.Embed(ctx, req.Question)
	if err != nil {
		s.logger.Error("embedding generation failed", zap.Error(err))
		metrics.Answers.WithLabelValues("embedding_failure").Inc()
		return &RetrievalAnswer{
			Answer:        answerEmbeddingFailure,
			Sources:       []SourceInfo{},
			ContextChunks: []string{},
			Err:           err.Error(),
		}
	}

	// 第三步：检索。失败可恢复，吸收为零结果继续
	searchResults, err := s.store.Search(ctx, knowledge.SearchQuery{
		Vector:      queryVector,
		Limit:       topK,
		ChapterSlug: req.ChapterSlug,
	})
	if err != nil {
		s.logger.Warn("vector search failed, continuing without context", zap.Error(err))
		metrics.SearchFailures.WithLabelValues("primary").Inc()
		searchResults = nil
	}

	// 第四步：零结果策略。检索不到可引用的材料时不做无依据生成
	if len(searchResults) == 0 {
		s.logger.Warn("no relevant context found", zap.String("chapter", req.ChapterSlug))
		metrics.Answers.WithLabelValues("no_context").Inc()
		return &RetrievalAnswer{
			Answer:        answerNoContext,
			Sources:       []SourceInfo{},
			ContextChunks: []string{},
		}
	}

	// 第五步：按检索排名组装上下文，来源按结构相等去重（保留首见顺序）
	contextChunks := make([]string, 0, len(searchResults))
	sources := make([]SourceInfo, 0, len(searchResults))
	for _, sr := range searchResults {
		contextChunks = append(contextChunks, sr.Payload.Content)

		info := SourceInfo{
			ChapterSlug: sr.Payload.ChapterSlug,
			ModuleName:  sr.Payload.ModuleName,
			Score:       sr.Score,
		}
		if !containsSource(sources, info) {
			sources = append(sources, info)
		}
	}

	s.logger.Debug("retrieved context",
		zap.Int("chunks", len(contextChunks)),
		zap.Int("sources", len(sources)))

	// 第六步：生成。寒暄类问题不带上下文，保持对话式口吻
	generationContext := contextChunks
	if general {
		generationContext = []string{}
	}

	answerText, err := s.generator.Generate(ctx, knowledge.GenerateRequest{
		Query:         req.Question,
		ContextChunks: generationContext,
		History:       req.History,
		SelectedText:  req.SelectedText,
	})
	if err != nil {
		s.logger.Error("generation failed", zap.Error(err))
		metrics.Answers.WithLabelValues("pipeline_error").Inc()
		return &RetrievalAnswer{
			Answer:        answerPipelineError,
			Sources:       []SourceInfo{},
			ContextChunks: []string{},
			Err:           err.Error(),
		}
	}

	metrics.Answers.WithLabelValues("normal").Inc()
	return &RetrievalAnswer{
		Answer:        answerText,
		Sources:       sources,
		ContextChunks: contextChunks,
	}
}

// SimilarContent 查找教材中的相似内容（"相关主题"功能），失败时返回空
func (s *RAGService) SimilarContent(ctx context.Context, text string, limit int, chapterSlug string) []SimilarChunk {
	if limit <= 0 {
		limit = 3
	}

	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.logger.Warn("similar content embedding failed", zap.Error(err))
		return []SimilarChunk{}
	}

	results, err := s.store.Search(ctx, knowledge.SearchQuery{
		Vector:      embedding,
		Limit:       limit,
		ChapterSlug: chapterSlug,
	})
	if err != nil {
		s.logger.Warn("similar content search failed", zap.Error(err))
		metrics.SearchFailures.WithLabelValues("primary").Inc()
		return []SimilarChunk{}
	}

	return toSimilarChunks(results)
}

// SearchTextbook 直接检索教材内容（不生成答案），失败时返回空
func (s *RAGService) SearchTextbook(ctx context.Context, query string, limit int, moduleFilter string) []SimilarChunk {
	if limit <= 0 {
		limit = 10
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("textbook search embedding failed", zap.Error(err))
		return []SimilarChunk{}
	}

	results, err := s.store.Search(ctx, knowledge.SearchQuery{
		Vector:     embedding,
		Limit:      limit,
		ModuleName: moduleFilter,
	})
	if err != nil {
		s.logger.Warn("textbook search failed", zap.Error(err))
		metrics.SearchFailures.WithLabelValues("primary").Inc()
		return []SimilarChunk{}
	}

	s.logger.Info("textbook search completed",
		zap.String("query", truncateQuestion(query)),
		zap.Int("results", len(results)))
	return toSimilarChunks(results)
}

func toSimilarChunks(results []knowledge.SearchResult) []SimilarChunk {
	chunks := make([]SimilarChunk, 0, len(results))
	for _, sr := range results {
		chunks = append(chunks, SimilarChunk{
			Content:     sr.Payload.Content,
			ChapterSlug: sr.Payload.ChapterSlug,
			ModuleName:  sr.Payload.ModuleName,
			ChunkIndex:  sr.Payload.ChunkIndex,
			Score:       sr.Score,
		})
	}
	return chunks
}

// containsSource 按(章节, 模块, 分数)三元组的精确相等判断重复。
// 分数不同的同章节块会产生两条来源，保持原有行为
func containsSource(sources []SourceInfo, info SourceInfo) bool {
	for _, s := range sources {
		if s == info {
			return true
		}
	}
	return false
}

func truncateQuestion(q string) string {
	runes := []rune(q)
	if len(runes) <= 100 {
		return q
	}
	return string(runes[:100])
}
