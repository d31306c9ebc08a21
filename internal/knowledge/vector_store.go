package knowledge

import "context"

// TextbookChunk 教材内容分块，作为向量的payload整体存储
// (ChapterSlug, ChunkIndex) 在同一内容版本内应当唯一，存储层不做去重，
// 重建章节前需先DeleteByChapter
type TextbookChunk struct {
	ChapterSlug string `json:"chapter_slug"`
	ModuleName  string `json:"module_name"`
	ChunkIndex  int    `json:"chunk_index"`
	Content     string `json:"content"`
}

// SearchQuery 向量检索请求，ChapterSlug与ModuleName同时给出时取AND
type SearchQuery struct {
	Vector      []float32
	Limit       int
	ChapterSlug string
	ModuleName  string
}

// SearchResult 单条检索结果，score越高越相似（余弦相似度）
type SearchResult struct {
	ID      string
	Score   float64
	Payload TextbookChunk
}

// VectorStore 向量存储抽象。Search失败以error返回（带标记的边界），
// 由上层问答管线决定是否吸收为空结果
type VectorStore interface {
	// EnsureCollection 幂等地确保集合存在；forceRecreate为true时销毁重建
	EnsureCollection(ctx context.Context, vectorSize int, forceRecreate bool) error
	// Upsert chunks与vectors必须等长，每个点分配新的不透明ID，不做去重
	Upsert(ctx context.Context, chunks []TextbookChunk, vectors [][]float32) error
	// Search 按相似度降序返回至多Limit条结果
	Search(ctx context.Context, query SearchQuery) ([]SearchResult, error)
	// DeleteByChapter 两阶段（先扫描后删除）非原子操作，存在并发写入竞态窗口
	DeleteByChapter(ctx context.Context, chapterSlug string) error
	Ready() bool
	Close() error
}
