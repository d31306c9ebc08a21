package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/aitextbook/backend-go/internal/logger"
	"go.uber.org/zap"
)

// MilvusOptions Milvus客户端配置
type MilvusOptions struct {
	Address    string
	Username   string
	Password   string
	Collection string
	Database   string
	UseTLS     bool
	Timeout    time.Duration
}

type milvusVectorStore struct {
	milvusClient client.Client
	collection   string
	vectorSize   int
	logger       *zap.Logger
}

// NewMilvusVectorStore 创建Milvus向量存储
func NewMilvusVectorStore(ctx context.Context, opts MilvusOptions) (VectorStore, error) {
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if opts.Collection == "" {
		opts.Collection = "physical_ai_textbook"
	}
	if opts.Database == "" {
		opts.Database = "default"
	}

	milvusClient, err := client.NewClient(ctx, client.Config{
		Address:       opts.Address,
		DBName:        opts.Database,
		Username:      opts.Username,
		Password:      opts.Password,
		EnableTLSAuth: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	return &milvusVectorStore{
		milvusClient: milvusClient,
		collection:   opts.Collection,
		logger:       logger.Named("vectorstore.milvus"),
	}, nil
}

func (s *milvusVectorStore) EnsureCollection(ctx context.Context, vectorSize int, forceRecreate bool) error {
	if vectorSize <= 0 {
		return fmt.Errorf("invalid vector size: %d", vectorSize)
	}
	s.vectorSize = vectorSize

	hasCollection, err := s.milvusClient.HasCollection(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if hasCollection {
		if !forceRecreate {
			return s.loadCollection(ctx)
		}
		if err := s.milvusClient.DropCollection(ctx, s.collection); err != nil {
			return fmt.Errorf("failed to drop collection: %w", err)
		}
	}

	schema := &entity.Schema{
		CollectionName: s.collection,
		Description:    "Textbook chunk vectors",
		Fields: []*entity.Field{
			{
				Name:       "id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "chapter_slug",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "255"},
			},
			{
				Name:       "module_name",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "255"},
			},
			{
				Name:     "chunk_index",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:       "content",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "65535"},
			},
			{
				Name:       "vector",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": fmt.Sprintf("%d", vectorSize)},
			},
		},
	}

	if err := s.milvusClient.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// 余弦距离的HNSW索引，失败时回退到IVF_FLAT
	var index entity.Index
	index, indexErr := entity.NewIndexHNSW(entity.COSINE, 8, 64)
	if indexErr != nil {
		index, indexErr = entity.NewIndexIvfFlat(entity.COSINE, 128)
		if indexErr != nil {
			return fmt.Errorf("failed to create index: %w", indexErr)
		}
	}
	if err := s.milvusClient.CreateIndex(ctx, s.collection, "vector", index, false); err != nil {
		s.logger.Warn("failed to create vector index", zap.Error(err))
	}

	return s.loadCollection(ctx)
}

func (s *milvusVectorStore) loadCollection(ctx context.Context) error {
	if err := s.milvusClient.LoadCollection(ctx, s.collection, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

func (s *milvusVectorStore) Upsert(ctx context.Context, chunks []TextbookChunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks (%d) and vectors (%d) must have the same length", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}
	if s.vectorSize == 0 {
		return fmt.Errorf("collection not ensured")
	}

	ids := make([]string, 0, len(chunks))
	slugs := make([]string, 0, len(chunks))
	modules := make([]string, 0, len(chunks))
	indexes := make([]int64, 0, len(chunks))
	contents := make([]string, 0, len(chunks))
	embeddings := make([][]float32, 0, len(chunks))

	for i, chunk := range chunks {
		if len(vectors[i]) != s.vectorSize {
			return fmt.Errorf("vector %d has dimension %d, collection expects %d", i, len(vectors[i]), s.vectorSize)
		}
		ids = append(ids, uuid.NewString())
		slugs = append(slugs, chunk.ChapterSlug)
		modules = append(modules, chunk.ModuleName)
		indexes = append(indexes, int64(chunk.ChunkIndex))
		contents = append(contents, chunk.Content)
		embeddings = append(embeddings, vectors[i])
	}

	_, err := s.milvusClient.Insert(ctx, s.collection, "",
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnVarChar("chapter_slug", slugs),
		entity.NewColumnVarChar("module_name", modules),
		entity.NewColumnInt64("chunk_index", indexes),
		entity.NewColumnVarChar("content", contents),
		entity.NewColumnFloatVector("vector", s.vectorSize, embeddings),
	)
	if err != nil {
		return fmt.Errorf("milvus insert failed: %w", err)
	}

	if err := s.milvusClient.Flush(ctx, s.collection, false); err != nil {
		s.logger.Warn("failed to flush collection", zap.Error(err))
	}
	return nil
}

// buildExpr 构建Milvus过滤表达式，两个条件同时给出时取AND
func buildExpr(chapterSlug, moduleName string) string {
	conditions := make([]string, 0, 2)
	if chapterSlug != "" {
		conditions = append(conditions, fmt.Sprintf(`chapter_slug == "%s"`, escapeExpr(chapterSlug)))
	}
	if moduleName != "" {
		conditions = append(conditions, fmt.Sprintf(`module_name == "%s"`, escapeExpr(moduleName)))
	}
	return strings.Join(conditions, " && ")
}

func escapeExpr(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, `"`, `\"`)
}

func (s *milvusVectorStore) Search(ctx context.Context, query SearchQuery) ([]SearchResult, error) {
	if len(query.Vector) == 0 {
		return nil, nil
	}
	if query.Limit == 0 {
		query.Limit = 5
	}

	sp, _ := entity.NewIndexHNSWSearchParam(64)
	searchResults, err := s.milvusClient.Search(
		ctx,
		s.collection,
		[]string{},
		buildExpr(query.ChapterSlug, query.ModuleName),
		[]string{"chapter_slug", "module_name", "chunk_index", "content"},
		[]entity.Vector{entity.FloatVector(query.Vector)},
		"vector",
		entity.COSINE,
		query.Limit,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}

	if len(searchResults) == 0 {
		return []SearchResult{}, nil
	}
	result := searchResults[0]
	if result.Err != nil {
		return nil, fmt.Errorf("milvus search error: %w", result.Err)
	}
	if result.ResultCount == 0 {
		return []SearchResult{}, nil
	}

	var ids []string
	if idCol, ok := result.IDs.(*entity.ColumnVarChar); ok {
		ids = idCol.Data()
	}

	var slugs, modules, contents []string
	var indexes []int64
	for _, field := range result.Fields {
		switch field.Name() {
		case "chapter_slug":
			if val, ok := field.(*entity.ColumnVarChar); ok {
				slugs = val.Data()
			}
		case "module_name":
			if val, ok := field.(*entity.ColumnVarChar); ok {
				modules = val.Data()
			}
		case "chunk_index":
			if val, ok := field.(*entity.ColumnInt64); ok {
				indexes = val.Data()
			}
		case "content":
			if val, ok := field.(*entity.ColumnVarChar); ok {
				contents = val.Data()
			}
		}
	}

	results := make([]SearchResult, 0, result.ResultCount)
	for i := 0; i < result.ResultCount; i++ {
		item := SearchResult{}
		if i < len(ids) {
			item.ID = ids[i]
		}
		if i < len(result.Scores) {
			item.Score = float64(result.Scores[i])
		}
		if i < len(slugs) {
			item.Payload.ChapterSlug = slugs[i]
		}
		if i < len(modules) {
			item.Payload.ModuleName = modules[i]
		}
		if i < len(indexes) {
			item.Payload.ChunkIndex = int(indexes[i])
		}
		if i < len(contents) {
			item.Payload.Content = contents[i]
		}
		results = append(results, item)
	}
	return results, nil
}

func (s *milvusVectorStore) DeleteByChapter(ctx context.Context, chapterSlug string) error {
	if chapterSlug == "" {
		return fmt.Errorf("chapter slug is empty")
	}

	expr := buildExpr(chapterSlug, "")
	if err := s.milvusClient.Delete(ctx, s.collection, "", expr); err != nil {
		return fmt.Errorf("milvus delete failed: %w", err)
	}

	if err := s.milvusClient.Flush(ctx, s.collection, false); err != nil {
		s.logger.Warn("failed to flush after delete", zap.Error(err))
	}
	return nil
}

func (s *milvusVectorStore) Ready() bool {
	if s.milvusClient == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.milvusClient.ListCollections(ctx)
	return err == nil
}

func (s *milvusVectorStore) Close() error {
	if s.milvusClient == nil {
		return nil
	}
	return s.milvusClient.Close()
}
