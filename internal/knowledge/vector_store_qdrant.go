package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// QdrantOptions Qdrant客户端配置
type QdrantOptions struct {
	URL        string
	APIKey     string
	Collection string
	UseTLS     bool
	Timeout    time.Duration
}

// scrollPageLimit 删除章节时单次扫描的点数上限
const scrollPageLimit = 10000

type qdrantVectorStore struct {
	client     *http.Client
	endpoint   string
	apiKey     string
	collection string
}

// NewQdrantVectorStore 创建Qdrant向量存储
func NewQdrantVectorStore(opts QdrantOptions) (VectorStore, error) {
	if opts.URL == "" {
		scheme := "http"
		if opts.UseTLS {
			scheme = "https"
		}
		opts.URL = fmt.Sprintf("%s://localhost:6333", scheme)
	}
	if !strings.HasPrefix(opts.URL, "http") {
		scheme := "http"
		if opts.UseTLS {
			scheme = "https"
		}
		opts.URL = fmt.Sprintf("%s://%s", scheme, opts.URL)
	}

	if opts.Collection == "" {
		opts.Collection = "physical_ai_textbook"
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &qdrantVectorStore{
		client: &http.Client{
			Timeout: timeout,
		},
		endpoint:   strings.TrimSuffix(opts.URL, "/"),
		apiKey:     opts.APIKey,
		collection: opts.Collection,
	}, nil
}

func (s *qdrantVectorStore) EnsureCollection(ctx context.Context, vectorSize int, forceRecreate bool) error {
	if vectorSize <= 0 {
		return fmt.Errorf("invalid vector size: %d", vectorSize)
	}

	resp, err := s.doRequest(ctx, http.MethodGet, fmt.Sprintf("/collections/%s", s.collection), nil)
	if err == nil && resp.StatusCode == http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if !forceRecreate {
			return nil
		}
		// 销毁已有集合
		delResp, err := s.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/collections/%s", s.collection), nil)
		if err != nil {
			return fmt.Errorf("delete collection %s failed: %w", s.collection, err)
		}
		io.Copy(io.Discard, delResp.Body)
		delResp.Body.Close()
		if delResp.StatusCode >= 300 {
			return fmt.Errorf("delete collection %s failed: %s", s.collection, delResp.Status)
		}
	} else if resp != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	resp, err = s.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", s.collection), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("create collection %s failed: %s", s.collection, resp.Status)
	}
	return nil
}

func (s *qdrantVectorStore) Upsert(ctx context.Context, chunks []TextbookChunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks (%d) and vectors (%d) must have the same length", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	points := make([]map[string]interface{}, 0, len(chunks))
	for i, chunk := range chunks {
		points = append(points, map[string]interface{}{
			"id":     uuid.NewString(),
			"vector": vectors[i],
			"payload": map[string]interface{}{
				"chapter_slug": chunk.ChapterSlug,
				"module_name":  chunk.ModuleName,
				"chunk_index":  chunk.ChunkIndex,
				"content":      chunk.Content,
			},
		})
	}

	payload := map[string]interface{}{"points": points}
	resp, err := s.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points?wait=true", s.collection), payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant upsert failed: %s %s", resp.Status, string(raw))
	}
	return nil
}

// buildFilter 构建payload过滤条件，两个过滤器同时给出时取AND
func buildFilter(chapterSlug, moduleName string) map[string]interface{} {
	if chapterSlug == "" && moduleName == "" {
		return nil
	}

	conditions := make([]map[string]interface{}, 0, 2)
	if chapterSlug != "" {
		conditions = append(conditions, map[string]interface{}{
			"key":   "chapter_slug",
			"match": map[string]interface{}{"value": chapterSlug},
		})
	}
	if moduleName != "" {
		conditions = append(conditions, map[string]interface{}{
			"key":   "module_name",
			"match": map[string]interface{}{"value": moduleName},
		})
	}
	return map[string]interface{}{"must": conditions}
}

func (s *qdrantVectorStore) Search(ctx context.Context, query SearchQuery) ([]SearchResult, error) {
	if len(query.Vector) == 0 {
		return nil, nil
	}
	if query.Limit == 0 {
		query.Limit = 5
	}

	body := map[string]interface{}{
		"vector":       query.Vector,
		"limit":        query.Limit,
		"with_payload": true,
		"with_vectors": false,
	}
	if filter := buildFilter(query.ChapterSlug, query.ModuleName); filter != nil {
		body["filter"] = filter
	}

	resp, err := s.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", s.collection), body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("qdrant search failed: %s %s", resp.Status, string(raw))
	}

	var searchResp struct {
		Result []struct {
			ID      interface{}            `json:"id"`
			Score   float64                `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(searchResp.Result))
	for _, item := range searchResp.Result {
		results = append(results, SearchResult{
			ID:      fmt.Sprintf("%v", item.ID),
			Score:   item.Score,
			Payload: decodeChunkPayload(item.Payload),
		})
	}
	return results, nil
}

func decodeChunkPayload(payload map[string]interface{}) TextbookChunk {
	chunk := TextbookChunk{}
	if val, ok := payload["chapter_slug"].(string); ok {
		chunk.ChapterSlug = val
	}
	if val, ok := payload["module_name"].(string); ok {
		chunk.ModuleName = val
	}
	if val, ok := payload["chunk_index"].(float64); ok {
		chunk.ChunkIndex = int(val)
	}
	if val, ok := payload["content"].(string); ok {
		chunk.Content = val
	}
	return chunk
}

func (s *qdrantVectorStore) DeleteByChapter(ctx context.Context, chapterSlug string) error {
	// 空slug会让过滤器退化为nil，扫描命中整个集合，必须拒绝
	if chapterSlug == "" {
		return fmt.Errorf("chapter slug is empty")
	}

	// Qdrant没有按过滤条件直接删除的接口，先扫描再按ID删除。
	// 扫描窗口内的并发写入可能被漏删。
	scrollBody := map[string]interface{}{
		"filter":       buildFilter(chapterSlug, ""),
		"limit":        scrollPageLimit,
		"with_payload": false,
	}
	resp, err := s.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/scroll", s.collection), scrollBody)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant scroll failed: %s %s", resp.Status, string(raw))
	}

	var scrollResp struct {
		Result struct {
			Points []struct {
				ID interface{} `json:"id"`
			} `json:"points"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&scrollResp); err != nil {
		return err
	}

	if len(scrollResp.Result.Points) == 0 {
		return nil
	}

	ids := make([]interface{}, 0, len(scrollResp.Result.Points))
	for _, p := range scrollResp.Result.Points {
		ids = append(ids, p.ID)
	}

	delBody := map[string]interface{}{"points": ids}
	delResp, err := s.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/delete?wait=true", s.collection), delBody)
	if err != nil {
		return err
	}
	defer delResp.Body.Close()

	if delResp.StatusCode >= 300 {
		raw, _ := io.ReadAll(delResp.Body)
		return fmt.Errorf("qdrant delete failed: %s %s", delResp.Status, string(raw))
	}
	return nil
}

func (s *qdrantVectorStore) Ready() bool {
	return s.client != nil
}

func (s *qdrantVectorStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *qdrantVectorStore) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.endpoint+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	return s.client.Do(req)
}
