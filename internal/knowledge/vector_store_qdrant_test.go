package knowledge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordedRequest 测试服务器捕获的一次请求
type recordedRequest struct {
	Method string
	Path   string
	Body   map[string]interface{}
}

// newQdrantTestServer 模拟Qdrant HTTP接口，按(method path)返回预设响应
func newQdrantTestServer(t *testing.T, responses map[string]func(w http.ResponseWriter)) (*httptest.Server, *[]recordedRequest) {
	t.Helper()

	var requests []recordedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{Method: r.Method, Path: r.URL.Path}
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&rec.Body)
		}
		requests = append(requests, rec)

		key := r.Method + " " + r.URL.Path
		if handler, ok := responses[key]; ok {
			handler(w)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"status":{"error":"not found"}}`))
	}))
	return server, &requests
}

func okJSON(body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}
}

func newTestStore(t *testing.T, serverURL string) VectorStore {
	t.Helper()
	store, err := NewQdrantVectorStore(QdrantOptions{URL: serverURL, Collection: "test_collection"})
	require.NoError(t, err)
	return store
}

// TestEnsureCollection_AlreadyExists 集合已存在时幂等返回，不发创建请求
func TestEnsureCollection_AlreadyExists(t *testing.T) {
	server, requests := newQdrantTestServer(t, map[string]func(w http.ResponseWriter){
		"GET /collections/test_collection": okJSON(`{"result":{"status":"green"}}`),
	})
	defer server.Close()

	store := newTestStore(t, server.URL)
	err := store.EnsureCollection(context.Background(), 1024, false)

	require.NoError(t, err)
	require.Len(t, *requests, 1)
	assert.Equal(t, "GET", (*requests)[0].Method)
}

// TestEnsureCollection_CreatesWhenMissing 集合不存在时走PUT创建，参数带维度和Cosine
func TestEnsureCollection_CreatesWhenMissing(t *testing.T) {
	server, requests := newQdrantTestServer(t, map[string]func(w http.ResponseWriter){
		"PUT /collections/test_collection": okJSON(`{"result":true}`),
	})
	defer server.Close()

	store := newTestStore(t, server.URL)
	err := store.EnsureCollection(context.Background(), 1024, false)

	require.NoError(t, err)
	require.Len(t, *requests, 2) // GET(404) + PUT
	put := (*requests)[1]
	assert.Equal(t, "PUT", put.Method)
	vectors := put.Body["vectors"].(map[string]interface{})
	assert.Equal(t, float64(1024), vectors["size"])
	assert.Equal(t, "Cosine", vectors["distance"])
}

// TestEnsureCollection_ForceRecreate 强制重建：GET -> DELETE -> PUT
func TestEnsureCollection_ForceRecreate(t *testing.T) {
	server, requests := newQdrantTestServer(t, map[string]func(w http.ResponseWriter){
		"GET /collections/test_collection":    okJSON(`{"result":{"status":"green"}}`),
		"DELETE /collections/test_collection": okJSON(`{"result":true}`),
		"PUT /collections/test_collection":    okJSON(`{"result":true}`),
	})
	defer server.Close()

	store := newTestStore(t, server.URL)
	err := store.EnsureCollection(context.Background(), 512, true)

	require.NoError(t, err)
	require.Len(t, *requests, 3)
	assert.Equal(t, "DELETE", (*requests)[1].Method)
	assert.Equal(t, "PUT", (*requests)[2].Method)
}

func TestEnsureCollection_InvalidVectorSize(t *testing.T) {
	store := newTestStore(t, "http://localhost:1")
	err := store.EnsureCollection(context.Background(), 0, false)
	assert.Error(t, err)
}

// TestUpsert_LengthMismatch 长度不一致在发请求之前就报错
func TestUpsert_LengthMismatch(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	store := newTestStore(t, server.URL)
	err := store.Upsert(context.Background(),
		[]TextbookChunk{{ChapterSlug: "a"}, {ChapterSlug: "b"}},
		[][]float32{{0.1}})

	assert.Error(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestUpsert_EmptyIsNoop(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	store := newTestStore(t, server.URL)
	err := store.Upsert(context.Background(), nil, nil)

	assert.NoError(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

// TestUpsert_PointsCarryPayload 每个点带唯一ID和完整payload
func TestUpsert_PointsCarryPayload(t *testing.T) {
	server, requests := newQdrantTestServer(t, map[string]func(w http.ResponseWriter){
		"PUT /collections/test_collection/points": okJSON(`{"result":{"status":"completed"}}`),
	})
	defer server.Close()

	store := newTestStore(t, server.URL)
	err := store.Upsert(context.Background(),
		[]TextbookChunk{
			{ChapterSlug: "ik", ModuleName: "Kinematics", ChunkIndex: 0, Content: "first"},
			{ChapterSlug: "ik", ModuleName: "Kinematics", ChunkIndex: 1, Content: "second"},
		},
		[][]float32{{0.1, 0.2}, {0.3, 0.4}})

	require.NoError(t, err)
	require.Len(t, *requests, 1)

	points := (*requests)[0].Body["points"].([]interface{})
	require.Len(t, points, 2)

	first := points[0].(map[string]interface{})
	second := points[1].(map[string]interface{})
	assert.NotEmpty(t, first["id"])
	assert.NotEqual(t, first["id"], second["id"])

	payload := first["payload"].(map[string]interface{})
	assert.Equal(t, "ik", payload["chapter_slug"])
	assert.Equal(t, "Kinematics", payload["module_name"])
	assert.Equal(t, float64(0), payload["chunk_index"])
	assert.Equal(t, "first", payload["content"])
}

func TestBuildFilter(t *testing.T) {
	assert.Nil(t, buildFilter("", ""))

	f := buildFilter("ch1", "")
	conditions := f["must"].([]map[string]interface{})
	require.Len(t, conditions, 1)
	assert.Equal(t, "chapter_slug", conditions[0]["key"])

	f = buildFilter("ch1", "Kinematics")
	conditions = f["must"].([]map[string]interface{})
	require.Len(t, conditions, 2)
	assert.Equal(t, "module_name", conditions[1]["key"])
}

// TestSearch_DecodesResults 检索结果解析，包含payload还原
func TestSearch_DecodesResults(t *testing.T) {
	server, requests := newQdrantTestServer(t, map[string]func(w http.ResponseWriter){
		"POST /collections/test_collection/points/search": okJSON(`{
			"result": [
				{"id": "p1", "score": 0.92, "payload": {"chapter_slug": "ik", "module_name": "Kinematics", "chunk_index": 3, "content": "jacobian"}},
				{"id": 42, "score": 0.71, "payload": {"chapter_slug": "fk", "module_name": "Kinematics", "chunk_index": 0, "content": "dh params"}}
			]
		}`),
	})
	defer server.Close()

	store := newTestStore(t, server.URL)
	results, err := store.Search(context.Background(), SearchQuery{
		Vector:      []float32{0.1, 0.2},
		Limit:       5,
		ChapterSlug: "ik",
	})

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "p1", results[0].ID)
	assert.Equal(t, 0.92, results[0].Score)
	assert.Equal(t, "jacobian", results[0].Payload.Content)
	assert.Equal(t, 3, results[0].Payload.ChunkIndex)
	assert.Equal(t, "42", results[1].ID) // 数字ID统一转字符串

	body := (*requests)[0].Body
	assert.Equal(t, true, body["with_payload"])
	assert.Equal(t, false, body["with_vectors"])
	assert.NotNil(t, body["filter"])
}

// TestSearch_EmptyVector 空向量直接返回nil，不发请求
func TestSearch_EmptyVector(t *testing.T) {
	store := newTestStore(t, "http://localhost:1")
	results, err := store.Search(context.Background(), SearchQuery{})
	assert.NoError(t, err)
	assert.Nil(t, results)
}

// TestSearch_ServerError 服务端错误以error返回（由调用方决定是否吸收）
func TestSearch_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"status":{"error":"out of memory"}}`))
	}))
	defer server.Close()

	store := newTestStore(t, server.URL)
	_, err := store.Search(context.Background(), SearchQuery{Vector: []float32{0.1}, Limit: 5})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "qdrant search failed")
}

// TestDeleteByChapter_TwoPhase 先scroll取ID，后按ID删除
func TestDeleteByChapter_TwoPhase(t *testing.T) {
	server, requests := newQdrantTestServer(t, map[string]func(w http.ResponseWriter){
		"POST /collections/test_collection/points/scroll": okJSON(`{
			"result": {"points": [{"id": "a"}, {"id": "b"}]}
		}`),
		"POST /collections/test_collection/points/delete": okJSON(`{"result":{"status":"completed"}}`),
	})
	defer server.Close()

	store := newTestStore(t, server.URL)
	err := store.DeleteByChapter(context.Background(), "ik")

	require.NoError(t, err)
	require.Len(t, *requests, 2)

	scroll := (*requests)[0]
	assert.Contains(t, scroll.Path, "/points/scroll")
	assert.NotNil(t, scroll.Body["filter"])

	del := (*requests)[1]
	assert.Contains(t, del.Path, "/points/delete")
	ids := del.Body["points"].([]interface{})
	assert.Equal(t, []interface{}{"a", "b"}, ids)
}

// TestDeleteByChapter_NoPoints 没有命中点时跳过删除阶段
func TestDeleteByChapter_NoPoints(t *testing.T) {
	server, requests := newQdrantTestServer(t, map[string]func(w http.ResponseWriter){
		"POST /collections/test_collection/points/scroll": okJSON(`{"result":{"points":[]}}`),
	})
	defer server.Close()

	store := newTestStore(t, server.URL)
	err := store.DeleteByChapter(context.Background(), "missing")

	require.NoError(t, err)
	require.Len(t, *requests, 1)
}

// TestDeleteByChapter_EmptySlug 空slug直接报错，不发任何请求：
// 没有这个守卫时scroll会不带过滤器命中整个集合
func TestDeleteByChapter_EmptySlug(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	store := newTestStore(t, server.URL)
	err := store.DeleteByChapter(context.Background(), "")

	assert.Error(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

// TestDoRequest_APIKeyHeader 配置了API Key时带api-key头
func TestDoRequest_APIKeyHeader(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("api-key")
		w.Write([]byte(`{"result":{"status":"green"}}`))
	}))
	defer server.Close()

	store, err := NewQdrantVectorStore(QdrantOptions{
		URL:        server.URL,
		APIKey:     "secret",
		Collection: "test_collection",
	})
	require.NoError(t, err)

	require.NoError(t, store.EnsureCollection(context.Background(), 8, false))
	assert.Equal(t, "secret", gotKey)
}
