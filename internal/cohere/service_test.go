package cohere

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewService_EmptyKey(t *testing.T) {
	assert.Nil(t, NewService(""))
	assert.Nil(t, NewService("   "))

	var nilService *Service
	assert.False(t, nilService.Ready())
	assert.True(t, NewService("key").Ready())
}

func TestEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embed", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req EmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"hello"}, req.Texts)
		assert.Equal(t, "search_query", req.InputType)

		w.Write([]byte(`{"id":"e1","embeddings":[[0.1,0.2]]}`))
	}))
	defer server.Close()

	svc := NewService("test-key")
	svc.SetBaseURL(server.URL)

	resp, err := svc.Embed(context.Background(), EmbedRequest{
		Texts:     []string{"hello"},
		Model:     "embed-multilingual-v3.0",
		InputType: "search_query",
	})

	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 1)
	assert.Equal(t, []float64{0.1, 0.2}, resp.Embeddings[0])
}

// TestEmbed_EmptyResponse 空embeddings按错误处理
func TestEmbed_EmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"e1","embeddings":[]}`))
	}))
	defer server.Close()

	svc := NewService("test-key")
	svc.SetBaseURL(server.URL)

	_, err := svc.Embed(context.Background(), EmbedRequest{Texts: []string{"hello"}})
	assert.Error(t, err)
}

func TestChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat", r.URL.Path)
		w.Write([]byte(`{"text":"an answer","generation_id":"g1","finish_reason":"COMPLETE"}`))
	}))
	defer server.Close()

	svc := NewService("test-key")
	svc.SetBaseURL(server.URL)

	resp, err := svc.Chat(context.Background(), ChatRequest{Message: "hi", Model: "command-r"})
	require.NoError(t, err)
	assert.Equal(t, "an answer", resp.Text)
}

// TestPost_APIError 非200响应解析message字段进错误信息
func TestPost_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"invalid api token"}`))
	}))
	defer server.Close()

	svc := NewService("bad-key")
	svc.SetBaseURL(server.URL)

	_, err := svc.Chat(context.Background(), ChatRequest{Message: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api token")
	assert.Contains(t, err.Error(), "401")
}

func TestPost_NilService(t *testing.T) {
	var svc *Service
	_, err := svc.Embed(context.Background(), EmbedRequest{Texts: []string{"x"}})
	assert.Error(t, err)
}
