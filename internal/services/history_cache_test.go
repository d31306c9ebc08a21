package services

import (
	"context"
	"testing"
	"time"

	"github.com/aitextbook/backend-go/internal/knowledge"
	"github.com/stretchr/testify/assert"
)

// TestHistoryCache_NilClient Redis未启用时所有操作降级为no-op
func TestHistoryCache_NilClient(t *testing.T) {
	cache := NewHistoryCache(nil, 10, time.Hour)
	ctx := context.Background()

	assert.Nil(t, cache.Recent(ctx, 1))

	// Append也不会panic
	assert.NotPanics(t, func() {
		cache.Append(ctx, 1,
			knowledge.Turn{Role: "user", Content: "q"},
			knowledge.Turn{Role: "assistant", Content: "a"},
		)
	})
}

// TestNewHistoryCache_Defaults 非法参数回退为默认窗口和TTL
func TestNewHistoryCache_Defaults(t *testing.T) {
	cache := NewHistoryCache(nil, 0, 0)
	assert.Equal(t, 10, cache.window)
	assert.Equal(t, 7*24*time.Hour, cache.ttl)

	cache = NewHistoryCache(nil, 4, time.Minute)
	assert.Equal(t, 4, cache.window)
	assert.Equal(t, time.Minute, cache.ttl)
}

func TestHistoryKey(t *testing.T) {
	assert.Equal(t, "chat:history:42", historyKey(42))
}
