package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 问答管线指标。所有被兜底吞掉的故障都要在这里可见，
// 终端用户只看到固定回复，运维通过指标发现供应商故障。
var (
	// EmbeddingFallbacks 向量化降级次数（按原因：not_ready / api_error）
	EmbeddingFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbot_embedding_fallbacks_total",
			Help: "Total number of embedding calls that returned the fallback vector",
		},
		[]string{"provider", "reason"},
	)

	// GenerationFallbacks 生成降级次数
	GenerationFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbot_generation_fallbacks_total",
			Help: "Total number of generation calls that returned the templated fallback text",
		},
		[]string{"provider", "reason"},
	)

	// SearchFailures 向量检索失败次数（被吸收为空结果）
	SearchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbot_search_failures_total",
			Help: "Total number of vector searches that failed and were absorbed as empty results",
		},
		[]string{"store"},
	)

	// Answers 按出口分支统计的回答次数
	// branch: normal | no_context | embedding_failure | pipeline_error
	Answers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbot_answers_total",
			Help: "Total number of answers produced, by pipeline exit branch",
		},
		[]string{"branch"},
	)
)

// Handler 返回Prometheus指标的HTTP处理器
func Handler() http.Handler {
	return promhttp.Handler()
}
