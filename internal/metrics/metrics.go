package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProviderRequests TMDB 请求数，按接口和结果统计
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filmrec_provider_requests_total",
			Help: "Total number of metadata provider requests",
		},
		[]string{"endpoint", "outcome"}, // outcome: ok | status | error
	)

	// IngestSkipped 入库跳过数，按原因统计
	IngestSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filmrec_ingest_skipped_total",
			Help: "Total number of catalog items skipped during ingestion",
		},
		[]string{"reason"},
	)

	IngestWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filmrec_ingest_written_total",
			Help: "Total number of catalog items written to the relational store",
		},
	)

	VectorFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filmrec_vector_flushes_total",
			Help: "Total number of vector index batch flushes",
		},
		[]string{"outcome"},
	)

	EmbeddingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "filmrec_embedding_duration_seconds",
			Help:    "Duration of embedding backend calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// QueryDuration 在线查询耗时
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filmrec_query_duration_seconds",
			Help:    "Duration of serving queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"}, // catalog | recommend
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filmrec_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)
)
