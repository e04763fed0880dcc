package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/user/filmrec/internal/config"
	"github.com/user/filmrec/internal/logging"
	"github.com/user/filmrec/internal/metrics"
	"github.com/user/filmrec/internal/model"
	"github.com/user/filmrec/internal/utils"
)

// Embedder 向量生成后端
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NewEmbedder 根据配置选择向量后端
func NewEmbedder(cfg config.EmbeddingConfig) (Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "ollama":
		return utils.NewOllamaEmbedder(cfg.OllamaHost, cfg.OllamaModel, cfg.Timeout), nil
	case "openai":
		embedder, err := utils.NewOpenAIEmbedder(cfg.OpenAIKey, cfg.OpenAIURL, cfg.OpenAIModel, cfg.Dimension)
		if err != nil {
			return nil, err
		}
		return embedder, nil
	default:
		return nil, fmt.Errorf("未知的向量后端: %s", cfg.Provider)
	}
}

// EmbeddingGenerator 生成条目向量，同一次运行中每个 ID 只生成一次
type EmbeddingGenerator struct {
	backend   Embedder
	breaker   *gobreaker.CircuitBreaker[[]float32]
	dimension int
	timeout   time.Duration

	mu   sync.Mutex
	seen map[int]struct{}
}

// NewEmbeddingGenerator 创建向量生成器，后端连续失败达到阈值后熔断
func NewEmbeddingGenerator(backend Embedder, cfg config.EmbeddingConfig) *EmbeddingGenerator {
	trips := uint32(cfg.BreakerTrips)
	if cfg.BreakerTrips <= 0 {
		trips = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	openFor := cfg.BreakerOpen
	if openFor <= 0 {
		openFor = time.Minute
	}

	breaker := gobreaker.NewCircuitBreaker[[]float32](gobreaker.Settings{
		Name:    "embedding",
		Timeout: openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trips
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("[Embedding] 熔断器状态变化")
		},
	})

	return &EmbeddingGenerator{
		backend:   backend,
		breaker:   breaker,
		dimension: cfg.Dimension,
		timeout:   timeout,
		seen:      make(map[int]struct{}),
	}
}

// Generate 为指定 ID 生成向量；已生成过的 ID 返回 ErrAlreadyEmbedded，失败的 ID 不会被记住
func (g *EmbeddingGenerator) Generate(ctx context.Context, id int, text string) ([]float32, error) {
	g.mu.Lock()
	if _, ok := g.seen[id]; ok {
		g.mu.Unlock()
		return nil, ErrAlreadyEmbedded
	}
	g.seen[id] = struct{}{}
	g.mu.Unlock()

	vector, err := g.embed(ctx, text)
	if err != nil {
		g.mu.Lock()
		delete(g.seen, id)
		g.mu.Unlock()
		return nil, err
	}
	return vector, nil
}

func (g *EmbeddingGenerator) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	vector, err := g.breaker.Execute(func() ([]float32, error) {
		return g.backend.Embed(ctx, text)
	})
	metrics.EmbeddingDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("生成向量失败: %w", err)
	}

	if len(vector) == 0 {
		return nil, fmt.Errorf("向量为空")
	}
	if g.dimension > 0 && len(vector) != g.dimension {
		return nil, fmt.Errorf("向量维度不符: 期望 %d, 实际 %d", g.dimension, len(vector))
	}
	return vector, nil
}

// BuildEmbeddingText 拼接向量文本：标题. 简介. 类型. 出品公司
// 空字段保留以固定字段顺序；details 为空时使用列表中的类型且不包含出品公司
func BuildEmbeddingText(item *model.CatalogItem, details *model.ItemDetails, withCompanies bool) string {
	genres := item.Genres
	if details != nil && len(details.Genres) > 0 {
		genres = details.Genres
	}

	parts := []string{item.Title, item.Overview, strings.Join(genres, ", ")}
	if withCompanies && details != nil {
		parts = append(parts, strings.Join(details.Companies, ", "))
	}
	return strings.Join(parts, ". ")
}
