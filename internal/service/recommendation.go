package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/user/filmrec/internal/config"
	"github.com/user/filmrec/internal/logging"
	"github.com/user/filmrec/internal/metrics"
	"github.com/user/filmrec/internal/model"
	"github.com/user/filmrec/internal/utils"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// VectorSearcher 向量近邻检索
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, limit int) ([]model.ScoredID, error)
}

// RecommendationService 相似电影推荐
type RecommendationService struct {
	movies MovieReader
	certs  CertificationReader
	index  VectorSearcher
	cfg    config.RecommendConfig

	cache *utils.SearchCache[*model.RecommendationResult]
	group singleflight.Group
}

// NewRecommendationService 创建推荐服务
func NewRecommendationService(movies MovieReader, certs CertificationReader, index VectorSearcher, cfg config.RecommendConfig) *RecommendationService {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if cfg.MaxLimit < cfg.DefaultLimit {
		cfg.MaxLimit = cfg.DefaultLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &RecommendationService{
		movies: movies,
		certs:  certs,
		index:  index,
		cfg:    cfg,
		cache:  utils.NewSearchCache[*model.RecommendationResult](cfg.CacheSize, cfg.CacheTTL),
	}
}

// Recommend 返回与指定电影相似的电影；limit 为 0 时使用默认值，ceiling 为空表示不限制分级
func (s *RecommendationService) Recommend(ctx context.Context, id, limit int, ceiling string) (*model.RecommendationResult, error) {
	start := time.Now()
	defer func() {
		metrics.QueryDuration.WithLabelValues("recommend").Observe(time.Since(start).Seconds())
	}()

	if id <= 0 {
		return nil, fmt.Errorf("%w: 电影ID %d", ErrInvalidArgument, id)
	}
	if limit == 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit < 0 || limit > s.cfg.MaxLimit {
		return nil, fmt.Errorf("%w: limit 必须在 1-%d 之间", ErrInvalidArgument, s.cfg.MaxLimit)
	}
	ceiling = strings.TrimSpace(ceiling)

	key := fmt.Sprintf("%d:%d:%s", id, limit, ceiling)
	if cached, ok := s.cache.Get(key); ok {
		metrics.CacheHits.WithLabelValues("recommend").Inc()
		return cached, nil
	}

	// 共享的查询不随某一个调用方取消，每个调用方只等待自己的 ctx
	fillCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		result, err := s.recommend(fillCtx, id, limit, ceiling)
		if err != nil {
			return nil, err
		}
		s.cache.Set(key, result)
		return result, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.RecommendationResult), nil
	}
}

func (s *RecommendationService) recommend(ctx context.Context, id, limit int, ceiling string) (*model.RecommendationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	maxAge, err := resolveCeiling(ctx, s.certs, ceiling)
	if err != nil {
		return nil, err
	}

	source, err := s.movies.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("查询电影失败: %w", err)
	}
	if source == nil || source.Embedding == nil || len(source.Embedding.Slice()) == 0 {
		return nil, fmt.Errorf("%w: 电影 %d", ErrNotFound, id)
	}

	candidates, err := s.index.Search(ctx, source.Embedding.Slice(), limit+s.cfg.OverfetchLimit)
	if err != nil {
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}
	candidates = SelectCandidates(candidates, id, s.cfg.Threshold, limit)

	return &model.RecommendationResult{
		SearchedMovie: source.ToDetails(),
		Results:       s.hydrate(ctx, candidates, maxAge),
	}, nil
}

// SelectCandidates 去掉自身和分数不高于阈值的候选，保持索引顺序截取前 limit 个
func SelectCandidates(candidates []model.ScoredID, selfID int, threshold float64, limit int) []model.ScoredID {
	selected := make([]model.ScoredID, 0, limit)
	for _, c := range candidates {
		if len(selected) >= limit {
			break
		}
		if c.ID == selfID || c.Score <= threshold {
			continue
		}
		selected = append(selected, c)
	}
	return selected
}

// hydrate 并发加载候选电影，顺序保持不变；加载失败或超出分级上限的候选直接丢弃
func (s *RecommendationService) hydrate(ctx context.Context, candidates []model.ScoredID, maxAge *int) []model.Recommendation {
	slots := make([]*model.Recommendation, len(candidates))

	var g errgroup.Group
	for i, c := range candidates {
		g.Go(func() error {
			movie, err := s.movies.FindSummary(ctx, c.ID, maxAge)
			if err != nil {
				logging.Debug().Int("id", c.ID).Err(err).Msg("[Recommend] 加载候选失败")
				return nil
			}
			if movie == nil {
				logging.Debug().Int("id", c.ID).Msg("[Recommend] 候选不存在或超出分级上限")
				return nil
			}
			slots[i] = &model.Recommendation{Movie: movie.ToSummary(), SimilarityScore: c.Score}
			return nil
		})
	}
	_ = g.Wait()

	results := make([]model.Recommendation, 0, len(slots))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	return results
}

// InvalidateCache 清空推荐缓存
func (s *RecommendationService) InvalidateCache() {
	s.cache.Clear()
}
