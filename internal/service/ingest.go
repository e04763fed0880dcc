package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/user/filmrec/internal/config"
	"github.com/user/filmrec/internal/logging"
	"github.com/user/filmrec/internal/metrics"
	"github.com/user/filmrec/internal/model"
	"golang.org/x/sync/errgroup"
)

// CatalogProvider 元数据提供方
type CatalogProvider interface {
	FetchGenres(ctx context.Context) (map[int]string, error)
	FetchPages(ctx context.Context, start, end int, genres map[int]string) []model.CatalogItem
	FetchCertifications(ctx context.Context, ids []int) map[int]string
	FetchDetails(ctx context.Context, ids []int) map[int]model.ItemDetails
}

// IngestStore 入库任务使用的关系库操作
type IngestStore interface {
	ListIDs(ctx context.Context) ([]int, error)
	Begin(ctx context.Context) (WriteSession, error)
	ClearCatalog(ctx context.Context) error
	SeedCertifications(ctx context.Context) error
}

// VectorStore 入库任务使用的向量索引操作
type VectorStore interface {
	VectorWriter
	Recreate(ctx context.Context, dimension, m, efConstruction int) error
}

// RunSummary 一次入库任务的统计
type RunSummary struct {
	Fetched  int
	Eligible int
	Skipped  map[SkipReason]int
	WriterStats
	Duration time.Duration
}

func (s *RunSummary) skip(reason SkipReason) {
	s.Skipped[reason]++
	metrics.IngestSkipped.WithLabelValues(string(reason)).Inc()
}

// IngestService 抓取 -> 过滤 -> 向量化 -> 双写
type IngestService struct {
	provider CatalogProvider
	filter   *EligibilityFilter
	embedder Embedder
	store    IngestStore
	vectors  VectorStore

	embedCfg  config.EmbeddingConfig
	vectorCfg config.VectorConfig
	ingestCfg config.IngestConfig

	// 同一进程内只允许一个入库或重置任务
	running sync.Mutex

	resetHooks []func()
}

// NewIngestService 创建入库服务
func NewIngestService(provider CatalogProvider, filter *EligibilityFilter, embedder Embedder,
	store IngestStore, vectors VectorStore, cfg *config.Config) *IngestService {
	return &IngestService{
		provider:  provider,
		filter:    filter,
		embedder:  embedder,
		store:     store,
		vectors:   vectors,
		embedCfg:  cfg.Embedding,
		vectorCfg: cfg.Vector,
		ingestCfg: cfg.Ingest,
	}
}

// OnReset 注册重置完成后的回调（例如清空推荐缓存）
func (s *IngestService) OnReset(fn func()) {
	s.resetHooks = append(s.resetHooks, fn)
}

// Run 入库 [start, end] 页，已入库的 ID 会被跳过，因此可以重复执行
func (s *IngestService) Run(ctx context.Context, start, end int) (*RunSummary, error) {
	if start < 1 || end < start {
		return nil, fmt.Errorf("%w: 页码范围 %d-%d", ErrInvalidArgument, start, end)
	}
	s.running.Lock()
	defer s.running.Unlock()

	began := time.Now()
	summary := &RunSummary{Skipped: make(map[SkipReason]int)}

	genres, err := s.provider.FetchGenres(ctx)
	if err != nil {
		return nil, err
	}

	items := s.provider.FetchPages(ctx, start, end, genres)
	summary.Fetched = len(items)
	logging.Info().Int("start", start).Int("end", end).Int("items", len(items)).Msg("[Ingest] 列表抓取完成")

	committed, err := s.store.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取已入库 ID 失败: %w", err)
	}
	seen := make(map[int]struct{}, len(committed)+len(items))
	for _, id := range committed {
		seen[id] = struct{}{}
	}

	candidates := make([]model.CatalogItem, 0, len(items))
	for _, item := range items {
		if _, dup := seen[item.ID]; dup {
			summary.skip(SkipDuplicate)
			continue
		}
		seen[item.ID] = struct{}{}

		if reason := s.filter.PreCheck(&item); reason != SkipNone {
			summary.skip(reason)
			continue
		}
		candidates = append(candidates, item)
	}

	certs := s.provider.FetchCertifications(ctx, itemIDs(candidates))

	eligible := make([]model.CatalogItem, 0, len(candidates))
	for _, item := range candidates {
		if reason := s.filter.Check(&item, certs[item.ID]); reason != SkipNone {
			summary.skip(reason)
			continue
		}
		eligible = append(eligible, item)
	}
	summary.Eligible = len(eligible)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	details := s.provider.FetchDetails(ctx, itemIDs(eligible))
	vectors := s.embedAll(ctx, eligible, details)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	writer := NewDualStoreWriter(s.store.Begin, s.vectors, s.ingestCfg.CommitMode, s.vectorCfg.BatchSize, s.embedCfg.Dimension)
	for i := range eligible {
		item := &eligible[i]
		if vectors[i] == nil {
			summary.skip(SkipEmbedding)
			continue
		}
		if err := ctx.Err(); err != nil {
			if abortErr := writer.Abort(context.WithoutCancel(ctx)); abortErr != nil {
				logging.Error().Err(abortErr).Msg("[Ingest] 放弃写入失败")
			}
			return nil, err
		}
		if _, err := writer.Write(ctx, item, certs[item.ID], vectors[i]); err != nil {
			logging.Warn().Int("id", item.ID).Err(err).Msg("[Ingest] 写入失败")
		}
	}
	if err := writer.Close(ctx); err != nil {
		return nil, err
	}

	summary.WriterStats = writer.Stats()
	summary.Skipped[SkipWrite] += summary.Failed
	summary.Duration = time.Since(began)

	logging.Info().
		Int("fetched", summary.Fetched).
		Int("eligible", summary.Eligible).
		Int("written", summary.Written).
		Int("existing", summary.Existing).
		Int("failed", summary.Failed).
		Int("vectors", summary.Flushed).
		Interface("skipped", summary.Skipped).
		Dur("duration", summary.Duration).
		Msg("[Ingest] 入库完成")
	return summary, nil
}

// embedAll 并发生成向量，结果按输入下标存放，失败的位置为 nil
func (s *IngestService) embedAll(ctx context.Context, items []model.CatalogItem, details map[int]model.ItemDetails) [][]float32 {
	generator := NewEmbeddingGenerator(s.embedder, s.embedCfg)
	vectors := make([][]float32, len(items))

	limit := s.embedCfg.Concurrency
	if limit <= 0 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i := range items {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			item := &items[i]
			var d *model.ItemDetails
			if v, ok := details[item.ID]; ok {
				d = &v
			}
			text := BuildEmbeddingText(item, d, s.ingestCfg.WithCompanies)

			vector, err := generator.Generate(ctx, item.ID, text)
			if err != nil {
				if !errors.Is(err, ErrAlreadyEmbedded) {
					logging.Debug().Int("id", item.ID).Err(err).Msg("[Ingest] 生成向量失败")
				}
				return nil
			}
			vectors[i] = vector
			return nil
		})
	}
	_ = g.Wait()
	return vectors
}

// Reset 重建向量集合并清空关系库，然后重新写入预置分级
func (s *IngestService) Reset(ctx context.Context) error {
	s.running.Lock()
	defer s.running.Unlock()

	if err := s.vectors.Recreate(ctx, s.embedCfg.Dimension, s.vectorCfg.HNSWM, s.vectorCfg.EFConstruction); err != nil {
		return err
	}
	if err := s.store.ClearCatalog(ctx); err != nil {
		return err
	}
	if err := s.store.SeedCertifications(ctx); err != nil {
		return fmt.Errorf("写入预置分级失败: %w", err)
	}
	for _, fn := range s.resetHooks {
		fn()
	}
	logging.Info().Str("collection", s.vectorCfg.Collection).Msg("[Ingest] 数据已重置")
	return nil
}

func itemIDs(items []model.CatalogItem) []int {
	ids := make([]int, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}
