package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/user/filmrec/internal/logging"
	"github.com/user/filmrec/internal/model"
)

// ReconcileMovies 对账用到的关系库操作
type ReconcileMovies interface {
	ListIDs(ctx context.Context) ([]int, error)
	ListIDsWithoutEmbedding(ctx context.Context) ([]int, error)
	FindByID(ctx context.Context, id int) (*model.Movie, error)
	DeleteByIDs(ctx context.Context, ids []int) (int64, error)
}

// ReconcileIndex 对账用到的向量索引操作
type ReconcileIndex interface {
	VectorWriter
	ListIDs(ctx context.Context) ([]int, error)
	Delete(ctx context.Context, ids []int) (int64, error)
}

// ReconcileReport 对账结果
type ReconcileReport struct {
	Relational int
	Indexed    int
	// 索引中存在但关系库中没有的 ID
	OrphanVectors []int
	// 关系库中存在、索引中缺失，但关系库保存了向量副本，可以重新写入索引
	Repairable []int
	// 关系库中存在、索引中缺失且没有向量副本，只能删除
	Unrecoverable []int
	Applied       bool
}

// ReconcileService 修复两个存储之间的不一致
type ReconcileService struct {
	movies    ReconcileMovies
	index     ReconcileIndex
	batchSize int
}

// NewReconcileService 创建对账服务
func NewReconcileService(movies ReconcileMovies, index ReconcileIndex, batchSize int) *ReconcileService {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ReconcileService{movies: movies, index: index, batchSize: batchSize}
}

// Reconcile 比较两个存储的 ID 集合，apply 为 false 时只报告不修改
func (s *ReconcileService) Reconcile(ctx context.Context, apply bool) (*ReconcileReport, error) {
	relIDs, err := s.movies.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取关系库 ID 失败: %w", err)
	}
	vecIDs, err := s.index.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取向量索引 ID 失败: %w", err)
	}
	bare, err := s.movies.ListIDsWithoutEmbedding(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取缺少向量的电影失败: %w", err)
	}

	report := &ReconcileReport{
		Relational:    len(relIDs),
		Indexed:       len(vecIDs),
		OrphanVectors: difference(vecIDs, relIDs),
	}
	bareSet := toIDSet(bare)
	for _, id := range difference(relIDs, vecIDs) {
		if _, ok := bareSet[id]; ok {
			report.Unrecoverable = append(report.Unrecoverable, id)
		} else {
			report.Repairable = append(report.Repairable, id)
		}
	}

	logging.Info().
		Int("relational", report.Relational).
		Int("indexed", report.Indexed).
		Int("orphan_vectors", len(report.OrphanVectors)).
		Int("repairable", len(report.Repairable)).
		Int("unrecoverable", len(report.Unrecoverable)).
		Bool("apply", apply).
		Msg("[Reconcile] 对账完成")

	if !apply {
		return report, nil
	}

	if _, err := s.index.Delete(ctx, report.OrphanVectors); err != nil {
		return report, fmt.Errorf("删除孤立向量失败: %w", err)
	}
	if err := s.repair(ctx, report.Repairable); err != nil {
		return report, err
	}
	if _, err := s.movies.DeleteByIDs(ctx, report.Unrecoverable); err != nil {
		return report, fmt.Errorf("删除缺少向量的电影失败: %w", err)
	}
	report.Applied = true
	return report, nil
}

// repair 用关系库中的向量副本重新写入索引
func (s *ReconcileService) repair(ctx context.Context, ids []int) error {
	batch := make([]model.VectorEntry, 0, s.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.index.Upsert(ctx, batch); err != nil {
			return fmt.Errorf("重新写入向量失败: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	for _, id := range ids {
		movie, err := s.movies.FindByID(ctx, id)
		if err != nil {
			return fmt.Errorf("读取电影 %d 失败: %w", id, err)
		}
		if movie == nil || movie.Embedding == nil {
			continue
		}
		batch = append(batch, model.VectorEntry{ID: movie.ID, Vector: movie.Embedding.Slice(), Title: movie.Title})
		if len(batch) >= s.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func toIDSet(ids []int) map[int]struct{} {
	set := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// difference 返回 a 中不在 b 中的 ID（升序）
func difference(a, b []int) []int {
	bs := toIDSet(b)
	var out []int
	for _, id := range a {
		if _, ok := bs[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}
