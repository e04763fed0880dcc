package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/patrickmn/go-cache"
	"github.com/pgvector/pgvector-go"
	"github.com/user/filmrec/internal/logging"
	"github.com/user/filmrec/internal/metrics"
	"github.com/user/filmrec/internal/model"
)

const (
	CommitRun  = "run"
	CommitItem = "item"

	itemSavepoint = "ingest_item"
)

// WriteSession 关系库写入事务
type WriteSession interface {
	FirstOrCreateGenre(ctx context.Context, name string) (*model.Genre, error)
	FindCertification(ctx context.Context, code string) (*model.Certification, error)
	CreateMovie(ctx context.Context, movie *model.Movie) (bool, error)
	Savepoint(name string) error
	RollbackTo(name string) error
	Release(name string) error
	Commit() error
	Rollback() error
}

// SessionOpener 开启写入事务
type SessionOpener func(ctx context.Context) (WriteSession, error)

// VectorWriter 向量索引批量写入
type VectorWriter interface {
	Upsert(ctx context.Context, entries []model.VectorEntry) error
}

// WriterStats 写入统计
type WriterStats struct {
	Written  int
	Existing int
	Failed   int
	Flushed  int
}

// DualStoreWriter 同时写入关系库和向量索引
// 所有方法在同一把锁下串行执行；向量按写入顺序攒批，达到批大小后一次性写入索引
type DualStoreWriter struct {
	mu sync.Mutex

	open      SessionOpener
	index     VectorWriter
	mode      string
	batchSize int
	dimension int

	genres  *cache.Cache // 类型名称 -> ID
	session WriteSession // run 模式下整个任务共用
	batch   []model.VectorEntry
	stats   WriterStats
}

// NewDualStoreWriter 创建写入器
func NewDualStoreWriter(open SessionOpener, index VectorWriter, mode string, batchSize, dimension int) *DualStoreWriter {
	if batchSize <= 0 {
		batchSize = 100
	}
	if mode != CommitItem {
		mode = CommitRun
	}
	return &DualStoreWriter{
		open:      open,
		index:     index,
		mode:      mode,
		batchSize: batchSize,
		dimension: dimension,
		genres:    cache.New(cache.NoExpiration, 0),
	}
}

// Write 写入一个条目，返回是否新写入（ID 已存在时返回 false）
// 关系库写入失败的条目不会进入向量批次
func (w *DualStoreWriter) Write(ctx context.Context, item *model.CatalogItem, certCode string, vector []float32) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.dimension > 0 && len(vector) != w.dimension {
		w.stats.Failed++
		return false, fmt.Errorf("向量维度不符: 期望 %d, 实际 %d", w.dimension, len(vector))
	}

	written, err := w.writeRelational(ctx, item, certCode, vector)
	if err != nil {
		w.stats.Failed++
		return false, err
	}
	if !written {
		w.stats.Existing++
		return false, nil
	}

	w.stats.Written++
	metrics.IngestWritten.Inc()
	w.batch = append(w.batch, model.VectorEntry{ID: item.ID, Vector: vector, Title: item.Title})
	if len(w.batch) >= w.batchSize {
		if err := w.flush(ctx); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (w *DualStoreWriter) writeRelational(ctx context.Context, item *model.CatalogItem, certCode string, vector []float32) (bool, error) {
	if w.mode == CommitItem {
		sess, err := w.open(ctx)
		if err != nil {
			return false, err
		}
		written, fresh, err := w.insert(ctx, sess, item, certCode, vector)
		if err != nil {
			_ = sess.Rollback()
			return false, err
		}
		if err := sess.Commit(); err != nil {
			return false, fmt.Errorf("提交事务失败: %w", err)
		}
		w.rememberGenres(fresh)
		return written, nil
	}

	if w.session == nil {
		sess, err := w.open(ctx)
		if err != nil {
			return false, err
		}
		w.session = sess
	}

	if err := w.session.Savepoint(itemSavepoint); err != nil {
		return false, fmt.Errorf("创建保存点失败: %w", err)
	}
	written, fresh, err := w.insert(ctx, w.session, item, certCode, vector)
	if err != nil {
		if rbErr := w.session.RollbackTo(itemSavepoint); rbErr != nil {
			return false, errors.Join(err, fmt.Errorf("回滚保存点失败: %w", rbErr))
		}
		return false, err
	}
	if err := w.session.Release(itemSavepoint); err != nil {
		return false, fmt.Errorf("释放保存点失败: %w", err)
	}
	// 保存点成功后类型才真正存在于事务中
	w.rememberGenres(fresh)
	return written, nil
}

// insert 解析类型和分级后写入电影，fresh 为本次新查到的类型 ID
func (w *DualStoreWriter) insert(ctx context.Context, sess WriteSession, item *model.CatalogItem, certCode string, vector []float32) (bool, map[string]uint, error) {
	cert, err := sess.FindCertification(ctx, certCode)
	if err != nil {
		return false, nil, fmt.Errorf("查询分级失败: %w", err)
	}
	if cert == nil {
		return false, nil, fmt.Errorf("分级不存在: %s", certCode)
	}

	fresh := make(map[string]uint)
	seen := make(map[string]struct{}, len(item.Genres))
	genres := make([]model.Genre, 0, len(item.Genres))
	for _, name := range item.Genres {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		if id, ok := w.genres.Get(name); ok {
			genres = append(genres, model.Genre{ID: id.(uint), Name: name})
			continue
		}
		genre, err := sess.FirstOrCreateGenre(ctx, name)
		if err != nil {
			return false, nil, fmt.Errorf("写入类型 %s 失败: %w", name, err)
		}
		fresh[name] = genre.ID
		genres = append(genres, *genre)
	}

	embedding := pgvector.NewVector(vector)
	movie := &model.Movie{
		ID:              item.ID,
		Title:           item.Title,
		Overview:        item.Overview,
		ReleaseDate:     item.ParsedReleaseDate(),
		Popularity:      item.Popularity,
		VoteAverage:     item.VoteAverage,
		VoteCount:       item.VoteCount,
		PosterPath:      item.PosterPath,
		BackdropPath:    item.BackdropPath,
		CertificationID: &cert.ID,
		Genres:          genres,
		Embedding:       &embedding,
	}
	written, err := sess.CreateMovie(ctx, movie)
	if err != nil {
		return false, nil, fmt.Errorf("写入电影 %d 失败: %w", item.ID, err)
	}
	return written, fresh, nil
}

func (w *DualStoreWriter) rememberGenres(fresh map[string]uint) {
	for name, id := range fresh {
		w.genres.Set(name, id, cache.NoExpiration)
	}
}

// flush 写入当前批次，失败的批次会被丢弃并记录，由 reconcile 修复
func (w *DualStoreWriter) flush(ctx context.Context) error {
	if len(w.batch) == 0 {
		return nil
	}
	batch := w.batch
	w.batch = nil

	if err := w.index.Upsert(ctx, batch); err != nil {
		metrics.VectorFlushes.WithLabelValues("error").Inc()
		logging.Error().Err(err).Int("size", len(batch)).Msg("[Writer] 向量批量写入失败")
		return fmt.Errorf("向量批量写入失败: %w", err)
	}
	metrics.VectorFlushes.WithLabelValues("ok").Inc()
	w.stats.Flushed += len(batch)
	logging.Debug().Int("size", len(batch)).Msg("[Writer] 向量批量写入完成")
	return nil
}

// Close 写入剩余向量并提交 run 模式下的事务
func (w *DualStoreWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	flushErr := w.flush(ctx)

	var commitErr error
	if w.session != nil {
		if err := w.session.Commit(); err != nil {
			commitErr = fmt.Errorf("提交事务失败: %w", err)
			w.genres.Flush()
		}
		w.session = nil
	}
	return errors.Join(flushErr, commitErr)
}

// Abort 放弃 run 模式下未提交的写入；item 模式下已提交的条目仍然写入向量索引
// run 模式中已经写入索引的向量由 reconcile 清理
func (w *DualStoreWriter) Abort(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.mode == CommitItem {
		return w.flush(ctx)
	}

	w.batch = nil
	if w.session == nil {
		return nil
	}
	err := w.session.Rollback()
	w.session = nil
	w.genres.Flush()
	return err
}

// Stats 返回写入统计
func (w *DualStoreWriter) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}
