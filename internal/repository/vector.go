package repository

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/user/filmrec/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// vectorRow 向量索引表的行，只带最小的展示字段
type vectorRow struct {
	ID        int             `gorm:"primaryKey;autoIncrement:false"`
	Title     string          `gorm:"not null"`
	Embedding pgvector.Vector `gorm:"not null"`
}

type scoredRow struct {
	ID    int
	Title string
	Score float64
}

// VectorRepository 基于 pgvector 的向量索引（余弦相似度）
type VectorRepository struct {
	db         *gorm.DB
	collection string
}

// NewVectorRepository 创建向量索引仓库，collection 为表名，需在配置中校验
func NewVectorRepository(db *gorm.DB, collection string) *VectorRepository {
	return &VectorRepository{db: db, collection: collection}
}

// Recreate 删除并重建向量集合
func (r *VectorRepository) Recreate(ctx context.Context, dimension, m, efConstruction int) error {
	db := r.db.WithContext(ctx)
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("启用 pgvector 扩展失败: %w", err)
	}
	if err := db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", r.collection)).Error; err != nil {
		return fmt.Errorf("删除向量集合失败: %w", err)
	}
	return r.create(db, dimension, m, efConstruction)
}

// Ensure 集合不存在时创建
func (r *VectorRepository) Ensure(ctx context.Context, dimension, m, efConstruction int) error {
	db := r.db.WithContext(ctx)
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("启用 pgvector 扩展失败: %w", err)
	}
	if db.Migrator().HasTable(r.collection) {
		return nil
	}
	return r.create(db, dimension, m, efConstruction)
}

func (r *VectorRepository) create(db *gorm.DB, dimension, m, efConstruction int) error {
	ddl := fmt.Sprintf(
		"CREATE TABLE %s (id bigint PRIMARY KEY, title text NOT NULL, embedding vector(%d) NOT NULL)",
		r.collection, dimension)
	if err := db.Exec(ddl).Error; err != nil {
		return fmt.Errorf("创建向量集合失败: %w", err)
	}
	idx := fmt.Sprintf(
		"CREATE INDEX %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops) WITH (m = %d, ef_construction = %d)",
		r.collection, r.collection, m, efConstruction)
	if err := db.Exec(idx).Error; err != nil {
		return fmt.Errorf("创建向量索引失败: %w", err)
	}
	return nil
}

// Upsert 批量写入向量记录，同一 ID 覆盖
func (r *VectorRepository) Upsert(ctx context.Context, entries []model.VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]vectorRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, vectorRow{ID: e.ID, Title: e.Title, Embedding: pgvector.NewVector(e.Vector)})
	}
	return r.db.WithContext(ctx).Table(r.collection).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "embedding"}),
		}).
		Create(&rows).Error
}

// defaultEFSearch pgvector 的 hnsw.ef_search 默认值，HNSW 检索最多返回这么多行
const defaultEFSearch = 40

// efSearch 候选列表至少要能容纳 limit 行
func efSearch(limit int) int {
	if limit > defaultEFSearch {
		return limit
	}
	return defaultEFSearch
}

// Search 查询最近邻，按相似度降序返回
func (r *VectorRepository) Search(ctx context.Context, vector []float32, limit int) ([]model.ScoredID, error) {
	v := pgvector.NewVector(vector)
	var rows []scoredRow
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// SET LOCAL 只在当前事务内生效
		if err := tx.Exec(fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", efSearch(limit))).Error; err != nil {
			return fmt.Errorf("设置 ef_search 失败: %w", err)
		}
		return r.searchQuery(tx, v, limit).Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	result := make([]model.ScoredID, 0, len(rows))
	for _, row := range rows {
		result = append(result, model.ScoredID{ID: row.ID, Score: row.Score, Title: row.Title})
	}
	return result, nil
}

func (r *VectorRepository) searchQuery(db *gorm.DB, v pgvector.Vector, limit int) *gorm.DB {
	return db.Table(r.collection).
		Select("id, title, 1 - (embedding <=> ?) AS score", v).
		Order(clause.Expr{SQL: "embedding <=> ?", Vars: []interface{}{v}}).
		Limit(limit)
}

// ListIDs 返回索引中的全部 ID
func (r *VectorRepository) ListIDs(ctx context.Context) ([]int, error) {
	var ids []int
	err := r.db.WithContext(ctx).Table(r.collection).Pluck("id", &ids).Error
	return ids, err
}

// Delete 删除指定 ID 的向量
func (r *VectorRepository) Delete(ctx context.Context, ids []int) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Table(r.collection).Where("id IN ?", ids).Delete(&vectorRow{})
	return res.RowsAffected, res.Error
}
