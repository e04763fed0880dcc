package repository

import (
	"context"

	"github.com/user/filmrec/internal/model"
	"gorm.io/gorm"
)

// GenreRepository 类型仓库
type GenreRepository struct {
	db *gorm.DB
}

// NewGenreRepository 创建类型仓库
func NewGenreRepository(db *gorm.DB) *GenreRepository {
	return &GenreRepository{db: db}
}

// WithDB 返回绑定到指定连接的仓库
func (r *GenreRepository) WithDB(db *gorm.DB) *GenreRepository {
	return &GenreRepository{db: db}
}

// FirstOrCreate 按名称查找类型，不存在则创建
func (r *GenreRepository) FirstOrCreate(ctx context.Context, name string) (*model.Genre, error) {
	genre := model.Genre{Name: name}
	err := r.db.WithContext(ctx).Where("name = ?", name).FirstOrCreate(&genre).Error
	if err != nil {
		return nil, err
	}
	return &genre, nil
}

// ListNames 获取所有类型名称
func (r *GenreRepository) ListNames(ctx context.Context) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).Model(&model.Genre{}).Order("name ASC").Pluck("name", &names).Error
	return names, err
}
