package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/user/filmrec/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB 初始化数据库连接
func InitDB(databaseURL string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("无法连接数据库: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取连接池失败: %w", err)
	}

	// 测试连接
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("数据库 ping 失败: %w", err)
	}

	// 设置连接池
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	return db, nil
}

// Migrate 建表（需要 pgvector 扩展存放电影向量副本）
func Migrate(db *gorm.DB) error {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("启用 pgvector 扩展失败: %w", err)
	}
	if err := db.AutoMigrate(&model.Certification{}, &model.Genre{}, &model.Movie{}); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	return nil
}

// Repositories 仓库集合
type Repositories struct {
	DB            *gorm.DB
	Movie         *MovieRepository
	Genre         *GenreRepository
	Certification *CertificationRepository
	Vector        *VectorRepository
}

// NewRepositories 创建仓库集合，向量索引可以使用独立的数据库
func NewRepositories(db, vectorDB *gorm.DB, collection string) *Repositories {
	return &Repositories{
		DB:            db,
		Movie:         NewMovieRepository(db),
		Genre:         NewGenreRepository(db),
		Certification: NewCertificationRepository(db),
		Vector:        NewVectorRepository(vectorDB, collection),
	}
}

// ClearCatalog 按照子表到父表的顺序清空关系库
func (r *Repositories) ClearCatalog(ctx context.Context) error {
	for _, table := range []string{"movie_genre", "movies", "genres", "certifications"} {
		if err := r.DB.WithContext(ctx).Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("清空表 %s 失败: %w", table, err)
		}
	}
	return nil
}
