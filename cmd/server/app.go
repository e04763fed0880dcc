package main

import (
	"context"
	"fmt"

	"github.com/user/filmrec/internal/config"
	"github.com/user/filmrec/internal/logging"
	"github.com/user/filmrec/internal/model"
	"github.com/user/filmrec/internal/repository"
	"github.com/user/filmrec/internal/service"
	"gorm.io/gorm"
)

// app 进程内共享的依赖
type app struct {
	cfg   *config.Config
	dbs   []*gorm.DB
	repos *repository.Repositories

	catalog   *service.CatalogService
	recommend *service.RecommendationService
	ingest    *service.IngestService
	reconcile *service.ReconcileService
}

// newApp 连接两个存储、完成迁移并组装服务
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := repository.InitDB(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, dbs: []*gorm.DB{db}}

	vectorDB := db
	if cfg.VectorDatabaseURL != cfg.DatabaseURL {
		vectorDB, err = repository.InitDB(cfg.VectorDatabaseURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("向量库: %w", err)
		}
		a.dbs = append(a.dbs, vectorDB)
	}

	if err := repository.Migrate(db); err != nil {
		a.Close()
		return nil, err
	}

	repos := repository.NewRepositories(db, vectorDB, cfg.Vector.Collection)
	if err := repos.Vector.Ensure(ctx, cfg.Embedding.Dimension, cfg.Vector.HNSWM, cfg.Vector.EFConstruction); err != nil {
		a.Close()
		return nil, err
	}
	if err := repos.Certification.Seed(ctx, model.DefaultCertifications); err != nil {
		a.Close()
		return nil, fmt.Errorf("写入预置分级失败: %w", err)
	}
	a.repos = repos

	embedder, err := service.NewEmbedder(cfg.Embedding)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.catalog = service.NewCatalogService(repos.Movie, repos.Certification, repos.Genre)
	a.recommend = service.NewRecommendationService(repos.Movie, repos.Certification, repos.Vector, cfg.Recommend)
	a.ingest = service.NewIngestService(
		service.NewTMDBClient(cfg.TMDB),
		service.NewEligibilityFilter(cfg.Filter),
		embedder,
		service.NewIngestStore(repos),
		repos.Vector,
		cfg,
	)
	a.ingest.OnReset(a.recommend.InvalidateCache)
	a.reconcile = service.NewReconcileService(repos.Movie, repos.Vector, cfg.Vector.BatchSize)

	logging.Info().
		Str("collection", cfg.Vector.Collection).
		Str("embedding", cfg.Embedding.Provider).
		Int("dimension", cfg.Embedding.Dimension).
		Msg("[App] 初始化完成")
	return a, nil
}

// Close 关闭数据库连接
func (a *app) Close() {
	for _, db := range a.dbs {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
