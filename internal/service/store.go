package service

import (
	"context"

	"github.com/user/filmrec/internal/model"
	"github.com/user/filmrec/internal/repository"
)

// repoStore 把 repository 包适配为服务层使用的存储接口
type repoStore struct {
	repos *repository.Repositories
}

// NewIngestStore 基于仓库集合创建入库存储
func NewIngestStore(repos *repository.Repositories) IngestStore {
	return &repoStore{repos: repos}
}

func (s *repoStore) ListIDs(ctx context.Context) ([]int, error) {
	return s.repos.Movie.ListIDs(ctx)
}

func (s *repoStore) Begin(ctx context.Context) (WriteSession, error) {
	sess, err := s.repos.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *repoStore) ClearCatalog(ctx context.Context) error {
	return s.repos.ClearCatalog(ctx)
}

func (s *repoStore) SeedCertifications(ctx context.Context) error {
	return s.repos.Certification.Seed(ctx, model.DefaultCertifications)
}
