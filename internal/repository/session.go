package repository

import (
	"context"
	"fmt"

	"github.com/user/filmrec/internal/model"
	"gorm.io/gorm"
)

// Session 一个关系库写入事务，入库任务通过它写入电影、类型和关联
type Session struct {
	tx     *gorm.DB
	movies *MovieRepository
	genres *GenreRepository
	certs  *CertificationRepository
}

// Begin 开启写入事务
func (r *Repositories) Begin(ctx context.Context) (*Session, error) {
	tx := r.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("开启事务失败: %w", tx.Error)
	}
	return &Session{
		tx:     tx,
		movies: r.Movie.WithDB(tx),
		genres: r.Genre.WithDB(tx),
		certs:  r.Certification.WithDB(tx),
	}, nil
}

func (s *Session) FirstOrCreateGenre(ctx context.Context, name string) (*model.Genre, error) {
	return s.genres.FirstOrCreate(ctx, name)
}

func (s *Session) FindCertification(ctx context.Context, code string) (*model.Certification, error) {
	return s.certs.FindByCode(ctx, code)
}

func (s *Session) CreateMovie(ctx context.Context, movie *model.Movie) (bool, error) {
	return s.movies.Create(ctx, movie)
}

// Savepoint 在事务内创建保存点
func (s *Session) Savepoint(name string) error {
	return s.tx.SavePoint(name).Error
}

// RollbackTo 回滚到保存点，事务本身继续可用
func (s *Session) RollbackTo(name string) error {
	return s.tx.RollbackTo(name).Error
}

// Release 释放保存点
func (s *Session) Release(name string) error {
	return s.tx.Exec("RELEASE SAVEPOINT " + name).Error
}

func (s *Session) Commit() error {
	return s.tx.Commit().Error
}

func (s *Session) Rollback() error {
	return s.tx.Rollback().Error
}
