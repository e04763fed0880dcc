package repository

import (
	"context"
	"errors"

	"github.com/user/filmrec/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CertificationRepository 分级仓库
type CertificationRepository struct {
	db *gorm.DB
}

// NewCertificationRepository 创建分级仓库
func NewCertificationRepository(db *gorm.DB) *CertificationRepository {
	return &CertificationRepository{db: db}
}

// WithDB 返回绑定到指定连接的仓库
func (r *CertificationRepository) WithDB(db *gorm.DB) *CertificationRepository {
	return &CertificationRepository{db: db}
}

// Seed 写入预置分级，已存在的代码不会重复写入
func (r *CertificationRepository) Seed(ctx context.Context, certs []model.Certification) error {
	if len(certs) == 0 {
		return nil
	}
	rows := make([]model.Certification, len(certs))
	copy(rows, certs)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "code"}}, DoNothing: true}).
		Create(&rows).Error
}

// FindByCode 根据代码查找分级
func (r *CertificationRepository) FindByCode(ctx context.Context, code string) (*model.Certification, error) {
	var cert model.Certification
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&cert).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cert, nil
}

// ListAll 按最小年龄排序返回全部分级
func (r *CertificationRepository) ListAll(ctx context.Context) ([]model.Certification, error) {
	var certs []model.Certification
	err := r.db.WithContext(ctx).Order("min_age ASC, code ASC").Find(&certs).Error
	return certs, err
}
