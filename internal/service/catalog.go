package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/user/filmrec/internal/metrics"
	"github.com/user/filmrec/internal/model"
	"github.com/user/filmrec/internal/repository"
)

// MovieReader 关系库只读查询
type MovieReader interface {
	List(ctx context.Context, f repository.MovieFilter) ([]model.Movie, int64, error)
	FindByID(ctx context.Context, id int) (*model.Movie, error)
	FindSummary(ctx context.Context, id int, maxAge *int) (*model.Movie, error)
}

// CertificationReader 分级查询
type CertificationReader interface {
	FindByCode(ctx context.Context, code string) (*model.Certification, error)
	ListAll(ctx context.Context) ([]model.Certification, error)
}

// GenreLister 类型查询
type GenreLister interface {
	ListNames(ctx context.Context) ([]string, error)
}

// ListQuery 目录查询参数
type ListQuery struct {
	Page          int      `json:"page" validate:"min=1"`
	PageSize      int      `json:"page_size" validate:"min=1,max=100"`
	Genres        []string `json:"genres" validate:"dive,required"`
	Certification string   `json:"certification"`
}

var validate = validator.New()

// CatalogService 目录查询
type CatalogService struct {
	movies MovieReader
	certs  CertificationReader
	genres GenreLister
}

// NewCatalogService 创建目录查询服务
func NewCatalogService(movies MovieReader, certs CertificationReader, genres GenreLister) *CatalogService {
	return &CatalogService{movies: movies, certs: certs, genres: genres}
}

// List 按热度倒序分页，可选类型（全部包含）和分级上限过滤
func (s *CatalogService) List(ctx context.Context, q ListQuery) (*model.Page, error) {
	start := time.Now()
	defer func() {
		metrics.QueryDuration.WithLabelValues("catalog").Observe(time.Since(start).Seconds())
	}()

	if err := validate.Struct(q); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	maxAge, err := resolveCeiling(ctx, s.certs, q.Certification)
	if err != nil {
		return nil, err
	}

	movies, total, err := s.movies.List(ctx, repository.MovieFilter{
		Genres: dedupNames(q.Genres),
		MaxAge: maxAge,
		Offset: (q.Page - 1) * q.PageSize,
		Limit:  q.PageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("查询目录失败: %w", err)
	}

	items := make([]model.MovieSummary, 0, len(movies))
	for i := range movies {
		items = append(items, movies[i].ToSummary())
	}

	return &model.Page{
		Total:      total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: totalPages(total, q.PageSize),
		Items:      items,
	}, nil
}

// Genres 返回全部类型名称
func (s *CatalogService) Genres(ctx context.Context) ([]string, error) {
	return s.genres.ListNames(ctx)
}

// Certifications 返回全部分级
func (s *CatalogService) Certifications(ctx context.Context) ([]model.Certification, error) {
	return s.certs.ListAll(ctx)
}

// resolveCeiling 分级代码转换为最小年龄上限，空代码表示不限制
func resolveCeiling(ctx context.Context, certs CertificationReader, code string) (*int, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	cert, err := certs.FindByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("查询分级失败: %w", err)
	}
	if cert == nil {
		return nil, fmt.Errorf("%w: 未知分级 %q", ErrInvalidArgument, code)
	}
	maxAge := cert.MinAge
	return &maxAge, nil
}

func dedupNames(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func totalPages(total int64, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}
