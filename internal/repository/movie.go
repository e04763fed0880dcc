package repository

import (
	"context"
	"errors"

	"github.com/lib/pq"
	"github.com/user/filmrec/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 列表查询不需要加载向量列
var summaryColumns = []string{
	"movies.id", "movies.title", "movies.overview", "movies.release_date", "movies.popularity",
	"movies.vote_average", "movies.vote_count", "movies.poster_path", "movies.backdrop_path",
	"movies.certification_id",
}

// MovieFilter 目录查询条件
type MovieFilter struct {
	Genres []string // 必须同时包含的类型（已去重）
	MaxAge *int     // 分级上限对应的最小年龄
	Offset int
	Limit  int
}

type MovieRepository struct {
	db *gorm.DB
}

func NewMovieRepository(db *gorm.DB) *MovieRepository {
	return &MovieRepository{db: db}
}

// WithDB 返回绑定到指定连接（通常是事务）的仓库
func (r *MovieRepository) WithDB(db *gorm.DB) *MovieRepository {
	return &MovieRepository{db: db}
}

// ListIDs 返回所有已入库的电影 ID
func (r *MovieRepository) ListIDs(ctx context.Context) ([]int, error) {
	var ids []int
	err := r.db.WithContext(ctx).Model(&model.Movie{}).Pluck("id", &ids).Error
	return ids, err
}

// ListIDsWithoutEmbedding 返回没有向量副本的电影 ID
func (r *MovieRepository) ListIDsWithoutEmbedding(ctx context.Context) ([]int, error) {
	var ids []int
	err := r.db.WithContext(ctx).Model(&model.Movie{}).Where("embedding IS NULL").Pluck("id", &ids).Error
	return ids, err
}

// movieGenre 电影与类型的关联行
type movieGenre struct {
	MovieID int  `gorm:"primaryKey"`
	GenreID uint `gorm:"primaryKey"`
}

func (movieGenre) TableName() string { return "movie_genre" }

// Create 写入电影及其类型关联，类型与分级必须已存在
// ID 已存在时不写入任何行（包括关联）并返回 false
func (r *MovieRepository) Create(ctx context.Context, movie *model.Movie) (bool, error) {
	db := r.db.WithContext(ctx)
	res := db.Omit("Genres", "Certification").
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(movie)
	if res.Error != nil || res.RowsAffected == 0 {
		return false, res.Error
	}
	if len(movie.Genres) == 0 {
		return true, nil
	}

	links := make([]movieGenre, 0, len(movie.Genres))
	for _, g := range movie.Genres {
		links = append(links, movieGenre{MovieID: movie.ID, GenreID: g.ID})
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&links).Error; err != nil {
		return false, err
	}
	return true, nil
}

// FindByID 根据 ID 查找电影（包含向量、类型和分级）
func (r *MovieRepository) FindByID(ctx context.Context, id int) (*model.Movie, error) {
	var movie model.Movie
	err := r.db.WithContext(ctx).
		Preload("Genres").
		Preload("Certification").
		Where("id = ?", id).
		First(&movie).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &movie, nil
}

// FindSummary 查找电影摘要，maxAge 不为空时未分级或超出上限的电影视为不存在
func (r *MovieRepository) FindSummary(ctx context.Context, id int, maxAge *int) (*model.Movie, error) {
	q := r.db.WithContext(ctx).Model(&model.Movie{}).Where("movies.id = ?", id)
	q = applyCeiling(q, maxAge)

	var movie model.Movie
	err := q.Select(summaryColumns).Preload("Certification").First(&movie).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &movie, nil
}

// List 按热度倒序分页查询，返回当前页和总数
func (r *MovieRepository) List(ctx context.Context, f MovieFilter) ([]model.Movie, int64, error) {
	db := r.db.WithContext(ctx)

	var total int64
	if err := filterMovies(db, f).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var movies []model.Movie
	err := pageMovies(db, f).Preload("Certification").Find(&movies).Error
	if err != nil {
		return nil, 0, err
	}
	return movies, total, nil
}

// filterMovies 类型（全部包含）和分级上限条件
func filterMovies(db *gorm.DB, f MovieFilter) *gorm.DB {
	q := db.Model(&model.Movie{})
	if len(f.Genres) > 0 {
		// 包含全部所选类型：按电影分组，命中的不同类型数等于所选数量
		matched := db.Session(&gorm.Session{NewDB: true}).Table("movie_genre").
			Select("movie_genre.movie_id").
			Joins("JOIN genres ON genres.id = movie_genre.genre_id").
			Where("genres.name = ANY(?)", pq.Array(f.Genres)).
			Group("movie_genre.movie_id").
			Having("COUNT(DISTINCT genres.name) = ?", len(f.Genres))
		q = q.Where("movies.id IN (?)", matched)
	}
	return applyCeiling(q, f.MaxAge)
}

// pageMovies 当前页查询，热度倒序，ID 升序保证翻页稳定
func pageMovies(db *gorm.DB, f MovieFilter) *gorm.DB {
	return filterMovies(db, f).
		Select(summaryColumns).
		Order("movies.popularity DESC, movies.id ASC").
		Offset(f.Offset).
		Limit(f.Limit)
}

// DeleteByIDs 删除电影及其类型关联
func (r *MovieRepository) DeleteByIDs(ctx context.Context, ids []int) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var affected int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM movie_genre WHERE movie_id IN ?", ids).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&model.Movie{})
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}

func applyCeiling(q *gorm.DB, maxAge *int) *gorm.DB {
	if maxAge == nil {
		return q
	}
	return q.Joins("JOIN certifications ON certifications.id = movies.certification_id").
		Where("certifications.min_age <= ?", *maxAge)
}
