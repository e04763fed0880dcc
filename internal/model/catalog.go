package model

import (
	"time"
)

// CatalogItem 从 TMDB 列表接口抓取到的原始条目（已映射类型名称）
type CatalogItem struct {
	ID               int
	Title            string
	Overview         string
	ReleaseDate      string // YYYY-MM-DD，可能为空
	Popularity       float64
	VoteAverage      float64
	VoteCount        int
	PosterPath       string
	BackdropPath     string
	Adult            bool
	OriginCountries  []string
	OriginalLanguage string
	Genres           []string
}

// ParsedReleaseDate 解析上映日期，无法解析时返回 nil
func (c *CatalogItem) ParsedReleaseDate() *time.Time {
	if c.ReleaseDate == "" {
		return nil
	}
	t, err := time.Parse(time.DateOnly, c.ReleaseDate)
	if err != nil {
		return nil
	}
	return &t
}

// ItemDetails 单条目详情（用于向量文本）
type ItemDetails struct {
	Genres    []string
	Companies []string
}

// MovieSummary 列表展示用的精简信息
type MovieSummary struct {
	ID            int     `json:"id"`
	Title         string  `json:"title"`
	ReleaseDate   *string `json:"release_date"`
	PosterPath    *string `json:"poster_path"`
	Certification string  `json:"certification"`
}

// MovieDetails 详情
type MovieDetails struct {
	ID            int      `json:"id"`
	Title         string   `json:"title"`
	Overview      string   `json:"overview"`
	ReleaseDate   *string  `json:"release_date"`
	PosterPath    *string  `json:"poster_path"`
	BackdropPath  *string  `json:"backdrop_path"`
	Genres        []string `json:"genres"`
	Certification string   `json:"certification"`
	Popularity    float64  `json:"popularity"`
	VoteAverage   float64  `json:"vote_average"`
	VoteCount     int      `json:"vote_count"`
}

// Page 分页结果
type Page struct {
	Total      int64          `json:"total"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	TotalPages int            `json:"total_pages"`
	Items      []MovieSummary `json:"items"`
}

// Recommendation 单条推荐
type Recommendation struct {
	Movie           MovieSummary `json:"movie"`
	SimilarityScore float64      `json:"similarity_score"`
}

// RecommendationResult 推荐结果
type RecommendationResult struct {
	Results       []Recommendation `json:"results"`
	SearchedMovie MovieDetails     `json:"searched_movie"`
}

// ToSummary 转换为列表展示结构
func (m *Movie) ToSummary() MovieSummary {
	return MovieSummary{
		ID:            m.ID,
		Title:         m.Title,
		ReleaseDate:   formatDate(m.ReleaseDate),
		PosterPath:    optional(m.PosterPath),
		Certification: m.CertificationCode(),
	}
}

// ToDetails 转换为详情结构
func (m *Movie) ToDetails() MovieDetails {
	return MovieDetails{
		ID:            m.ID,
		Title:         m.Title,
		Overview:      m.Overview,
		ReleaseDate:   formatDate(m.ReleaseDate),
		PosterPath:    optional(m.PosterPath),
		BackdropPath:  optional(m.BackdropPath),
		Genres:        m.GenreNames(),
		Certification: m.CertificationCode(),
		Popularity:    m.Popularity,
		VoteAverage:   m.VoteAverage,
		VoteCount:     m.VoteCount,
	}
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.DateOnly)
	return &s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
