package model

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// Movie 电影模型（关系库中的目录记录）
type Movie struct {
	ID              int              `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Title           string           `json:"title" gorm:"not null"`
	Overview        string           `json:"overview"`
	ReleaseDate     *time.Time       `json:"release_date" gorm:"type:date"`
	Popularity      float64          `json:"popularity" gorm:"index"`
	VoteAverage     float64          `json:"vote_average"`
	VoteCount       int              `json:"vote_count"`
	PosterPath      string           `json:"poster_path"`
	BackdropPath    string           `json:"backdrop_path"`
	CertificationID *uint            `json:"-" gorm:"index"`
	Certification   *Certification   `json:"certification,omitempty"`
	Genres          []Genre          `json:"genres" gorm:"many2many:movie_genre;"`
	Embedding       *pgvector.Vector `json:"-" gorm:"type:vector"`
}

// Genre 类型，按名称去重
type Genre struct {
	ID   uint   `json:"id" gorm:"primaryKey"`
	Name string `json:"name" gorm:"uniqueIndex;not null"`
}

// Certification 年龄分级，MinAge 作为上限比较的排序键
type Certification struct {
	ID     uint   `json:"id" gorm:"primaryKey"`
	Code   string `json:"code" gorm:"uniqueIndex;not null"`
	MinAge int    `json:"min_age" gorm:"not null"`
}

// DefaultCertifications 预置的分级集合
var DefaultCertifications = []Certification{
	{Code: "G", MinAge: 0},
	{Code: "PG", MinAge: 10},
	{Code: "PG-13", MinAge: 13},
	{Code: "R", MinAge: 17},
	{Code: "NC-17", MinAge: 18},
	{Code: "TV-G", MinAge: 0},
	{Code: "TV-PG", MinAge: 10},
	{Code: "TV-14", MinAge: 14},
	{Code: "TV-MA", MinAge: 18},
}

// IsKnownCertification 判断是否为可识别的分级代码
func IsKnownCertification(code string) bool {
	for _, c := range DefaultCertifications {
		if c.Code == code {
			return true
		}
	}
	return false
}

// GenreNames 返回电影的类型名称列表
func (m *Movie) GenreNames() []string {
	names := make([]string, 0, len(m.Genres))
	for _, g := range m.Genres {
		names = append(names, g.Name)
	}
	return names
}

// CertificationCode 未分级时返回 N/A
func (m *Movie) CertificationCode() string {
	if m.Certification == nil {
		return NoCertification
	}
	return m.Certification.Code
}

// NoCertification 无分级时的展示值
const NoCertification = "N/A"

// VectorEntry 向量索引记录，ID 与 Movie.ID 一致
type VectorEntry struct {
	ID     int
	Vector []float32
	Title  string
}

// ScoredID 向量检索结果
type ScoredID struct {
	ID    int
	Score float64
	Title string
}
