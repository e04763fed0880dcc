package repository

import (
	"strings"
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/user/filmrec/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// dryRunDB 只生成 SQL，不连接数据库
func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=localhost user=filmrec dbname=filmrec sslmode=disable",
	}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               logger.Discard,
	})
	if err != nil {
		t.Fatalf("open dry-run db: %v", err)
	}
	return db
}

func assertContains(t *testing.T, sql string, parts ...string) {
	t.Helper()
	for _, p := range parts {
		if !strings.Contains(sql, p) {
			t.Errorf("SQL missing %q:\n%s", p, sql)
		}
	}
}

func TestPageMoviesGenreSupersetAndCeiling(t *testing.T) {
	db := dryRunDB(t)
	maxAge := 13

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var movies []model.Movie
		return pageMovies(tx, MovieFilter{
			Genres: []string{"Acción", "Familia"},
			MaxAge: &maxAge,
			Offset: 20,
			Limit:  10,
		}).Find(&movies)
	})

	assertContains(t, sql,
		"movies.id IN (SELECT movie_genre.movie_id FROM",
		"JOIN genres ON genres.id = movie_genre.genre_id",
		`genres.name = ANY('{"Acción","Familia"}')`,
		"GROUP BY",
		"HAVING COUNT(DISTINCT genres.name) = 2",
		"JOIN certifications ON certifications.id = movies.certification_id",
		"certifications.min_age <= 13",
		"ORDER BY movies.popularity DESC, movies.id ASC",
		"LIMIT 10",
		"OFFSET 20",
	)
	if strings.Contains(sql, "embedding") {
		t.Errorf("listing must not load the embedding column:\n%s", sql)
	}
}

func TestPageMoviesWithoutFilters(t *testing.T) {
	db := dryRunDB(t)

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var movies []model.Movie
		return pageMovies(tx, MovieFilter{Limit: 10}).Find(&movies)
	})

	if strings.Contains(sql, "movie_genre") || strings.Contains(sql, "certifications") {
		t.Errorf("unfiltered listing should not join lookups:\n%s", sql)
	}
	assertContains(t, sql, "ORDER BY movies.popularity DESC, movies.id ASC", "LIMIT 10")
}

func TestVectorSearchQuery(t *testing.T) {
	db := dryRunDB(t)
	repo := NewVectorRepository(db, "movie_vectors")

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var rows []scoredRow
		return repo.searchQuery(tx, pgvector.NewVector([]float32{1, 0, 0}), 65).Find(&rows)
	})

	assertContains(t, sql,
		`FROM "movie_vectors"`,
		"1 - (embedding <=> '[1,0,0]') AS score",
		"ORDER BY embedding <=> '[1,0,0]'",
		"LIMIT 65",
	)
}

func TestEFSearchCoversLimit(t *testing.T) {
	tests := []struct {
		limit int
		want  int
	}{
		{1, 40},
		{25, 40},
		{40, 40},
		{41, 41},
		{65, 65},
	}
	for _, tt := range tests {
		if got := efSearch(tt.limit); got != tt.want {
			t.Errorf("efSearch(%d) = %d, want %d", tt.limit, got, tt.want)
		}
	}
}

func TestCreateSkipsLinksForExistingID(t *testing.T) {
	db := dryRunDB(t)
	var tables []string
	err := db.Callback().Create().After("gorm:create").Register("test:record_table", func(tx *gorm.DB) {
		tables = append(tables, tx.Statement.Table)
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	// 试运行不会写入任何行，等同于 ID 冲突
	repo := NewMovieRepository(db)
	created, err := repo.Create(t.Context(), &model.Movie{
		ID:     1,
		Title:  "dup",
		Genres: []model.Genre{{ID: 1, Name: "Acción"}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created {
		t.Error("conflicting insert reported as created")
	}
	if len(tables) != 1 || tables[0] != "movies" {
		t.Errorf("statements on %v, want only movies", tables)
	}
}
