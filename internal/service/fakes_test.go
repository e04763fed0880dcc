package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/filmrec/internal/config"
	"github.com/user/filmrec/internal/model"
	"github.com/user/filmrec/internal/repository"
)

// fakeStore 内存关系库，事务通过 fakeSession 暂存
type fakeStore struct {
	mu        sync.Mutex
	movies    map[int]*model.Movie
	order     []int
	genres    map[string]uint
	nextGenre uint
	certs     map[string]model.Certification

	failCreate map[int]bool
	begins     int
	commits    int
	rollbacks  int
	cleared    int
}

func newFakeStore() *fakeStore {
	s := &fakeStore{
		movies:     make(map[int]*model.Movie),
		genres:     make(map[string]uint),
		certs:      make(map[string]model.Certification),
		failCreate: make(map[int]bool),
	}
	s.seed()
	return s
}

func (s *fakeStore) seed() {
	for i, c := range model.DefaultCertifications {
		if _, ok := s.certs[c.Code]; !ok {
			c.ID = uint(i + 1)
			s.certs[c.Code] = c
		}
	}
}

func (s *fakeStore) ListIDs(ctx context.Context) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.order...), nil
}

func (s *fakeStore) Begin(ctx context.Context) (WriteSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begins++
	return &fakeSession{store: s, genres: make(map[string]uint)}, nil
}

func (s *fakeStore) ClearCatalog(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.movies = make(map[int]*model.Movie)
	s.order = nil
	s.genres = make(map[string]uint)
	s.certs = make(map[string]model.Certification)
	s.cleared++
	return nil
}

func (s *fakeStore) SeedCertifications(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seed()
	return nil
}

func (s *fakeStore) movie(id int) *model.Movie {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.movies[id]
}

func (s *fakeStore) genreIDs() map[uint]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint]string, len(s.genres))
	for name, id := range s.genres {
		out[id] = name
	}
	return out
}

type fakeSession struct {
	store  *fakeStore
	movies []*model.Movie
	genres map[string]uint

	markMovies int
	markGenres map[string]uint
}

func (f *fakeSession) FirstOrCreateGenre(ctx context.Context, name string) (*model.Genre, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if id, ok := f.store.genres[name]; ok {
		return &model.Genre{ID: id, Name: name}, nil
	}
	if id, ok := f.genres[name]; ok {
		return &model.Genre{ID: id, Name: name}, nil
	}
	f.store.nextGenre++
	f.genres[name] = f.store.nextGenre
	return &model.Genre{ID: f.store.nextGenre, Name: name}, nil
}

func (f *fakeSession) FindCertification(ctx context.Context, code string) (*model.Certification, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	c, ok := f.store.certs[code]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *fakeSession) CreateMovie(ctx context.Context, movie *model.Movie) (bool, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if f.store.failCreate[movie.ID] {
		return false, errors.New("insert failed")
	}
	for _, g := range movie.Genres {
		if !f.genreVisible(g.ID) {
			return false, fmt.Errorf("genre %d does not exist", g.ID)
		}
	}
	if _, ok := f.store.movies[movie.ID]; ok {
		return false, nil
	}
	for _, m := range f.movies {
		if m.ID == movie.ID {
			return false, nil
		}
	}
	f.movies = append(f.movies, movie)
	return true, nil
}

func (f *fakeSession) genreVisible(id uint) bool {
	for _, gid := range f.store.genres {
		if gid == id {
			return true
		}
	}
	for _, gid := range f.genres {
		if gid == id {
			return true
		}
	}
	return false
}

func (f *fakeSession) Savepoint(name string) error {
	f.markMovies = len(f.movies)
	f.markGenres = make(map[string]uint, len(f.genres))
	for k, v := range f.genres {
		f.markGenres[k] = v
	}
	return nil
}

func (f *fakeSession) RollbackTo(name string) error {
	f.movies = f.movies[:f.markMovies]
	f.genres = f.markGenres
	return nil
}

func (f *fakeSession) Release(name string) error { return nil }

func (f *fakeSession) Commit() error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	for name, id := range f.genres {
		f.store.genres[name] = id
	}
	for _, m := range f.movies {
		f.store.movies[m.ID] = m
		f.store.order = append(f.store.order, m.ID)
	}
	f.store.commits++
	f.movies = nil
	return nil
}

func (f *fakeSession) Rollback() error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.rollbacks++
	f.movies = nil
	return nil
}

// fakeIndex 内存向量索引
type fakeIndex struct {
	mu         sync.Mutex
	entries    map[int]model.VectorEntry
	batches    [][]int
	failUpsert bool
	recreated  int
	results    []model.ScoredID
	searches   int
	deleted    []int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{entries: make(map[int]model.VectorEntry)}
}

func (f *fakeIndex) Upsert(ctx context.Context, entries []model.VectorEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpsert {
		return errors.New("index unavailable")
	}
	ids := make([]int, 0, len(entries))
	for _, e := range entries {
		f.entries[e.ID] = e
		ids = append(ids, e.ID)
	}
	f.batches = append(f.batches, ids)
	return nil
}

func (f *fakeIndex) Recreate(ctx context.Context, dimension, m, efConstruction int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = make(map[int]model.VectorEntry)
	f.recreated++
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, vector []float32, limit int) ([]model.ScoredID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	if len(f.results) > limit {
		return append([]model.ScoredID(nil), f.results[:limit]...), nil
	}
	return append([]model.ScoredID(nil), f.results...), nil
}

func (f *fakeIndex) ListIDs(ctx context.Context) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int, 0, len(f.entries))
	for id := range f.entries {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (f *fakeIndex) Delete(ctx context.Context, ids []int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := f.entries[id]; ok {
			delete(f.entries, id)
			n++
		}
	}
	f.deleted = append(f.deleted, ids...)
	return n, nil
}

func (f *fakeIndex) has(id int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[id]
	return ok
}

// fakeProvider 固定数据的元数据提供方
type fakeProvider struct {
	genres    map[int]string
	genresErr error
	items     []model.CatalogItem
	certs     map[int]string
	details   map[int]model.ItemDetails

	certCalls atomic.Int32
}

func (p *fakeProvider) FetchGenres(ctx context.Context) (map[int]string, error) {
	return p.genres, p.genresErr
}

func (p *fakeProvider) FetchPages(ctx context.Context, start, end int, genres map[int]string) []model.CatalogItem {
	return append([]model.CatalogItem(nil), p.items...)
}

func (p *fakeProvider) FetchCertifications(ctx context.Context, ids []int) map[int]string {
	out := make(map[int]string)
	for _, id := range ids {
		p.certCalls.Add(1)
		if c, ok := p.certs[id]; ok {
			out[id] = c
		}
	}
	return out
}

func (p *fakeProvider) FetchDetails(ctx context.Context, ids []int) map[int]model.ItemDetails {
	out := make(map[int]model.ItemDetails)
	for _, id := range ids {
		if d, ok := p.details[id]; ok {
			out[id] = d
		}
	}
	return out
}

// fakeEmbedder 文本包含 failOn 时返回错误
type fakeEmbedder struct {
	dim    int
	failOn string
	calls  atomic.Int32
	err    error
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	if e.failOn != "" && strings.Contains(text, e.failOn) {
		return nil, errors.New("embedding service error")
	}
	v := make([]float32, e.dim)
	v[0] = float32(len(text))
	return v, nil
}

// fakeMovies 内存只读查询，分级上限按 MinAge 过滤
type fakeMovies struct {
	mu         sync.Mutex
	movies     map[int]*model.Movie
	listResult []model.Movie
	listTotal  int64
	lastFilter repository.MovieFilter
	bare       []int
	deleted    []int
}

func (f *fakeMovies) List(ctx context.Context, filter repository.MovieFilter) ([]model.Movie, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilter = filter
	return f.listResult, f.listTotal, nil
}

func (f *fakeMovies) FindByID(ctx context.Context, id int) (*model.Movie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.movies[id], nil
}

func (f *fakeMovies) FindSummary(ctx context.Context, id int, maxAge *int) (*model.Movie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.movies[id]
	if !ok {
		return nil, nil
	}
	if maxAge != nil && (m.Certification == nil || m.Certification.MinAge > *maxAge) {
		return nil, nil
	}
	return m, nil
}

func (f *fakeMovies) ListIDs(ctx context.Context) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int, 0, len(f.movies))
	for id := range f.movies {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (f *fakeMovies) ListIDsWithoutEmbedding(ctx context.Context) ([]int, error) {
	return f.bare, nil
}

func (f *fakeMovies) DeleteByIDs(ctx context.Context, ids []int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.movies, id)
	}
	f.deleted = append(f.deleted, ids...)
	return int64(len(ids)), nil
}

// fakeCerts 预置分级
type fakeCerts struct{}

func (fakeCerts) FindByCode(ctx context.Context, code string) (*model.Certification, error) {
	for i, c := range model.DefaultCertifications {
		if c.Code == code {
			c.ID = uint(i + 1)
			return &c, nil
		}
	}
	return nil, nil
}

func (fakeCerts) ListAll(ctx context.Context) ([]model.Certification, error) {
	return model.DefaultCertifications, nil
}

func certByCode(code string) *model.Certification {
	c, _ := fakeCerts{}.FindByCode(context.Background(), code)
	return c
}

func testConfig() *config.Config {
	return &config.Config{
		Embedding: config.EmbeddingConfig{
			Dimension:    3,
			Concurrency:  2,
			BreakerTrips: 100,
			Timeout:      time.Second,
		},
		Vector: config.VectorConfig{Collection: "movie_vectors", BatchSize: 2, HNSWM: 16, EFConstruction: 200},
		Ingest: config.IngestConfig{StartPage: 1, EndPage: 1, CommitMode: CommitRun, WithCompanies: true},
		Recommend: config.RecommendConfig{
			DefaultLimit:   10,
			MaxLimit:       50,
			OverfetchLimit: 15,
			Threshold:      0.49,
			CacheSize:      100,
			CacheTTL:       time.Minute,
			Timeout:        time.Second,
		},
		Filter: config.FilterConfig{
			ExcludedLanguages: []string{"zh", "ja", "ko", "th", "vi"},
			ExcludedCountries: []string{"JP", "CN", "KR", "TW", "HK"},
			RiskyGenres:       []string{"Crimen", "Drama", "Terror"},
			SafeGenres:        []string{"Acción", "Animación", "Familia"},
		},
	}
}
