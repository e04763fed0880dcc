package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/user/filmrec/internal/config"
	"github.com/user/filmrec/internal/logging"
	"github.com/user/filmrec/internal/metrics"
	"github.com/user/filmrec/internal/model"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// TMDBClient 带限流的 TMDB 客户端
// 所有请求共享同一个令牌桶（每个时间窗口的请求数）和同一个连接数上限，两者互相独立
type TMDBClient struct {
	cfg     config.TMDBConfig
	client  *http.Client
	limiter *rate.Limiter
	conns   *semaphore.Weighted
}

// NewTMDBClient 创建 TMDB 客户端
func NewTMDBClient(cfg config.TMDBConfig) *TMDBClient {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 45
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Second
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = cfg.MaxConnections
	transport.MaxIdleConnsPerHost = cfg.MaxConnections

	return &TMDBClient{
		cfg:     cfg,
		client:  &http.Client{Transport: transport},
		limiter: rate.NewLimiter(rate.Every(cfg.RateWindow/time.Duration(cfg.RateLimit)), cfg.RateLimit),
		conns:   semaphore.NewWeighted(int64(cfg.MaxConnections)),
	}
}

// statusError 非 2xx 响应
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("请求返回状态码: %d", e.code)
}

type tmdbGenreListResponse struct {
	Genres []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"genres"`
}

type tmdbListItem struct {
	ID               int      `json:"id"`
	Title            string   `json:"title"`
	Overview         string   `json:"overview"`
	ReleaseDate      string   `json:"release_date"`
	Popularity       float64  `json:"popularity"`
	VoteAverage      float64  `json:"vote_average"`
	VoteCount        int      `json:"vote_count"`
	PosterPath       string   `json:"poster_path"`
	BackdropPath     string   `json:"backdrop_path"`
	Adult            bool     `json:"adult"`
	OriginCountry    []string `json:"origin_country"`
	OriginalLanguage string   `json:"original_language"`
	GenreIDs         []int    `json:"genre_ids"`
}

type tmdbListResponse struct {
	Page         int            `json:"page"`
	Results      []tmdbListItem `json:"results"`
	TotalPages   int            `json:"total_pages"`
	TotalResults int            `json:"total_results"`
}

type tmdbReleaseDatesResponse struct {
	ID      int `json:"id"`
	Results []struct {
		Region       string `json:"iso_3166_1"`
		ReleaseDates []struct {
			Certification string `json:"certification"`
		} `json:"release_dates"`
	} `json:"results"`
}

type tmdbDetailsResponse struct {
	ID     int `json:"id"`
	Genres []struct {
		Name string `json:"name"`
	} `json:"genres"`
	ProductionCompanies []struct {
		Name string `json:"name"`
	} `json:"production_companies"`
}

// getJSON 受限流和连接数约束的 GET 请求
func (c *TMDBClient) getJSON(ctx context.Context, endpoint, path string, query url.Values, target interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("等待限流令牌失败: %w", err)
	}
	if err := c.conns.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("等待连接失败: %w", err)
	}
	defer c.conns.Release(1)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if query == nil {
		query = url.Values{}
	}
	if c.cfg.APIKey != "" {
		query.Set("api_key", c.cfg.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.ProviderRequests.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.ProviderRequests.WithLabelValues(endpoint, "status").Inc()
		return &statusError{code: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		metrics.ProviderRequests.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("解析JSON失败: %w", err)
	}
	metrics.ProviderRequests.WithLabelValues(endpoint, "ok").Inc()
	return nil
}

// FetchGenres 获取类型 ID 到名称的映射，失败时整个入库任务无法继续
func (c *TMDBClient) FetchGenres(ctx context.Context) (map[int]string, error) {
	var result tmdbGenreListResponse
	query := url.Values{"language": {c.cfg.Language}}
	if err := c.getJSON(ctx, "genres", "/genre/movie/list", query, &result); err != nil {
		return nil, fmt.Errorf("获取类型列表失败: %w", err)
	}

	genres := make(map[int]string, len(result.Genres))
	for _, g := range result.Genres {
		genres[g.ID] = g.Name
	}
	return genres, nil
}

// FetchPage 获取一页热门电影，返回条目和总页数
func (c *TMDBClient) FetchPage(ctx context.Context, page int, genres map[int]string) ([]model.CatalogItem, int, error) {
	query := url.Values{
		"language":      {c.cfg.Language},
		"page":          {strconv.Itoa(page)},
		"include_adult": {"false"},
	}

	var result tmdbListResponse
	if err := c.getJSON(ctx, "popular", "/movie/popular", query, &result); err != nil {
		return nil, 0, err
	}

	items := make([]model.CatalogItem, 0, len(result.Results))
	for _, raw := range result.Results {
		items = append(items, toCatalogItem(raw, genres))
	}
	return items, result.TotalPages, nil
}

// FetchPages 并发获取 [start, end] 范围内的所有页，单页失败只影响该页
func (c *TMDBClient) FetchPages(ctx context.Context, start, end int, genres map[int]string) []model.CatalogItem {
	if end < start {
		return nil
	}
	pages := make([][]model.CatalogItem, end-start+1)

	var g errgroup.Group
	for page := start; page <= end; page++ {
		g.Go(func() error {
			items, _, err := c.FetchPage(ctx, page, genres)
			if err != nil {
				logging.Warn().Int("page", page).Err(err).Msg("[TMDB] 获取列表页失败")
				return nil
			}
			pages[page-start] = items
			return nil
		})
	}
	_ = g.Wait()

	var all []model.CatalogItem
	for _, items := range pages {
		all = append(all, items...)
	}
	return all
}

// FetchCertification 按地区优先顺序取第一个非空分级
func (c *TMDBClient) FetchCertification(ctx context.Context, id int) (string, bool) {
	var result tmdbReleaseDatesResponse
	if err := c.getJSON(ctx, "release_dates", fmt.Sprintf("/movie/%d/release_dates", id), nil, &result); err != nil {
		logging.Debug().Int("id", id).Err(err).Msg("[TMDB] 获取分级失败")
		return "", false
	}

	for _, region := range c.cfg.Regions {
		for _, r := range result.Results {
			if r.Region != region {
				continue
			}
			for _, rd := range r.ReleaseDates {
				if cert := strings.TrimSpace(rd.Certification); cert != "" {
					return cert, true
				}
			}
		}
	}
	return "", false
}

// FetchCertifications 并发获取一批电影的分级，没有分级的电影不出现在结果中
func (c *TMDBClient) FetchCertifications(ctx context.Context, ids []int) map[int]string {
	result := make(map[int]string, len(ids))
	var mu sync.Mutex

	fanOut(ids, func(id int) {
		if cert, ok := c.FetchCertification(ctx, id); ok {
			mu.Lock()
			result[id] = cert
			mu.Unlock()
		}
	})
	return result
}

// FetchDetail 获取电影详情中的类型与出品公司
func (c *TMDBClient) FetchDetail(ctx context.Context, id int) (*model.ItemDetails, error) {
	var result tmdbDetailsResponse
	query := url.Values{"language": {c.cfg.Language}}
	if err := c.getJSON(ctx, "details", fmt.Sprintf("/movie/%d", id), query, &result); err != nil {
		return nil, err
	}

	details := &model.ItemDetails{}
	for _, g := range result.Genres {
		details.Genres = append(details.Genres, g.Name)
	}
	for _, p := range result.ProductionCompanies {
		details.Companies = append(details.Companies, p.Name)
	}
	return details, nil
}

// FetchDetails 并发获取一批电影详情，失败的电影不出现在结果中
func (c *TMDBClient) FetchDetails(ctx context.Context, ids []int) map[int]model.ItemDetails {
	result := make(map[int]model.ItemDetails, len(ids))
	var mu sync.Mutex

	fanOut(ids, func(id int) {
		details, err := c.FetchDetail(ctx, id)
		if err != nil {
			logging.Debug().Int("id", id).Err(err).Msg("[TMDB] 获取详情失败")
			return
		}
		mu.Lock()
		result[id] = *details
		mu.Unlock()
	})
	return result
}

// fanOut 为每个 ID 启动一个任务并等待全部完成，并发度由限流器和连接数控制
func fanOut(ids []int, fn func(id int)) {
	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			fn(id)
			return nil
		})
	}
	_ = g.Wait()
}

func toCatalogItem(raw tmdbListItem, genres map[int]string) model.CatalogItem {
	item := model.CatalogItem{
		ID:               raw.ID,
		Title:            raw.Title,
		Overview:         raw.Overview,
		ReleaseDate:      raw.ReleaseDate,
		Popularity:       raw.Popularity,
		VoteAverage:      raw.VoteAverage,
		VoteCount:        raw.VoteCount,
		PosterPath:       raw.PosterPath,
		BackdropPath:     raw.BackdropPath,
		Adult:            raw.Adult,
		OriginCountries:  raw.OriginCountry,
		OriginalLanguage: raw.OriginalLanguage,
	}
	for _, id := range raw.GenreIDs {
		if name, ok := genres[id]; ok {
			item.Genres = append(item.Genres, name)
		}
	}
	return item
}
