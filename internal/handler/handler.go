package handler

import (
	"context"
	"errors"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/user/filmrec/internal/config"
	"github.com/user/filmrec/internal/logging"
	"github.com/user/filmrec/internal/model"
	"github.com/user/filmrec/internal/service"
	"github.com/user/filmrec/internal/utils"
)

// CatalogAPI 目录查询
type CatalogAPI interface {
	List(ctx context.Context, q service.ListQuery) (*model.Page, error)
	Genres(ctx context.Context) ([]string, error)
	Certifications(ctx context.Context) ([]model.Certification, error)
}

// RecommendAPI 推荐查询
type RecommendAPI interface {
	Recommend(ctx context.Context, id, limit int, ceiling string) (*model.RecommendationResult, error)
	InvalidateCache()
}

// IngestAPI 入库与重置
type IngestAPI interface {
	Run(ctx context.Context, start, end int) (*service.RunSummary, error)
	Reset(ctx context.Context) error
}

// ReconcileAPI 存储对账
type ReconcileAPI interface {
	Reconcile(ctx context.Context, apply bool) (*service.ReconcileReport, error)
}

// Handler HTTP 处理器
type Handler struct {
	Config    *config.Config
	Catalog   CatalogAPI
	Recommend RecommendAPI
	Ingest    IngestAPI
	Reconcile ReconcileAPI

	// 后台入库任务状态
	mu      sync.Mutex
	job     *ingestJob
	baseCtx context.Context
}

// NewHandler 创建处理器，ctx 为后台任务的生命周期
func NewHandler(ctx context.Context, cfg *config.Config, catalog CatalogAPI, recommend RecommendAPI,
	ingest IngestAPI, reconcile ReconcileAPI) *Handler {
	return &Handler{
		Config:    cfg,
		Catalog:   catalog,
		Recommend: recommend,
		Ingest:    ingest,
		Reconcile: reconcile,
		baseCtx:   ctx,
	}
}

// respondError 把服务层错误映射为 HTTP 状态码
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		utils.NotFound(c, err.Error())
	case errors.Is(err, service.ErrInvalidArgument):
		utils.BadRequest(c, err.Error())
	default:
		logging.Error().Err(err).Str("path", c.Request.URL.Path).Msg("[API] 请求处理失败")
		utils.InternalServerError(c, "")
	}
}
