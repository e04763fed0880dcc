package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/user/filmrec/internal/logging"
	"github.com/user/filmrec/internal/service"
	"github.com/user/filmrec/internal/utils"
)

// ==================== 管理接口 ====================

// ingestJob 后台入库任务
type ingestJob struct {
	StartPage  int                 `json:"start_page"`
	EndPage    int                 `json:"end_page"`
	Running    bool                `json:"running"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
	Summary    *service.RunSummary `json:"summary,omitempty"`
	Error      string              `json:"error,omitempty"`
}

type ingestRequest struct {
	StartPage int `json:"start_page"`
	EndPage   int `json:"end_page"`
}

// AdminIngest POST /api/admin/ingest 启动后台入库任务
func (h *Handler) AdminIngest(c *gin.Context) {
	req := ingestRequest{StartPage: h.Config.Ingest.StartPage, EndPage: h.Config.Ingest.EndPage}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequest(c, "请求体格式错误")
			return
		}
	}
	if req.StartPage < 1 || req.EndPage < req.StartPage {
		utils.BadRequest(c, "页码范围非法")
		return
	}

	h.mu.Lock()
	if h.job != nil && h.job.Running {
		h.mu.Unlock()
		utils.Error(c, http.StatusConflict, "已有入库任务在运行")
		return
	}
	job := &ingestJob{StartPage: req.StartPage, EndPage: req.EndPage, Running: true, StartedAt: time.Now()}
	h.job = job
	snapshot := *job
	h.mu.Unlock()

	go h.runIngest(job)

	c.JSON(http.StatusAccepted, utils.Response{
		Code:    http.StatusAccepted,
		Message: "入库任务已启动",
		Data:    snapshot,
		Success: true,
	})
}

func (h *Handler) runIngest(job *ingestJob) {
	summary, err := h.Ingest.Run(h.baseCtx, job.StartPage, job.EndPage)
	if err != nil {
		logging.Error().Err(err).Msg("[Admin] 入库任务失败")
	} else {
		h.Recommend.InvalidateCache()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	job.Running = false
	job.FinishedAt = &now
	job.Summary = summary
	if err != nil {
		job.Error = err.Error()
	}
}

// AdminIngestStatus GET /api/admin/ingest 最近一次入库任务状态
func (h *Handler) AdminIngestStatus(c *gin.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.job == nil {
		utils.NotFound(c, "没有入库任务")
		return
	}
	utils.Success(c, *h.job)
}

// AdminReset POST /api/admin/reset 清空两个存储
func (h *Handler) AdminReset(c *gin.Context) {
	h.mu.Lock()
	running := h.job != nil && h.job.Running
	h.mu.Unlock()
	if running {
		utils.Error(c, http.StatusConflict, "入库任务运行中，无法重置")
		return
	}

	if err := h.Ingest.Reset(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	h.Recommend.InvalidateCache()
	utils.Success(c, gin.H{"reset": true})
}

// AdminReconcile POST /api/admin/reconcile?apply=true
func (h *Handler) AdminReconcile(c *gin.Context) {
	apply, _ := strconv.ParseBool(c.DefaultQuery("apply", "false"))

	report, err := h.Reconcile.Reconcile(c.Request.Context(), apply)
	if err != nil {
		respondError(c, err)
		return
	}
	if apply {
		h.Recommend.InvalidateCache()
	}
	utils.Success(c, report)
}

// AdminClearCache DELETE /api/admin/cache
func (h *Handler) AdminClearCache(c *gin.Context) {
	h.Recommend.InvalidateCache()
	utils.Success(c, gin.H{"cleared": true})
}
