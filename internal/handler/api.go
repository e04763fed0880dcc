package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/user/filmrec/internal/service"
	"github.com/user/filmrec/internal/utils"
)

// listMoviesRequest 目录查询请求，未传的分页参数使用默认值
type listMoviesRequest struct {
	Page          *int     `json:"page"`
	PageSize      *int     `json:"page_size"`
	Genres        []string `json:"genres"`
	Certification string   `json:"certification"`
}

const (
	defaultPage     = 1
	defaultPageSize = 10
)

// ListMovies POST /api/movies
func (h *Handler) ListMovies(c *gin.Context) {
	var req listMoviesRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequest(c, "请求体格式错误")
			return
		}
	}

	q := service.ListQuery{
		Page:          defaultPage,
		PageSize:      defaultPageSize,
		Genres:        req.Genres,
		Certification: req.Certification,
	}
	if req.Page != nil {
		q.Page = *req.Page
	}
	if req.PageSize != nil {
		q.PageSize = *req.PageSize
	}

	page, err := h.Catalog.List(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, page)
}

// GetMovie GET /api/movies/:id?maximum_certification=&limit=
func (h *Handler) GetMovie(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		utils.BadRequest(c, "无效的电影ID")
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			utils.BadRequest(c, "无效的 limit")
			return
		}
	}

	result, err := h.Recommend.Recommend(c.Request.Context(), id, limit, c.Query("maximum_certification"))
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, result)
}

// Genres GET /api/genres
func (h *Handler) Genres(c *gin.Context) {
	genres, err := h.Catalog.Genres(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if genres == nil {
		genres = []string{}
	}
	utils.Success(c, genres)
}

// Certifications GET /api/certifications
func (h *Handler) Certifications(c *gin.Context) {
	certs, err := h.Catalog.Certifications(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, certs)
}
