// Package api 导出任务的 HTTP 接口
package api

import (
	"errors"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"allocexport/internal/model"
	"allocexport/internal/pipeline"
)

// Handler API 处理器
type Handler struct {
	svc *pipeline.Service
}

// NewHandler 创建 API 处理器
func NewHandler(svc *pipeline.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	// 系统状态
	router.GET("/status", h.GetStatus)

	// 导出任务
	router.POST("/exports", h.CreateExport)
	router.GET("/exports/:id", h.GetExport)
	router.GET("/exports/:id/events", h.ExportEvents)
	router.GET("/exports/:id/download/:name", h.DownloadArtifact)
}

// GetStatus 系统状态
// GET /api/status
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "allocexport",
		"status":  "ok",
	})
}

type createExportRequest struct {
	Format  string            `json:"format" binding:"required"`
	Filters map[string]string `json:"filters"`
}

// CreateExport 创建导出任务并后台执行
// POST /api/exports
func (h *Handler) CreateExport(c *gin.Context) {
	var req createExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求体格式错误: " + err.Error()})
		return
	}

	job, err := h.svc.Start(c.Request.Context(), req.Format, req.Filters)
	if err != nil {
		var perr *model.PipelineError
		if errors.As(err, &perr) && perr.Kind == model.KindValidation {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建导出任务失败: " + err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, job)
}

// GetExport 查询任务记录
// GET /api/exports/:id
func (h *Handler) GetExport(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, job)
}

// DownloadArtifact 下载任务产物文件
// GET /api/exports/:id/download/:name
func (h *Handler) DownloadArtifact(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}

	if job.Status != model.JobSuccess {
		c.JSON(http.StatusConflict, gin.H{"error": "任务尚未成功完成"})
		return
	}

	name := c.Param("name")
	var file *model.ExportedFile
	for i := range job.Files {
		if job.Files[i].Name == name {
			file = &job.Files[i]
			break
		}
	}
	if file == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "产物文件不存在"})
		return
	}

	if _, err := os.Stat(file.Path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "产物文件已被清理"})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+file.Name+`"`)
	c.Header("Content-Type", contentTypeFor(job.Format))
	c.Header("X-Content-SHA256", file.SHA256)
	c.File(file.Path)
}

func (h *Handler) loadJob(c *gin.Context) (*model.ExportJob, bool) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少任务 id"})
		return nil, false
	}

	job, found, err := h.svc.Store().Load(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取任务记录失败: " + err.Error()})
		return nil, false
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "任务不存在"})
		return nil, false
	}
	return job, true
}

func contentTypeFor(format string) string {
	switch format {
	case model.FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case model.FormatCSV:
		return "text/csv; charset=utf-8"
	}
	return "application/octet-stream"
}
