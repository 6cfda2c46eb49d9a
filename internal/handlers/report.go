package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/services"
)

// ReportHandler 每日巡检报表下载
type ReportHandler struct {
	reports *services.ReportService
}

// NewReportHandler 创建报表处理器
func NewReportHandler(reports *services.ReportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// DownloadDaily 生成并下载报表，format 为 md / csv / yaml
func (h *ReportHandler) DownloadDaily(c *gin.Context) {
	clusterID, ok := optionalID(c, "cluster_id")
	if !ok {
		return
	}
	file, err := h.reports.Generate(c.Request.Context(), clusterID, c.DefaultQuery("format", services.ReportMarkdown))
	if err != nil {
		respondError(c, "生成报表失败", err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, file.Filename))
	c.Data(http.StatusOK, file.ContentType, file.Body)
}
