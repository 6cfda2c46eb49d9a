package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/services"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/store"
	"github.com/clay-wangzhi/k8s-daily-monitor/pkg/logger"
)

// respond 统一响应格式 {"code","message","data"}
func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, gin.H{
		"code":    status,
		"message": message,
		"data":    data,
	})
}

// respondError 将业务错误映射为 HTTP 状态码
func respondError(c *gin.Context, prefix string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, services.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrCheckInProgress), errors.Is(err, services.ErrPullInProgress):
		status = http.StatusConflict
	case errors.Is(err, services.ErrDispatcherClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		logger.Error("%s: %v", prefix, err)
	}
	respond(c, status, prefix+": "+err.Error(), nil)
}

// parseID 解析路径中的数字 ID
func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		respond(c, http.StatusBadRequest, "无效的"+name, nil)
		return 0, false
	}
	return uint(id), true
}

// optionalID 解析可选的查询参数 ID，缺省时返回 nil
func optionalID(c *gin.Context, name string) (*uint, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		respond(c, http.StatusBadRequest, "无效的"+name, nil)
		return nil, false
	}
	v := uint(id)
	return &v, true
}
