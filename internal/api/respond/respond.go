// Package respond 统一 JSON 响应信封：{success, message, ...}。
package respond

import (
	"log/slog"
	"net/http"

	"lesionlog/internal/pkg/apperr"

	"github.com/gin-gonic/gin"
)

// Errors 把错误映射为 HTTP 响应。Verbose 为 true 时附带内部错误详情（仅开发环境）。
type Errors struct {
	Logger  *slog.Logger
	Verbose bool
}

// OK 写入成功响应，body 中的字段与 success/message 合并。
func OK(c *gin.Context, status int, message string, body gin.H) {
	out := gin.H{"success": true}
	if message != "" {
		out["message"] = message
	}
	for k, v := range body {
		out[k] = v
	}
	c.JSON(status, out)
}

// Fail 写入失败响应。
func Fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": message})
}

// Error 按错误类别写入失败响应，内部错误记录日志。
func (e Errors) Error(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := kind.Status()
	message := apperr.Message(err, "Internal server error")

	if kind == apperr.KindInternal && e.Logger != nil {
		e.Logger.Error("request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()),
		)
	}

	body := gin.H{"success": false, "message": message}
	if e.Verbose && err != nil {
		body["error"] = err.Error()
	}
	c.AbortWithStatusJSON(status, body)
}

// NotFound 是未匹配路由的处理器。
func NotFound(c *gin.Context) {
	Fail(c, http.StatusNotFound, "Route not found")
}
