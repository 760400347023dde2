package api

import (
	"fmt"
	"net/http"
	"strconv"

	"lesionlog/internal/model"
	"lesionlog/internal/pkg/apperr"
	"lesionlog/internal/service"

	"github.com/gin-gonic/gin"
)

type createResultRequest struct {
	Confidence *float64 `json:"confidence"`
	Prediction string   `json:"prediction"`
}

type emailReportRequest struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// parsePage 读取 page/limit 查询参数；非法值回退为默认值。
func parsePage(c *gin.Context) model.Page {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	return model.NewPage(page, limit)
}

func (s *Server) writePage(c *gin.Context, p service.ResultPage) {
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"count":      len(p.Results),
		"data":       model.Views(p.Results),
		"pagination": p.Pagination,
	})
}

// handleCreateResult 保存一条预测结果，归属于当前用户。
//
// POST /results
func (s *Server) handleCreateResult(c *gin.Context) {
	var req createResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.errs.Error(c, apperr.Wrap(apperr.KindValidation, "Confidence and prediction are required", err))
		return
	}
	r, err := s.results.Create(c.Request.Context(), principal(c).UserID, service.CreateResultInput{
		Confidence: req.Confidence,
		Prediction: req.Prediction,
	})
	if err != nil {
		s.errs.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Result saved successfully", "data": r.View()})
}

// handleMyResults 返回当前用户的结果（分页）。
//
// GET /results/my-results
func (s *Server) handleMyResults(c *gin.Context) {
	p, err := s.results.ListMine(c.Request.Context(), principal(c).UserID, parsePage(c))
	if err != nil {
		s.errs.Error(c, err)
		return
	}
	s.writePage(c, p)
}

// handleAllResults 返回全部结果（分页，管理员）。
//
// GET /results
func (s *Server) handleAllResults(c *gin.Context) {
	p, err := s.results.ListAll(c.Request.Context(), parsePage(c))
	if err != nil {
		s.errs.Error(c, err)
		return
	}
	s.writePage(c, p)
}

// handleUserResults 返回指定用户的全部结果。
//
// GET /results/user/:userId
func (s *Server) handleUserResults(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("userId"), 10, 64)
	if err != nil || id == 0 {
		s.errs.Error(c, apperr.Validation("Invalid user id"))
		return
	}
	rows, err := s.results.ListForUser(c.Request.Context(), uint(id))
	if err != nil {
		s.errs.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(rows), "data": model.Views(rows)})
}

// handleStatistics 返回全局统计，可选 startDate/endDate 过滤。
//
// GET /results/stats
func (s *Server) handleStatistics(c *gin.Context) {
	st, err := s.results.Statistics(c.Request.Context(), c.Query("startDate"), c.Query("endDate"))
	if err != nil {
		s.errs.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": st})
}

// handlePeriodStatistics 返回按时间粒度的趋势统计。
//
// GET /results/stats/:period
func (s *Server) handlePeriodStatistics(c *gin.Context) {
	ps, err := s.results.PeriodStatistics(c.Request.Context(), c.Param("period"))
	if err != nil {
		s.errs.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": ps})
}

// handleResultsByPrediction 按预测标签子串查询（分页）。
//
// GET /results/prediction/:text
func (s *Server) handleResultsByPrediction(c *gin.Context) {
	p, err := s.results.SearchByPrediction(c.Request.Context(), c.Param("text"), parsePage(c))
	if err != nil {
		s.errs.Error(c, err)
		return
	}
	s.writePage(c, p)
}

// handleResultsByDate 按日期范围查询（分页）。
//
// GET /results/date?startDate=YYYY-MM-DD&endDate=YYYY-MM-DD
func (s *Server) handleResultsByDate(c *gin.Context) {
	p, err := s.results.ListByDateRange(c.Request.Context(), c.Query("startDate"), c.Query("endDate"), parsePage(c))
	if err != nil {
		s.errs.Error(c, err)
		return
	}
	s.writePage(c, p)
}

// handleDownloadReport 渲染 PDF 报表并作为附件下载。
//
// GET /results/download-report?startDate=YYYY-MM-DD&endDate=YYYY-MM-DD
func (s *Server) handleDownloadReport(c *gin.Context) {
	doc, err := s.reports.Download(c.Request.Context(), c.Query("startDate"), c.Query("endDate"))
	if err != nil {
		s.errs.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, doc.Filename))
	c.Data(http.StatusOK, "application/pdf", doc.Body)
}

// handleEmailReport 渲染 PDF 报表并发送到当前用户邮箱。
//
// POST /results/email-report
func (s *Server) handleEmailReport(c *gin.Context) {
	var req emailReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.errs.Error(c, apperr.Wrap(apperr.KindValidation, "Invalid request body", err))
		return
	}
	to := principal(c).Email
	filename, err := s.reports.Email(c.Request.Context(), req.StartDate, req.EndDate, to)
	if err != nil {
		s.errs.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  fmt.Sprintf("Report sent to %s", to),
		"filename": filename,
	})
}
