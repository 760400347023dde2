package service

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"time"

	"lesionlog/internal/model"
	"lesionlog/internal/pkg/apperr"
	"lesionlog/internal/pkg/metrics"
	"lesionlog/internal/pkg/notify"
	"lesionlog/internal/report"
)

// ReportSource 提供报表数据（store.Results 实现）。
type ReportSource interface {
	Recent(ctx context.Context, r model.DateRange, limit int) ([]model.Result, error)
}

// RoleCounter 提供用户角色统计（UserService 实现）。
type RoleCounter interface {
	RoleCounts(ctx context.Context) (RoleCounts, error)
}

// ReportConfig 是报表参数。
type ReportConfig struct {
	MaxRows   int
	TableRows int
	TempDir   string
}

// ReportService 生成 PDF 报表，用于下载或邮件发送。
type ReportService struct {
	results ReportSource
	users   RoleCounter
	mailer  notify.Notifier
	cfg     ReportConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewReportService 创建报表服务；MaxRows/TableRows 为 0 时使用默认值。
func NewReportService(results ReportSource, users RoleCounter, mailer notify.Notifier, cfg ReportConfig, logger *slog.Logger) *ReportService {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 1000
	}
	if cfg.TableRows <= 0 {
		cfg.TableRows = report.DefaultTableRows
	}
	return &ReportService{results: results, users: users, mailer: mailer, cfg: cfg, logger: logger, now: time.Now}
}

// Document 是渲染完成的报表。
type Document struct {
	Filename string
	Body     []byte
}

func (s *ReportService) collect(ctx context.Context, start, end string) (report.Data, error) {
	r, err := parseRange(start, end)
	if err != nil {
		return report.Data{}, err
	}
	results, err := s.results.Recent(ctx, r, s.cfg.MaxRows)
	if err != nil {
		return report.Data{}, apperr.Internal("Failed to generate report", err)
	}
	if len(results) == 0 {
		return report.Data{}, apperr.NotFound("No results found for the selected date range")
	}
	counts, err := s.users.RoleCounts(ctx)
	if err != nil {
		return report.Data{}, err
	}

	rows, labels := report.FromResults(results)
	return report.Data{
		Range:       r,
		GeneratedAt: s.now().UTC(),
		Users: report.UserStats{
			Total:           counts.TotalUsers,
			Admins:          counts.AdminCount,
			Users:           counts.UserCount,
			AdminPercentage: counts.AdminPercentage,
			UserPercentage:  counts.UserPercentage,
		},
		Total:     len(rows),
		Labels:    labels,
		Rows:      rows,
		TableRows: s.cfg.TableRows,
	}, nil
}

// Download 在内存中渲染完整文档后返回。
func (s *ReportService) Download(ctx context.Context, start, end string) (Document, error) {
	data, err := s.collect(ctx, start, end)
	if err != nil {
		return Document{}, err
	}
	var buf bytes.Buffer
	if err := report.Render(&buf, data); err != nil {
		metrics.ReportsGeneratedTotal.WithLabelValues("download", "error").Inc()
		return Document{}, apperr.Internal("Failed to generate report", err)
	}
	metrics.ReportsGeneratedTotal.WithLabelValues("download", "ok").Inc()
	return Document{Filename: report.Filename(data.Range), Body: buf.Bytes()}, nil
}

// Email 把报表写入临时文件，关闭后作为附件发送给 to，最后删除临时文件。
func (s *ReportService) Email(ctx context.Context, start, end string, to string) (string, error) {
	if to == "" {
		return "", apperr.Validation("Recipient email is required")
	}
	data, err := s.collect(ctx, start, end)
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp(s.cfg.TempDir, "prediction-report-*.pdf")
	if err != nil {
		return "", apperr.Internal("Failed to generate report", err)
	}
	path := f.Name()
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("remove report temp file failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}()

	renderErr := report.Render(f, data)
	closeErr := f.Close()
	if renderErr != nil || closeErr != nil {
		metrics.ReportsGeneratedTotal.WithLabelValues("email", "error").Inc()
		if renderErr == nil {
			renderErr = closeErr
		}
		return "", apperr.Internal("Failed to generate report", renderErr)
	}

	filename := report.Filename(data.Range)
	if err := s.mailer.SendReport(ctx, to, path, filename, data.Range.Label()); err != nil {
		metrics.ReportsGeneratedTotal.WithLabelValues("email", "error").Inc()
		return "", apperr.Internal("Failed to send report email", err)
	}
	metrics.ReportsGeneratedTotal.WithLabelValues("email", "ok").Inc()
	s.logger.Info("report emailed", slog.String("to", to), slog.String("range", data.Range.Label()))
	return filename, nil
}
