package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"lesionlog/internal/model"
	"lesionlog/internal/pkg/apperr"
	"lesionlog/internal/pkg/metrics"
	"lesionlog/internal/stats"
	"lesionlog/internal/store"
)

// ResultStore 是结果存储接口（store.Results 实现）。
type ResultStore interface {
	Create(ctx context.Context, r *model.Result) error
	List(ctx context.Context, f store.ResultFilter, page model.Page) ([]model.Result, int64, error)
	ListByOwner(ctx context.Context, ownerID uint) ([]model.Result, error)
	Recent(ctx context.Context, r model.DateRange, limit int) ([]model.Result, error)
	Samples(ctx context.Context, from, to time.Time) ([]stats.Sample, error)
}

// UserLookup 按 ID 查询用户（store.Users 实现）。
type UserLookup interface {
	FindByID(ctx context.Context, id uint) (*model.User, error)
	FindByIDs(ctx context.Context, ids []uint) ([]model.User, error)
}

// ResultService 负责结果的写入、查询与统计。
type ResultService struct {
	results ResultStore
	users   UserLookup
	logger  *slog.Logger
	now     func() time.Time
}

// NewResultService 创建结果服务。
func NewResultService(results ResultStore, users UserLookup, logger *slog.Logger) *ResultService {
	return &ResultService{results: results, users: users, logger: logger, now: time.Now}
}

// CreateResultInput 是写入结果的参数；Confidence 为 nil 表示缺失。
type CreateResultInput struct {
	Confidence *float64
	Prediction string
}

// ResultPage 是分页查询结果。
type ResultPage struct {
	Results    []model.Result
	Pagination model.Pagination
}

// TopUser 是活跃用户榜单中的一项；用户已不存在时 User 为 nil。
type TopUser struct {
	stats.OwnerCount
	User *model.Profile `json:"user"`
}

// Statistics 是 /results/stats 的响应体。
type Statistics struct {
	Overview            stats.Overview         `json:"overview"`
	ConfidenceStats     stats.ConfidenceStats  `json:"confidenceStats"`
	PredictionBreakdown []stats.LabelBreakdown `json:"predictionBreakdown"`
	TopUsers            []TopUser              `json:"topUsers"`
}

// PeriodRange 是趋势统计覆盖的时间范围。
type PeriodRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// PeriodStatistics 是 /results/stats/:period 的响应体。
type PeriodStatistics struct {
	Period              stats.Period           `json:"period"`
	DateRange           PeriodRange            `json:"dateRange"`
	Summary             stats.Summary          `json:"summary"`
	TimeSeriesData      []stats.Bucket         `json:"timeSeriesData"`
	PredictionBreakdown []stats.LabelBreakdown `json:"predictionBreakdown"`
}

// Create 校验并写入一条结果。
func (s *ResultService) Create(ctx context.Context, ownerID uint, in CreateResultInput) (model.Result, error) {
	prediction := strings.TrimSpace(in.Prediction)
	if in.Confidence == nil || prediction == "" {
		return model.Result{}, apperr.Validation("Confidence and prediction are required")
	}
	if utf8.RuneCountInString(prediction) > model.MaxPredictionLength {
		return model.Result{}, apperr.Validation(fmt.Sprintf("Prediction must be at most %d characters", model.MaxPredictionLength))
	}
	conf := *in.Confidence
	if math.IsNaN(conf) || conf < 0 || conf > 100 {
		return model.Result{}, apperr.Validation("Confidence must be between 0 and 100")
	}

	r := model.Result{
		Confidence: conf,
		Prediction: prediction,
		UserID:     ownerID,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.results.Create(ctx, &r); err != nil {
		return model.Result{}, apperr.Internal("Failed to save result", err)
	}
	metrics.ResultsCreatedTotal.Inc()
	return r, nil
}

func (s *ResultService) list(ctx context.Context, f store.ResultFilter, page model.Page) (ResultPage, error) {
	rows, total, err := s.results.List(ctx, f, page)
	if err != nil {
		return ResultPage{}, apperr.Internal("Failed to fetch results", err)
	}
	return ResultPage{Results: rows, Pagination: model.NewPagination(page, total)}, nil
}

// ListMine 返回调用者自己的结果。
func (s *ResultService) ListMine(ctx context.Context, ownerID uint, page model.Page) (ResultPage, error) {
	return s.list(ctx, store.ResultFilter{OwnerID: ownerID}, page)
}

// ListAll 返回全部结果（管理员）。
func (s *ResultService) ListAll(ctx context.Context, page model.Page) (ResultPage, error) {
	return s.list(ctx, store.ResultFilter{}, page)
}

// ListForUser 返回指定用户的全部结果；用户不存在时返回 NotFound。
func (s *ResultService) ListForUser(ctx context.Context, userID uint) ([]model.Result, error) {
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("User not found")
		}
		return nil, apperr.Internal("Failed to fetch user results", err)
	}
	rows, err := s.results.ListByOwner(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("Failed to fetch user results", err)
	}
	return rows, nil
}

// SearchByPrediction 按预测标签子串（大小写不敏感）查询。
func (s *ResultService) SearchByPrediction(ctx context.Context, text string, page model.Page) (ResultPage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ResultPage{}, apperr.Validation("Prediction text is required")
	}
	return s.list(ctx, store.ResultFilter{Prediction: text}, page)
}

// ListByDateRange 按日期范围查询。
func (s *ResultService) ListByDateRange(ctx context.Context, start, end string, page model.Page) (ResultPage, error) {
	r, err := parseRange(start, end)
	if err != nil {
		return ResultPage{}, err
	}
	return s.list(ctx, store.ResultFilter{Range: &r}, page)
}

func parseRange(start, end string) (model.DateRange, error) {
	r, err := model.ParseDayRange(start, end)
	switch {
	case err == nil:
		return r, nil
	case errors.Is(err, model.ErrMissingStartDate):
		return model.DateRange{}, apperr.Validation("Start date is required")
	case errors.Is(err, model.ErrInvalidDateRange):
		return model.DateRange{}, apperr.Validation("End date must not be before start date")
	default:
		return model.DateRange{}, apperr.Wrap(apperr.KindValidation, "Invalid date format, use YYYY-MM-DD", err)
	}
}

// Statistics 计算全局统计；start/end 都为空时统计全部结果。
func (s *ResultService) Statistics(ctx context.Context, start, end string) (Statistics, error) {
	var from, to time.Time
	if strings.TrimSpace(start) != "" || strings.TrimSpace(end) != "" {
		r, err := parseRange(start, end)
		if err != nil {
			return Statistics{}, err
		}
		from, to = r.From, r.To
	}

	samples, err := s.results.Samples(ctx, from, to)
	if err != nil {
		return Statistics{}, apperr.Internal("Failed to compute statistics", err)
	}
	top, err := s.attachProfiles(ctx, stats.TopOwners(samples, stats.DefaultTopOwners))
	if err != nil {
		return Statistics{}, err
	}
	return Statistics{
		Overview:            stats.ComputeOverview(samples, s.now()),
		ConfidenceStats:     stats.Confidence(samples),
		PredictionBreakdown: stats.BreakdownByLabel(samples),
		TopUsers:            top,
	}, nil
}

func (s *ResultService) attachProfiles(ctx context.Context, owners []stats.OwnerCount) ([]TopUser, error) {
	ids := make([]uint, 0, len(owners))
	for _, o := range owners {
		ids = append(ids, o.UserID)
	}
	users, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Internal("Failed to compute statistics", err)
	}
	byID := make(map[uint]model.Profile, len(users))
	for i := range users {
		byID[users[i].ID] = users[i].Profile()
	}

	out := make([]TopUser, 0, len(owners))
	for _, o := range owners {
		tu := TopUser{OwnerCount: o}
		if p, ok := byID[o.UserID]; ok {
			tu.User = &p
		}
		out = append(out, tu)
	}
	return out, nil
}

// PeriodStatistics 计算 daily / weekly / monthly / yearly 趋势。
func (s *ResultService) PeriodStatistics(ctx context.Context, period string) (PeriodStatistics, error) {
	p, err := stats.ParsePeriod(period)
	if err != nil {
		return PeriodStatistics{}, apperr.Validation("Invalid period. Use daily, weekly, monthly, or yearly")
	}
	now := s.now().UTC()
	since := p.Since(now)

	samples, err := s.results.Samples(ctx, since, now)
	if err != nil {
		return PeriodStatistics{}, apperr.Internal("Failed to compute period statistics", err)
	}
	return PeriodStatistics{
		Period:              p,
		DateRange:           PeriodRange{From: since, To: now},
		Summary:             stats.Summarize(samples),
		TimeSeriesData:      stats.Trend(samples, p, now),
		PredictionBreakdown: stats.BreakdownByLabel(samples),
	}, nil
}
