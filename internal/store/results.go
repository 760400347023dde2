package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lesionlog/internal/model"
	"lesionlog/internal/stats"

	"gorm.io/gorm"
)

// ResultFilter 是结果查询条件，零值字段不参与过滤。
type ResultFilter struct {
	OwnerID    uint
	Prediction string
	Range      *model.DateRange
}

// Results 是结果表的 GORM 实现。
type Results struct {
	db *gorm.DB
}

// NewResults 基于 GORM 连接创建结果存储。
func NewResults(db *gorm.DB) *Results {
	return &Results{db: db}
}

// Create 写入一条结果，CreatedAt 为当前 UTC 时间，返回时预加载所属用户。
func (s *Results) Create(ctx context.Context, r *model.Result) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Omit("User").Create(r).Error; err != nil {
		return fmt.Errorf("create result: %w", translate(err))
	}

	var owner model.User
	err := s.db.WithContext(ctx).First(&owner, r.UserID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("load result owner: %w", err)
	}
	if err == nil {
		r.User = &owner
	}
	return nil
}

func (s *Results) filtered(ctx context.Context, f ResultFilter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&model.Result{})
	if f.OwnerID != 0 {
		q = q.Where("user_id = ?", f.OwnerID)
	}
	if p := strings.TrimSpace(f.Prediction); p != "" {
		q = q.Where("LOWER(prediction) LIKE ?", containsPattern(p))
	}
	if f.Range != nil {
		q = q.Where("created_at BETWEEN ? AND ?", f.Range.From, f.Range.To)
	}
	return q
}

// List 按条件分页查询，最新的在前，同时返回总数。
func (s *Results) List(ctx context.Context, f ResultFilter, page model.Page) ([]model.Result, int64, error) {
	var total int64
	if err := s.filtered(ctx, f).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count results: %w", err)
	}

	rows := []model.Result{}
	if total == 0 {
		return rows, 0, nil
	}
	if err := s.filtered(ctx, f).
		Preload("User").
		Order("created_at DESC").Order("id DESC").
		Offset(page.Offset()).Limit(page.Size).
		Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("list results: %w", err)
	}
	return rows, total, nil
}

// ListByOwner 返回某用户的全部结果（不分页），最新的在前。
func (s *Results) ListByOwner(ctx context.Context, ownerID uint) ([]model.Result, error) {
	rows := []model.Result{}
	if err := s.filtered(ctx, ResultFilter{OwnerID: ownerID}).
		Preload("User").
		Order("created_at DESC").Order("id DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list owner results: %w", err)
	}
	return rows, nil
}

// Recent 返回区间内最新的 limit 条结果（含用户），供报表使用。
func (s *Results) Recent(ctx context.Context, r model.DateRange, limit int) ([]model.Result, error) {
	rows := []model.Result{}
	if err := s.filtered(ctx, ResultFilter{Range: &r}).
		Preload("User").
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("recent results: %w", err)
	}
	return rows, nil
}

// Samples 返回 [from, to] 内的聚合样本，按时间升序；零值时间表示不限。
func (s *Results) Samples(ctx context.Context, from, to time.Time) ([]stats.Sample, error) {
	q := s.db.WithContext(ctx).Model(&model.Result{}).
		Select("confidence", "prediction", "user_id", "created_at")
	if !from.IsZero() {
		q = q.Where("created_at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("created_at <= ?", to)
	}

	samples := []stats.Sample{}
	if err := q.Order("created_at ASC").Order("id ASC").Scan(&samples).Error; err != nil {
		return nil, fmt.Errorf("load samples: %w", err)
	}
	return samples, nil
}
