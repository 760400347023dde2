package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout 是请求参数中的日期格式。
const DateLayout = "2006-01-02"

var (
	// ErrMissingStartDate 表示缺少开始日期。
	ErrMissingStartDate = errors.New("start date is required")
	// ErrInvalidDateRange 表示结束日期早于开始日期。
	ErrInvalidDateRange = errors.New("end date must not be before start date")
)

// DateRange 是按 UTC 天对齐的闭区间 [From, To]。
type DateRange struct {
	From time.Time
	To   time.Time
}

// ParseDayRange 解析 YYYY-MM-DD 日期范围。
//
// From 为开始日 00:00:00.000，To 为结束日（缺省为开始日）23:59:59.999，均为 UTC。
func ParseDayRange(start, end string) (DateRange, error) {
	start = strings.TrimSpace(start)
	end = strings.TrimSpace(end)
	if start == "" {
		return DateRange{}, ErrMissingStartDate
	}
	from, err := time.ParseInLocation(DateLayout, start, time.UTC)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	last := from
	if end != "" {
		last, err = time.ParseInLocation(DateLayout, end, time.UTC)
		if err != nil {
			return DateRange{}, fmt.Errorf("invalid end date %q: %w", end, err)
		}
	}
	if last.Before(from) {
		return DateRange{}, ErrInvalidDateRange
	}
	to := last.Add(24*time.Hour - time.Millisecond)
	return DateRange{From: from, To: to}, nil
}

// Contains 判断 t 是否落在区间内（含两端）。
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && !t.After(r.To)
}

// StartLabel 返回开始日期字符串。
func (r DateRange) StartLabel() string { return r.From.Format(DateLayout) }

// EndLabel 返回结束日期字符串。
func (r DateRange) EndLabel() string { return r.To.Format(DateLayout) }

// Label 返回 "start to end" 形式的描述。
func (r DateRange) Label() string {
	return r.StartLabel() + " to " + r.EndLabel()
}
