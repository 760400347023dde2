package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Period 是趋势统计的时间粒度。
type Period string

const (
	Daily Period = "daily"
	// Weekly 按 ISO 8601 周分桶：周一开始，键为 ISO 年与周序号（UTC）。
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
	Yearly  Period = "yearly"
)

// ParsePeriod 解析时间粒度（大小写不敏感）。
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case Daily, Weekly, Monthly, Yearly:
		return p, nil
	default:
		return "", fmt.Errorf("invalid period %q: use daily, weekly, monthly or yearly", s)
	}
}

// Lookback 返回该粒度的回看窗口。
func (p Period) Lookback() time.Duration {
	const day = 24 * time.Hour
	switch p {
	case Daily:
		return 30 * day
	case Weekly:
		return 84 * day
	case Monthly:
		return 365 * day
	case Yearly:
		return 5 * 365 * day
	default:
		return 0
	}
}

// Since 返回回看窗口的起点。
func (p Period) Since(now time.Time) time.Time {
	return now.UTC().Add(-p.Lookback())
}

// BucketKey 标识一个时间桶。Week 仅在 weekly 时有值（ISO 周），此时 Year 为 ISO 年。
type BucketKey struct {
	Year  int `json:"year"`
	Month int `json:"month,omitempty"`
	Week  int `json:"week,omitempty"`
	Day   int `json:"day,omitempty"`
}

// Bucket 是一个时间桶的统计。
type Bucket struct {
	Key           BucketKey `json:"_id"`
	Label         string    `json:"label"`
	Count         int       `json:"count"`
	AvgConfidence float64   `json:"avgConfidence"`
	MinConfidence float64   `json:"minConfidence"`
	MaxConfidence float64   `json:"maxConfidence"`
	UniqueUsers   int       `json:"uniqueUserCount"`
	Predictions   []string  `json:"predictions"`

	start time.Time
}

// Trend 把 [p.Since(now), now] 内的样本按粒度分桶，桶按时间升序。
//
// 每个桶的 Predictions 按样本时间顺序列出每条结果的标签。
func Trend(samples []Sample, p Period, now time.Time) []Bucket {
	since := p.Since(now)
	inWindow := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if !s.CreatedAt.UTC().Before(since) {
			inWindow = append(inWindow, s)
		}
	}
	sort.SliceStable(inWindow, func(i, j int) bool { return inWindow[i].CreatedAt.Before(inWindow[j].CreatedAt) })

	index := make(map[BucketKey]int)
	accs := make([]*accumulator, 0)
	buckets := make([]Bucket, 0)
	for _, s := range inWindow {
		key, start := bucketOf(s.CreatedAt.UTC(), p)
		i, ok := index[key]
		if !ok {
			i = len(buckets)
			index[key] = i
			accs = append(accs, &accumulator{})
			buckets = append(buckets, Bucket{Key: key, Label: labelOf(key, p), start: start, Predictions: []string{}})
		}
		accs[i].add(s)
		buckets[i].Predictions = append(buckets[i].Predictions, s.Prediction)
	}

	for i := range buckets {
		buckets[i].Count = accs[i].count
		buckets[i].AvgConfidence = accs[i].avg()
		buckets[i].MinConfidence = accs[i].min
		buckets[i].MaxConfidence = accs[i].max
		buckets[i].UniqueUsers = len(accs[i].owners)
	}
	sort.SliceStable(buckets, func(i, j int) bool { return buckets[i].start.Before(buckets[j].start) })
	return buckets
}

func bucketOf(t time.Time, p Period) (BucketKey, time.Time) {
	switch p {
	case Weekly:
		y, w := t.ISOWeek()
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return BucketKey{Year: y, Week: w}, day.AddDate(0, 0, -offset)
	case Monthly:
		return BucketKey{Year: t.Year(), Month: int(t.Month())}, time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case Yearly:
		return BucketKey{Year: t.Year()}, time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return BucketKey{Year: t.Year(), Month: int(t.Month()), Day: t.Day()},
			time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

func labelOf(k BucketKey, p Period) string {
	switch p {
	case Weekly:
		return fmt.Sprintf("%04d-W%02d", k.Year, k.Week)
	case Monthly:
		return fmt.Sprintf("%04d-%02d", k.Year, k.Month)
	case Yearly:
		return fmt.Sprintf("%04d", k.Year)
	default:
		return fmt.Sprintf("%04d-%02d-%02d", k.Year, k.Month, k.Day)
	}
}
