// Package stats 提供对预测结果样本的纯函数聚合。
//
// 所有函数对相同输入给出相同输出，不持有任何共享状态；时间计算统一使用 UTC。
package stats

import (
	"math"
	"sort"
	"time"
)

const (
	// HighConfidenceThreshold 高置信度阈值（严格大于）。
	HighConfidenceThreshold = 90.0
	// RecentWindow 近期结果的时间窗口。
	RecentWindow = 7 * 24 * time.Hour
	// DefaultTopOwners 活跃用户榜单长度。
	DefaultTopOwners = 10
)

// Sample 是参与聚合的一条结果。
type Sample struct {
	Confidence float64
	Prediction string
	UserID     uint
	CreatedAt  time.Time
}

// Overview 是全局概览。
type Overview struct {
	TotalPredictions          int     `json:"totalPredictions"`
	HighConfidencePredictions int     `json:"highConfidencePredictions"`
	RecentPredictions         int     `json:"recentPredictions"`
	HighConfidencePercentage  float64 `json:"highConfidencePercentage"`
}

// ConfidenceStats 是置信度分布。
type ConfidenceStats struct {
	AvgConfidence float64 `json:"avgConfidence"`
	MinConfidence float64 `json:"minConfidence"`
	MaxConfidence float64 `json:"maxConfidence"`
	TotalCount    int     `json:"totalCount"`
}

// LabelBreakdown 是单个预测标签的统计。
type LabelBreakdown struct {
	Prediction    string  `json:"prediction"`
	Count         int     `json:"count"`
	AvgConfidence float64 `json:"avgConfidence"`
	MinConfidence float64 `json:"minConfidence"`
	MaxConfidence float64 `json:"maxConfidence"`
	UniqueUsers   int     `json:"uniqueUserCount"`
}

// Summary 是时间段汇总。
type Summary struct {
	TotalPredictions int     `json:"totalPredictions"`
	AvgConfidence    float64 `json:"avgConfidence"`
	UniqueUsers      int     `json:"uniqueUserCount"`
}

// OwnerCount 是单个用户的结果数量。
type OwnerCount struct {
	UserID        uint    `json:"userId"`
	Count         int     `json:"count"`
	AvgConfidence float64 `json:"avgConfidence"`
}

// ComputeOverview 计算总数、高置信度数量、近 7 天数量以及高置信度占比。
func ComputeOverview(samples []Sample, now time.Time) Overview {
	since := now.UTC().Add(-RecentWindow)
	var o Overview
	for _, s := range samples {
		o.TotalPredictions++
		if s.Confidence > HighConfidenceThreshold {
			o.HighConfidencePredictions++
		}
		if !s.CreatedAt.UTC().Before(since) {
			o.RecentPredictions++
		}
	}
	if o.TotalPredictions > 0 {
		o.HighConfidencePercentage = round2(float64(o.HighConfidencePredictions) / float64(o.TotalPredictions) * 100)
	}
	return o
}

// Confidence 计算置信度均值与极值；空输入返回零值。
func Confidence(samples []Sample) ConfidenceStats {
	var acc accumulator
	for _, s := range samples {
		acc.add(s)
	}
	return ConfidenceStats{
		AvgConfidence: acc.avg(),
		MinConfidence: acc.min,
		MaxConfidence: acc.max,
		TotalCount:    acc.count,
	}
}

// BreakdownByLabel 按预测标签分组，按数量降序；数量相同时保持首次出现顺序。
func BreakdownByLabel(samples []Sample) []LabelBreakdown {
	index := make(map[string]int)
	accs := make([]*accumulator, 0)
	labels := make([]string, 0)
	for _, s := range samples {
		i, ok := index[s.Prediction]
		if !ok {
			i = len(accs)
			index[s.Prediction] = i
			accs = append(accs, &accumulator{})
			labels = append(labels, s.Prediction)
		}
		accs[i].add(s)
	}

	out := make([]LabelBreakdown, 0, len(accs))
	for i, acc := range accs {
		out = append(out, LabelBreakdown{
			Prediction:    labels[i],
			Count:         acc.count,
			AvgConfidence: acc.avg(),
			MinConfidence: acc.min,
			MaxConfidence: acc.max,
			UniqueUsers:   len(acc.owners),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

// Summarize 计算时间段汇总。
func Summarize(samples []Sample) Summary {
	var acc accumulator
	for _, s := range samples {
		acc.add(s)
	}
	return Summary{
		TotalPredictions: acc.count,
		AvgConfidence:    acc.avg(),
		UniqueUsers:      len(acc.owners),
	}
}

// TopOwners 返回结果数量最多的前 limit 个用户。
func TopOwners(samples []Sample, limit int) []OwnerCount {
	if limit <= 0 {
		limit = DefaultTopOwners
	}
	index := make(map[uint]int)
	accs := make([]*accumulator, 0)
	ids := make([]uint, 0)
	for _, s := range samples {
		i, ok := index[s.UserID]
		if !ok {
			i = len(accs)
			index[s.UserID] = i
			accs = append(accs, &accumulator{})
			ids = append(ids, s.UserID)
		}
		accs[i].add(s)
	}

	out := make([]OwnerCount, 0, len(accs))
	for i, acc := range accs {
		out = append(out, OwnerCount{UserID: ids[i], Count: acc.count, AvgConfidence: acc.avg()})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

type accumulator struct {
	count  int
	sum    float64
	min    float64
	max    float64
	owners map[uint]struct{}
}

func (a *accumulator) add(s Sample) {
	if a.count == 0 {
		a.min = s.Confidence
		a.max = s.Confidence
		a.owners = make(map[uint]struct{})
	}
	a.count++
	a.sum += s.Confidence
	a.min = math.Min(a.min, s.Confidence)
	a.max = math.Max(a.max, s.Confidence)
	a.owners[s.UserID] = struct{}{}
}

func (a *accumulator) avg() float64 {
	if a.count == 0 {
		return 0
	}
	return round2(a.sum / float64(a.count))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
