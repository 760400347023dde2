package model

import (
	"time"
)

// MaxPredictionLength 是预测标签的最大字符数（与 prediction 列宽一致）。
const MaxPredictionLength = 191

// Result 表示一次皮损预测结果。
//
// 结果只追加不修改：没有更新或删除操作。UserID 通过外键关联 users 表，
// 读取时仍需容忍 User 为空（历史数据或预加载失败）。
type Result struct {
	ID         uint      `gorm:"primaryKey"`                                     // 结果 ID
	Confidence float64   `gorm:"not null;index"`                                 // 置信度 0..100（含两端）
	Prediction string    `gorm:"type:varchar(191);not null;index"`               // 预测标签（已去除首尾空白）
	UserID     uint      `gorm:"not null;index"`                                 // 所属用户 ID
	User       *User     `gorm:"foreignKey:UserID;constraint:OnDelete:RESTRICT"` // 所属用户
	CreatedAt  time.Time `gorm:"index"`                                          // 写入时间（UTC，不可变）
}

// ResultOwner 是结果响应中嵌入的用户摘要。
type ResultOwner struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// ResultView 是结果的 JSON 表示。
type ResultView struct {
	ID         uint         `json:"id"`
	Confidence float64      `json:"confidence"`
	Prediction string       `json:"prediction"`
	UserID     uint         `json:"userId"`
	User       *ResultOwner `json:"user"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// View 构造结果的响应视图；用户缺失时 user 为 null。
func (r *Result) View() ResultView {
	v := ResultView{
		ID:         r.ID,
		Confidence: r.Confidence,
		Prediction: r.Prediction,
		UserID:     r.UserID,
		CreatedAt:  r.CreatedAt,
	}
	if r.User != nil {
		v.User = &ResultOwner{ID: r.User.ID, Username: r.User.Username, Email: r.User.Email}
	}
	return v
}

// Views 批量转换。
func Views(results []Result) []ResultView {
	out := make([]ResultView, 0, len(results))
	for i := range results {
		out = append(out, results[i].View())
	}
	return out
}
