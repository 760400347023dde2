package model

import (
	"fmt"
	"strings"
	"time"
)

// Role 是用户角色。
type Role string

const (
	RoleAdmin Role = "admin" // 管理员：可查看全部结果、统计与报表
	RoleUser  Role = "user"  // 普通用户：只能写入和查看自己的结果
)

// ParseRole 解析角色字符串（大小写不敏感）。
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleUser:
		return RoleUser, nil
	default:
		return "", fmt.Errorf("invalid role %q", s)
	}
}

// User 表示系统用户。
type User struct {
	ID        uint      `gorm:"primaryKey"`                             // 用户 ID
	Username  string    `gorm:"type:varchar(64);uniqueIndex;not null"`  // 用户名（唯一）
	Email     string    `gorm:"type:varchar(191);uniqueIndex;not null"` // 邮箱（唯一，小写）
	Password  string    `gorm:"not null" json:"-"`                      // bcrypt 哈希，永不序列化
	Role      Role      `gorm:"type:varchar(16);default:user;index"`    // 角色: admin / user
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间

	Results []Result `gorm:"foreignKey:UserID" json:"-"`
}

// Profile 是用户的公开信息，不含密码。
type Profile struct {
	ID        uint      `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// Profile 返回用户的公开投影。
func (u *User) Profile() Profile {
	return Profile{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}
