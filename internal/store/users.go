package store

import (
	"context"
	"fmt"

	"lesionlog/internal/model"

	"gorm.io/gorm"
)

// Users 是用户表的 GORM 实现。
type Users struct {
	db *gorm.DB
}

// NewUsers 基于 GORM 连接创建用户存储。
func NewUsers(db *gorm.DB) *Users {
	return &Users{db: db}
}

// Create 写入新用户；唯一键冲突返回 ErrDuplicate。
func (s *Users) Create(ctx context.Context, u *model.User) error {
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("create user: %w", translate(err))
	}
	return nil
}

// FindByEmail 按邮箱查找用户。
func (s *Users) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, fmt.Errorf("find user by email: %w", translate(err))
	}
	return &u, nil
}

// FindByID 按 ID 查找用户。
func (s *Users) FindByID(ctx context.Context, id uint) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, fmt.Errorf("find user %d: %w", id, translate(err))
	}
	return &u, nil
}

// ExistsByUsernameOrEmail 判断用户名或邮箱是否已被占用。
func (s *Users) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.User{}).
		Where("username = ? OR email = ?", username, email).
		Count(&n).Error; err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return n > 0, nil
}

// UpdatePassword 更新密码哈希。
func (s *Users) UpdatePassword(ctx context.Context, id uint, hash string) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Update("password", hash)
	if res.Error != nil {
		return fmt.Errorf("update password: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update password: %w", ErrNotFound)
	}
	return nil
}

// List 返回用户列表；role 为空时返回全部。
func (s *Users) List(ctx context.Context, role model.Role) ([]model.User, error) {
	q := s.db.WithContext(ctx).Model(&model.User{})
	if role != "" {
		q = q.Where("role = ?", role)
	}
	users := []model.User{}
	if err := q.Order("id ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// FindByIDs 批量查找用户，缺失的 ID 直接忽略。
func (s *Users) FindByIDs(ctx context.Context, ids []uint) ([]model.User, error) {
	users := []model.User{}
	if len(ids) == 0 {
		return users, nil
	}
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	return users, nil
}

type roleCount struct {
	Role  model.Role
	Count int64
}

// CountByRole 按角色统计用户数。
func (s *Users) CountByRole(ctx context.Context) (map[model.Role]int64, error) {
	var rows []roleCount
	if err := s.db.WithContext(ctx).Model(&model.User{}).
		Select("role, COUNT(*) AS count").
		Group("role").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("count users by role: %w", err)
	}
	out := make(map[model.Role]int64, len(rows))
	for _, r := range rows {
		out[r.Role] += r.Count
	}
	return out, nil
}
