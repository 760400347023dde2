package service

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"lesionlog/internal/model"
	"lesionlog/internal/pkg/apperr"
	"lesionlog/internal/store"
)

// DirectoryStore 是用户目录需要的存储接口（store.Users 实现）。
type DirectoryStore interface {
	List(ctx context.Context, role model.Role) ([]model.User, error)
	FindByID(ctx context.Context, id uint) (*model.User, error)
	CountByRole(ctx context.Context) (map[model.Role]int64, error)
}

// RoleCounts 是按角色的用户统计，百分比四舍五入为整数。
type RoleCounts struct {
	TotalUsers      int64 `json:"totalUsers"`
	AdminCount      int64 `json:"adminCount"`
	UserCount       int64 `json:"userCount"`
	AdminPercentage int   `json:"adminPercentage"`
	UserPercentage  int   `json:"userPercentage"`
}

// UserService 提供用户目录查询。
type UserService struct {
	users  DirectoryStore
	logger *slog.Logger
}

// NewUserService 创建用户目录服务。
func NewUserService(users DirectoryStore, logger *slog.Logger) *UserService {
	return &UserService{users: users, logger: logger}
}

// ListAll 返回全部用户的公开信息。
func (s *UserService) ListAll(ctx context.Context) ([]model.Profile, error) {
	return s.list(ctx, "")
}

// ListByRole 按角色（大小写不敏感）返回用户。
func (s *UserService) ListByRole(ctx context.Context, role string) ([]model.Profile, error) {
	r, err := model.ParseRole(role)
	if err != nil {
		return nil, apperr.Validation("Invalid role. Must be either admin or user")
	}
	return s.list(ctx, r)
}

func (s *UserService) list(ctx context.Context, role model.Role) ([]model.Profile, error) {
	users, err := s.users.List(ctx, role)
	if err != nil {
		return nil, apperr.Internal("Failed to fetch users", err)
	}
	out := make([]model.Profile, 0, len(users))
	for i := range users {
		out = append(out, users[i].Profile())
	}
	return out, nil
}

// Profile 返回指定用户的公开信息。
func (s *UserService) Profile(ctx context.Context, id uint) (model.Profile, error) {
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Profile{}, apperr.NotFound("User not found")
		}
		return model.Profile{}, apperr.Internal("Failed to fetch profile", err)
	}
	return u.Profile(), nil
}

// RoleCounts 统计各角色人数与占比；没有用户时占比为 0。
func (s *UserService) RoleCounts(ctx context.Context) (RoleCounts, error) {
	counts, err := s.users.CountByRole(ctx)
	if err != nil {
		return RoleCounts{}, apperr.Internal("Failed to fetch user statistics", err)
	}
	rc := RoleCounts{
		AdminCount: counts[model.RoleAdmin],
		UserCount:  counts[model.RoleUser],
	}
	for _, n := range counts {
		rc.TotalUsers += n
	}
	if rc.TotalUsers > 0 {
		rc.AdminPercentage = percent(rc.AdminCount, rc.TotalUsers)
		rc.UserPercentage = percent(rc.UserCount, rc.TotalUsers)
	}
	return rc, nil
}

func percent(part, total int64) int {
	return int(math.Round(float64(part) / float64(total) * 100))
}
