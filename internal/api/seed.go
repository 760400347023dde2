package api

import (
	"context"
	"log/slog"
)

// AdminSeeder 创建初始管理员账户（service.AuthService 实现）。
type AdminSeeder interface {
	EnsureAdmin(ctx context.Context, username, email, password string) (bool, error)
}

// SeedAdmin 根据配置初始化管理员账户。
//
// 未配置 admin.email 时直接返回；账户已存在时不做修改，因此每次启动都可以安全调用。
func (s *Server) SeedAdmin(ctx context.Context) error {
	if s.seeder == nil || s.cfg.Admin.Email == "" {
		return nil
	}
	created, err := s.seeder.EnsureAdmin(ctx, s.cfg.Admin.Username, s.cfg.Admin.Email, s.cfg.Admin.Password)
	if err != nil {
		return err
	}
	if created {
		s.logger.Info("seeded admin account", slog.String("email", s.cfg.Admin.Email))
	}
	return nil
}
