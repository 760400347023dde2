package service

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"lesionlog/internal/model"
	"lesionlog/internal/pkg/apperr"
	"lesionlog/internal/pkg/notify"
	"lesionlog/internal/pkg/outbox"
	"lesionlog/internal/pkg/token"
	"lesionlog/internal/store"
)

// AccountStore 是认证流程需要的用户存储。
type AccountStore interface {
	Create(ctx context.Context, u *model.User) error
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByID(ctx context.Context, id uint) (*model.User, error)
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
	UpdatePassword(ctx context.Context, id uint, hash string) error
}

// Submitter 提交异步投递任务（outbox.Outbox 实现）。
type Submitter interface {
	Submit(name string, job outbox.Job) error
}

// Cooldown 限制同一邮箱的重置邮件频率（dedup.Cooldown 实现）。
type Cooldown interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// AuthConfig 是认证服务的静态参数。
type AuthConfig struct {
	FrontendURL string
	BcryptCost  int
}

// AuthService 负责注册、登录与找回密码。
type AuthService struct {
	users    AccountStore
	tokens   *token.Manager
	mailer   notify.Notifier
	outbox   Submitter
	cooldown Cooldown
	cfg      AuthConfig
	logger   *slog.Logger
}

// NewAuthService 创建认证服务。ob 与 cooldown 可以为 nil（跳过欢迎邮件与冷却）。
func NewAuthService(users AccountStore, tokens *token.Manager, mailer notify.Notifier, ob Submitter, cooldown Cooldown, cfg AuthConfig, logger *slog.Logger) *AuthService {
	return &AuthService{
		users:    users,
		tokens:   tokens,
		mailer:   mailer,
		outbox:   ob,
		cooldown: cooldown,
		cfg:      cfg,
		logger:   logger,
	}
}

// RegisterInput 是注册参数。
type RegisterInput struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
	Role            string
}

// LoginResult 是登录成功的返回。
type LoginResult struct {
	Token string        `json:"token"`
	User  model.Profile `json:"user"`
}

// ResetInput 是重置密码参数。
type ResetInput struct {
	Token              string
	NewPassword        string
	ConfirmNewPassword string
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register 创建新用户并异步发送欢迎邮件。
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (model.Profile, error) {
	username := strings.TrimSpace(in.Username)
	email := normalizeEmail(in.Email)
	if username == "" || email == "" || in.Password == "" || in.ConfirmPassword == "" {
		return model.Profile{}, apperr.Validation("All fields are required")
	}
	if in.Password != in.ConfirmPassword {
		return model.Profile{}, apperr.Validation("Passwords do not match")
	}
	if err := CheckPasswordStrength(in.Password); err != nil {
		return model.Profile{}, err
	}
	role := model.RoleUser
	if strings.TrimSpace(in.Role) != "" {
		r, err := model.ParseRole(in.Role)
		if err != nil {
			return model.Profile{}, apperr.Validation("Role must be either admin or user")
		}
		role = r
	}

	exists, err := s.users.ExistsByUsernameOrEmail(ctx, username, email)
	if err != nil {
		return model.Profile{}, apperr.Internal("Failed to create user", err)
	}
	if exists {
		return model.Profile{}, apperr.Conflict("Username or email already exists")
	}

	hash, err := hashPassword(in.Password, s.cfg.BcryptCost)
	if err != nil {
		return model.Profile{}, err
	}
	user := &model.User{Username: username, Email: email, Password: hash, Role: role}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return model.Profile{}, apperr.Conflict("Username or email already exists")
		}
		return model.Profile{}, apperr.Internal("Failed to create user", err)
	}

	s.logger.Info("user registered", slog.Uint64("user_id", uint64(user.ID)), slog.String("role", string(role)))
	s.enqueueWelcome(email, username)
	return user.Profile(), nil
}

// enqueueWelcome 尽力投递欢迎邮件，失败只记录日志。
func (s *AuthService) enqueueWelcome(email, username string) {
	if s.outbox == nil || s.mailer == nil {
		return
	}
	err := s.outbox.Submit("welcome_email", func(ctx context.Context) error {
		return s.mailer.SendWelcome(ctx, email, username)
	})
	if err != nil {
		s.logger.Warn("enqueue welcome email failed", slog.String("email", email), slog.String("error", err.Error()))
	}
}

// Login 校验邮箱与密码并签发会话令牌。
func (s *AuthService) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, apperr.Validation("Email and password are required")
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return LoginResult{}, apperr.NotFound("User not found")
		}
		return LoginResult{}, apperr.Internal("Failed to sign in", err)
	}
	if !checkPassword(user.Password, password) {
		return LoginResult{}, apperr.Auth("Invalid credentials")
	}

	tok, err := s.tokens.IssueSession(token.Principal{UserID: user.ID, Email: user.Email, Role: string(user.Role)})
	if err != nil {
		return LoginResult{}, apperr.Internal("Failed to sign in", err)
	}
	return LoginResult{Token: tok, User: user.Profile()}, nil
}

// RequestPasswordReset 生成 15 分钟有效的重置链接并同步发送。
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return apperr.Validation("Email is required")
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("User not found")
		}
		return apperr.Internal("Failed to process password reset", err)
	}

	if s.cooldown != nil {
		ok, err := s.cooldown.Acquire(ctx, email)
		if err != nil {
			s.logger.Warn("reset cooldown unavailable", slog.String("error", err.Error()))
		} else if !ok {
			return apperr.TooManyRequests("A reset link was sent recently, please check your inbox")
		}
	}

	tok, err := s.tokens.IssueReset(user.ID)
	if err != nil {
		s.releaseCooldown(ctx, email)
		return apperr.Internal("Failed to process password reset", err)
	}
	if err := s.mailer.SendPasswordReset(ctx, user.Email, s.resetLink(tok)); err != nil {
		s.releaseCooldown(ctx, email)
		return apperr.Internal("Failed to send reset email", err)
	}
	s.logger.Info("password reset link sent", slog.Uint64("user_id", uint64(user.ID)))
	return nil
}

func (s *AuthService) releaseCooldown(ctx context.Context, email string) {
	if s.cooldown == nil {
		return
	}
	if err := s.cooldown.Release(ctx, email); err != nil {
		s.logger.Warn("release reset cooldown failed", slog.String("error", err.Error()))
	}
}

func (s *AuthService) resetLink(tok string) string {
	return strings.TrimRight(s.cfg.FrontendURL, "/") + "/reset-password?token=" + url.QueryEscape(tok)
}

// ResetPassword 校验重置令牌并更新密码。
func (s *AuthService) ResetPassword(ctx context.Context, in ResetInput) error {
	if in.Token == "" || in.NewPassword == "" || in.ConfirmNewPassword == "" {
		return apperr.Validation("Token, new password and confirmation are required")
	}
	if in.NewPassword != in.ConfirmNewPassword {
		return apperr.Validation("Passwords do not match")
	}
	if err := CheckPasswordStrength(in.NewPassword); err != nil {
		return err
	}

	userID, err := s.tokens.ParseReset(in.Token)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return apperr.TokenExpired("Reset token has expired")
		}
		return apperr.Auth("Invalid reset token")
	}
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("User not found")
		}
		return apperr.Internal("Failed to reset password", err)
	}

	hash, err := hashPassword(in.NewPassword, s.cfg.BcryptCost)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("User not found")
		}
		return apperr.Internal("Failed to reset password", err)
	}
	s.logger.Info("password reset", slog.Uint64("user_id", uint64(userID)))
	return nil
}

// EnsureAdmin 确保初始管理员账户存在。
//
// 邮箱为空时不做任何事；账户已存在时保持原样（不会覆盖密码或角色）。
//
// 返回值:
//
//	bool: 是否新建了账户
//	error: 密码不合规或存储失败
func (s *AuthService) EnsureAdmin(ctx context.Context, username, email, password string) (bool, error) {
	email = normalizeEmail(email)
	if email == "" {
		return false, nil
	}
	username = strings.TrimSpace(username)
	if username == "" {
		username = "admin"
	}

	_, err := s.users.FindByEmail(ctx, email)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, apperr.Internal("Failed to look up admin", err)
	}
	if err := CheckPasswordStrength(password); err != nil {
		return false, err
	}

	hash, err := hashPassword(password, s.cfg.BcryptCost)
	if err != nil {
		return false, err
	}
	user := &model.User{Username: username, Email: email, Password: hash, Role: model.RoleAdmin}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return false, apperr.Conflict("Username or email already exists")
		}
		return false, apperr.Internal("Failed to create admin", err)
	}
	s.logger.Info("admin account created", slog.Uint64("user_id", uint64(user.ID)))
	return true, nil
}
