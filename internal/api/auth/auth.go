package auth

import (
	"context"
	"log/slog"
	"net/http"

	"lesionlog/internal/api/respond"
	"lesionlog/internal/model"
	"lesionlog/internal/pkg/apperr"
	"lesionlog/internal/service"

	"github.com/gin-gonic/gin"
)

// Service 是认证业务接口（service.AuthService 实现）。
type Service interface {
	Register(ctx context.Context, in service.RegisterInput) (model.Profile, error)
	Login(ctx context.Context, email, password string) (service.LoginResult, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, in service.ResetInput) error
}

// Handler 提供注册、登录与找回密码接口。
type Handler struct {
	svc    Service
	errs   respond.Errors
	logger *slog.Logger
}

// NewHandler 创建 Auth Handler。
func NewHandler(svc Service, errs respond.Errors, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, errs: errs, logger: logger}
}

type signupRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	Role            string `json:"role"`
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token              string `json:"token"`
	NewPassword        string `json:"newPassword"`
	ConfirmNewPassword string `json:"confirmNewPassword"`
}

// bind 解析 JSON 请求体；字段缺失由业务层统一校验。
func (h *Handler) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.errs.Error(c, apperr.Wrap(apperr.KindValidation, "Invalid request body", err))
		return false
	}
	return true
}

// Signup 创建新用户。
//
// POST /auth/signup
func (h *Handler) Signup(c *gin.Context) {
	var req signupRequest
	if !h.bind(c, &req) {
		return
	}
	profile, err := h.svc.Register(c.Request.Context(), service.RegisterInput{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		Role:            req.Role,
	})
	if err != nil {
		h.errs.Error(c, err)
		return
	}
	respond.OK(c, http.StatusCreated, "User created successfully", gin.H{"user": profile})
}

// Signin 校验用户并返回 JWT。
//
// POST /auth/signin
func (h *Handler) Signin(c *gin.Context) {
	var req signinRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.errs.Error(c, err)
		return
	}
	h.logger.Info("user signed in", slog.Uint64("user_id", uint64(res.User.ID)), slog.String("role", string(res.User.Role)))
	respond.OK(c, http.StatusOK, "Login successful", gin.H{"token": res.Token, "user": res.User})
}

// ForgotPassword 发送重置密码链接。
//
// POST /auth/forgot-password
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.svc.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		h.errs.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "Password reset link sent to your email", nil)
}

// ResetPassword 使用重置令牌设置新密码。
//
// POST /auth/reset-password
func (h *Handler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !h.bind(c, &req) {
		return
	}
	err := h.svc.ResetPassword(c.Request.Context(), service.ResetInput{
		Token:              req.Token,
		NewPassword:        req.NewPassword,
		ConfirmNewPassword: req.ConfirmNewPassword,
	})
	if err != nil {
		h.errs.Error(c, err)
		return
	}
	respond.OK(c, http.StatusOK, "Password reset successful", nil)
}
