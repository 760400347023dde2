package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"lesionlog/internal/api/auth"
	"lesionlog/internal/api/middleware"
	"lesionlog/internal/api/respond"
	"lesionlog/internal/config"
	"lesionlog/internal/model"
	"lesionlog/internal/pkg/dedup"
	"lesionlog/internal/pkg/metrics"
	"lesionlog/internal/pkg/notify"
	"lesionlog/internal/pkg/outbox"
	"lesionlog/internal/pkg/ratelimit"
	"lesionlog/internal/pkg/token"
	"lesionlog/internal/service"
	"lesionlog/internal/storage"
	"lesionlog/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端、各业务服务以及 Gin 路由引擎。
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *gorm.DB
	rdb     *redis.Client
	router  *gin.Engine
	errs    respond.Errors
	auth    *auth.Handler
	tokens  middleware.SessionVerifier
	limiter middleware.Allower
	outbox  *outbox.Outbox

	results ResultService
	users   UserDirectory
	reports ReportService
	uploads storage.Store
	seeder  AdminSeeder
}

// ResultService 是结果相关业务（service.ResultService 实现）。
type ResultService interface {
	Create(ctx context.Context, ownerID uint, in service.CreateResultInput) (model.Result, error)
	ListMine(ctx context.Context, ownerID uint, page model.Page) (service.ResultPage, error)
	ListAll(ctx context.Context, page model.Page) (service.ResultPage, error)
	ListForUser(ctx context.Context, userID uint) ([]model.Result, error)
	SearchByPrediction(ctx context.Context, text string, page model.Page) (service.ResultPage, error)
	ListByDateRange(ctx context.Context, start, end string, page model.Page) (service.ResultPage, error)
	Statistics(ctx context.Context, start, end string) (service.Statistics, error)
	PeriodStatistics(ctx context.Context, period string) (service.PeriodStatistics, error)
}

// UserDirectory 是用户目录业务（service.UserService 实现）。
type UserDirectory interface {
	ListAll(ctx context.Context) ([]model.Profile, error)
	ListByRole(ctx context.Context, role string) ([]model.Profile, error)
	Profile(ctx context.Context, id uint) (model.Profile, error)
	RoleCounts(ctx context.Context) (service.RoleCounts, error)
}

// ReportService 是报表业务（service.ReportService 实现）。
type ReportService interface {
	Download(ctx context.Context, start, end string) (service.Document, error)
	Email(ctx context.Context, start, end string, to string) (string, error)
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 MySQL 数据库并执行自动迁移
// 2. 连接 Redis（限流与重置邮件冷却）
// 3. 构建邮件发送器、异步 outbox 与图片存储
// 4. 组装业务服务并初始化 Gin 路由引擎
//
// 参数:
//
//	ctx: 上下文（连接 Redis、初始化存储；outbox 任务以它为基础上下文）
//	cfg: 配置对象
//	logger: 日志记录器
//
// 返回值:
//
//	*Server: 初始化完成的服务器实例
//	error: 初始化失败返回错误
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg.Security.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.User{}, &model.Result{}); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	uploads, err := storage.New(ctx, cfg.Storage, cfg.App.UploadDir)
	if err != nil {
		return nil, err
	}

	metrics.InitMetrics()

	mailer := notify.NewEmailNotifier(&cfg.Email, logger)
	ob := outbox.New(logger, cfg.App.OutboxWorkers, cfg.App.OutboxCapacity)
	ob.Start(ctx)

	tokens := token.NewManager(cfg.Security.JWTSecret, cfg.Security.SessionTTL, cfg.Security.ResetTTL)
	cooldown := dedup.NewCooldown(rdb, "lesionlog:reset", cfg.App.ResetCooldown)
	limiter := ratelimit.NewLimiter(rdb, "lesionlog:ratelimit", cfg.App.AuthRateLimit, cfg.App.AuthRateBurst)

	userStore := store.NewUsers(db)
	resultStore := store.NewResults(db)

	authSvc := service.NewAuthService(userStore, tokens, mailer, ob, cooldown, service.AuthConfig{
		FrontendURL: cfg.App.FrontendURL,
		BcryptCost:  cfg.Security.BcryptCost,
	}, logger)
	userSvc := service.NewUserService(userStore, logger)
	resultSvc := service.NewResultService(resultStore, userStore, logger)
	reportSvc := service.NewReportService(resultStore, userSvc, mailer, service.ReportConfig{
		MaxRows:   cfg.Report.MaxRows,
		TableRows: cfg.Report.TableRows,
		TempDir:   cfg.Report.TempDir,
	}, logger)

	errs := respond.Errors{Logger: logger, Verbose: cfg.IsDevelopment()}

	gin.SetMode(gin.ReleaseMode)
	router, err := newRouter(cfg.App.TrustedProxies)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		rdb:     rdb,
		router:  router,
		errs:    errs,
		auth:    auth.NewHandler(authSvc, errs, logger),
		tokens:  tokens,
		limiter: limiter,
		outbox:  ob,
		seeder:  authSvc,
		results: resultSvc,
		users:   userSvc,
		reports: reportSvc,
		uploads: uploads,
	}
	s.registerRoutes()
	return s, nil
}

// newRouter 创建 Gin 引擎。
//
// 只有 trusted 中的代理可以通过 X-Forwarded-For 改变 ClientIP，否则按连接地址限流。
func newRouter(trusted []string) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(trusted); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	return r, nil
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 等待 outbox 排空并关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.outbox != nil {
		if err := s.outbox.Shutdown(10 * time.Second); err != nil && !errors.Is(err, outbox.ErrClosed) {
			firstErr = err
		}
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else if closeErr := sqlDB.Close(); closeErr != nil && firstErr == nil {
			firstErr = closeErr
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	s.router.Use(gin.CustomRecovery(s.handlePanic))
	s.router.Use(middleware.RequestLogger(s.logger))
	s.router.NoRoute(respond.NotFound)

	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	authGroup := s.router.Group("/auth")
	authGroup.POST("/signup", s.auth.Signup)
	authGroup.POST("/signin", middleware.RateLimit(s.limiter, "signin", s.logger), s.auth.Signin)
	authGroup.POST("/forgot-password", middleware.RateLimit(s.limiter, "forgot_password", s.logger), s.auth.ForgotPassword)
	authGroup.POST("/reset-password", s.auth.ResetPassword)

	admin := middleware.RequireRole(model.RoleAdmin)

	results := s.router.Group("/results", middleware.AuthMiddleware(s.tokens))
	results.POST("", s.handleCreateResult)
	results.GET("/my-results", s.handleMyResults)
	results.GET("", admin, s.handleAllResults)
	results.GET("/user/:userId", admin, s.handleUserResults)
	results.GET("/stats", admin, s.handleStatistics)
	results.GET("/stats/:period", admin, s.handlePeriodStatistics)
	results.GET("/prediction/:text", admin, s.handleResultsByPrediction)
	results.GET("/date", admin, s.handleResultsByDate)
	results.GET("/download-report", admin, s.handleDownloadReport)
	results.POST("/email-report", admin, s.handleEmailReport)

	users := s.router.Group("/users", middleware.AuthMiddleware(s.tokens))
	users.GET("/profile", s.handleProfile)
	users.GET("", admin, s.handleUsersQuery)
	users.GET("/all", admin, s.handleAllUsers)
	users.GET("/role/:role", admin, s.handleUsersByRole)
	users.GET("/stats", admin, s.handleUserStats)

	upload := s.router.Group("/upload", middleware.AuthMiddleware(s.tokens))
	upload.POST("/image", s.handleUploadImage)
}

func (s *Server) handlePanic(c *gin.Context, recovered any) {
	s.logger.Error("panic recovered",
		slog.Any("panic", recovered),
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)
	respond.Fail(c, http.StatusInternalServerError, "Internal server error")
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func principal(c *gin.Context) token.Principal {
	p, _ := middleware.PrincipalFrom(c)
	return p
}
