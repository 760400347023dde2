package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	MySQL    MySQLConfig    `json:"mysql"`
	Redis    RedisConfig    `json:"redis"`
	Email    EmailConfig    `json:"email"`
	Security SecurityConfig `json:"security"`
	Storage  StorageConfig  `json:"storage"`
	Report   ReportConfig   `json:"report"`
	Admin    AdminConfig    `json:"admin"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env            string        `json:"env"`              // 运行环境: local / development / prod
	LogLevel       string        `json:"log_level"`        // 日志级别: debug / info / warn / error
	HTTPAddr       string        `json:"http_addr"`        // API 服务监听地址
	FrontendURL    string        `json:"frontend_url"`     // 前端地址，用于拼接重置密码链接
	UploadDir      string        `json:"upload_dir"`       // 本地图片存储目录
	MaxUploadBytes int64         `json:"max_upload_bytes"` // 上传图片大小上限
	AuthRateLimit  float64       `json:"auth_rate_limit"`  // 登录/找回密码限流速率（token/s）
	AuthRateBurst  float64       `json:"auth_rate_burst"`  // 登录/找回密码限流桶容量
	ResetCooldown  time.Duration `json:"reset_cooldown"`   // 同一邮箱重置邮件的冷却时间（如 "60s"）
	OutboxWorkers  int           `json:"outbox_workers"`   // 异步邮件 worker 数
	OutboxCapacity int           `json:"outbox_capacity"`  // 异步邮件队列容量
	TrustedProxies []string      `json:"trusted_proxies"`  // 允许设置 X-Forwarded-For 的代理地址/网段，为空则不信任任何代理
}

// MySQLConfig MySQL 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串
}

// RedisConfig Redis 配置。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// EmailConfig 邮件发送配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
}

// SecurityConfig 安全相关配置。
type SecurityConfig struct {
	JWTSecret  string        `json:"jwt_secret"`  // JWT 签名密钥
	BcryptCost int           `json:"bcrypt_cost"` // bcrypt 工作因子
	SessionTTL time.Duration `json:"session_ttl"` // 登录令牌有效期
	ResetTTL   time.Duration `json:"reset_ttl"`   // 重置密码令牌有效期
}

// StorageConfig 上传文件存储配置。
type StorageConfig struct {
	Driver         string `json:"driver"` // local / minio
	MinioEndpoint  string `json:"minio_endpoint"`
	MinioAccessKey string `json:"minio_access_key"`
	MinioSecretKey string `json:"minio_secret_key"`
	MinioBucket    string `json:"minio_bucket"`
	MinioUseSSL    bool   `json:"minio_use_ssl"`
}

// ReportConfig PDF 报表配置。
type ReportConfig struct {
	MaxRows   int    `json:"max_rows"`   // 报表最多拉取的结果条数
	TableRows int    `json:"table_rows"` // 明细表最多展示的行数
	TempDir   string `json:"temp_dir"`   // 邮件附件临时目录（为空使用系统临时目录）
}

// AdminConfig 启动时确保存在的初始管理员账户；Email 为空时跳过。
type AdminConfig struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
// 未设置的字段回落到默认值，最后由环境变量覆盖。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json")
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// IsDevelopment 报告是否处于本地/开发环境（错误响应中会带上内部细节）。
func (c *Config) IsDevelopment() bool {
	switch strings.ToLower(c.App.Env) {
	case "local", "development", "dev":
		return true
	}
	return false
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:            "local",
			LogLevel:       "info",
			HTTPAddr:       ":5001",
			FrontendURL:    "http://localhost:3000",
			UploadDir:      "uploads",
			MaxUploadBytes: 5 << 20,
			AuthRateLimit:  1,
			AuthRateBurst:  10,
			ResetCooldown:  60 * time.Second,
			OutboxWorkers:  2,
			OutboxCapacity: 100,
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/lesionlog?parseTime=true&loc=UTC",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Email: EmailConfig{
			SMTPHost:  "smtp.gmail.com",
			SMTPPort:  587,
			SMTPUser:  "",
			SMTPPass:  "",
			FromEmail: "",
		},
		Security: SecurityConfig{
			JWTSecret:  "dev_secret_change_me",
			BcryptCost: 10,
			SessionTTL: time.Hour,
			ResetTTL:   15 * time.Minute,
		},
		Storage: StorageConfig{
			Driver:      "local",
			MinioBucket: "lesionlog-uploads",
		},
		Report: ReportConfig{
			MaxRows:   1000,
			TableRows: 100,
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.FrontendURL == "" {
		cfg.App.FrontendURL = defaults.App.FrontendURL
	}
	if cfg.App.UploadDir == "" {
		cfg.App.UploadDir = defaults.App.UploadDir
	}
	if cfg.App.MaxUploadBytes == 0 {
		cfg.App.MaxUploadBytes = defaults.App.MaxUploadBytes
	}
	if cfg.App.AuthRateLimit == 0 {
		cfg.App.AuthRateLimit = defaults.App.AuthRateLimit
	}
	if cfg.App.AuthRateBurst == 0 {
		cfg.App.AuthRateBurst = defaults.App.AuthRateBurst
	}
	if cfg.App.ResetCooldown == 0 {
		cfg.App.ResetCooldown = defaults.App.ResetCooldown
	}
	if cfg.App.OutboxWorkers == 0 {
		cfg.App.OutboxWorkers = defaults.App.OutboxWorkers
	}
	if cfg.App.OutboxCapacity == 0 {
		cfg.App.OutboxCapacity = defaults.App.OutboxCapacity
	}
	if cfg.MySQL.DSN == "" {
		cfg.MySQL.DSN = defaults.MySQL.DSN
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Email.SMTPHost == "" {
		cfg.Email.SMTPHost = defaults.Email.SMTPHost
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = defaults.Security.JWTSecret
	}
	if cfg.Security.BcryptCost == 0 {
		cfg.Security.BcryptCost = defaults.Security.BcryptCost
	}
	if cfg.Security.SessionTTL == 0 {
		cfg.Security.SessionTTL = defaults.Security.SessionTTL
	}
	if cfg.Security.ResetTTL == 0 {
		cfg.Security.ResetTTL = defaults.Security.ResetTTL
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = defaults.Storage.Driver
	}
	if cfg.Storage.MinioBucket == "" {
		cfg.Storage.MinioBucket = defaults.Storage.MinioBucket
	}
	if cfg.Report.MaxRows == 0 {
		cfg.Report.MaxRows = defaults.Report.MaxRows
	}
	if cfg.Report.TableRows == 0 {
		cfg.Report.TableRows = defaults.Report.TableRows
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "EMAIL_PASS")
	_ = viper.BindEnv("jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("minio_secret_key", "MINIO_SECRET_KEY")
	_ = viper.BindEnv("admin_password", "ADMIN_PASSWORD")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	} else if v := os.Getenv("NODE_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	} else if v := os.Getenv("PORT"); v != "" {
		cfg.App.HTTPAddr = ":" + v
	}
	if v := os.Getenv("FRONTEND_URL"); v != "" {
		cfg.App.FrontendURL = v
	}
	if v := os.Getenv("APP_UPLOAD_DIR"); v != "" {
		cfg.App.UploadDir = v
	}
	if v := os.Getenv("APP_MAX_UPLOAD_BYTES"); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.App.MaxUploadBytes = i
		}
	}
	if v := os.Getenv("APP_AUTH_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.AuthRateLimit = f
		}
	}
	if v := os.Getenv("APP_AUTH_RATE_BURST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.AuthRateBurst = f
		}
	}
	if v := os.Getenv("APP_RESET_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.ResetCooldown = d
		}
	}
	if v := os.Getenv("APP_OUTBOX_WORKERS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.OutboxWorkers = i
		}
	}
	if v := os.Getenv("APP_OUTBOX_CAPACITY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.OutboxCapacity = i
		}
	}

	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.App.TrustedProxies = splitList(v)
	}

	if v := os.Getenv("ADMIN_USERNAME"); v != "" {
		cfg.Admin.Username = v
	}
	if v := os.Getenv("ADMIN_EMAIL"); v != "" {
		cfg.Admin.Email = v
	}
	if v := viper.GetString("admin_password"); v != "" {
		cfg.Admin.Password = v
	}

	if v := viper.GetString("jwt_secret"); v != "" {
		cfg.Security.JWTSecret = v
	}
	if v := os.Getenv("BCRYPT_COST"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Security.BcryptCost = i
		}
	}
	if v := os.Getenv("SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Security.SessionTTL = d
		}
	}
	if v := os.Getenv("RESET_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Security.ResetTTL = d
		}
	}

	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.MySQL.DSN = v
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") || viper.GetString("db_host") != "" || viper.GetString("db_password") != "" {
		parsed := parseMySQLDSN(cfg.MySQL.DSN)
		if v := viper.GetString("db_host"); v != "" {
			port := getenvDefault("DB_PORT", parsed.Addr, "3306")
			parsed.Addr = v + ":" + port
		} else if v := os.Getenv("DB_PORT"); v != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + v
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.MySQL.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("EMAIL_USER"); v != "" {
		cfg.Email.SMTPUser = v
		if cfg.Email.FromEmail == "" {
			cfg.Email.FromEmail = v
		}
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("EMAIL_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}

	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.Storage.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.Storage.MinioAccessKey = v
	}
	if v := viper.GetString("minio_secret_key"); v != "" {
		cfg.Storage.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.Storage.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Storage.MinioUseSSL = b
		}
	}

	if v := os.Getenv("REPORT_TEMP_DIR"); v != "" {
		cfg.Report.TempDir = v
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fallbackAddr == "" {
		return defaultValue
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func parseMySQLDSN(dsn string) *mysql.Config {
	fallback := func() *mysql.Config {
		return &mysql.Config{
			User:   "root",
			Net:    "tcp",
			Addr:   "localhost:3306",
			DBName: "lesionlog",
			Params: map[string]string{
				"parseTime": "true",
				"loc":       "UTC",
			},
		}
	}
	if dsn == "" {
		return fallback()
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fallback()
	}
	return parsed
}

// UnmarshalJSON 自定义 JSON 解析，支持时间 Duration 字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		ResetCooldown string `json:"reset_cooldown"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.ResetCooldown != "" {
		d, err := time.ParseDuration(aux.ResetCooldown)
		if err != nil {
			return fmt.Errorf("invalid reset_cooldown format: %w", err)
		}
		a.ResetCooldown = d
	}
	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		ResetCooldown string `json:"reset_cooldown"`
		*Alias
	}{
		ResetCooldown: a.ResetCooldown.String(),
		Alias:         (*Alias)(&a),
	})
}

// UnmarshalJSON 支持 session_ttl / reset_ttl 写成 "1h" 这样的字符串。
func (s *SecurityConfig) UnmarshalJSON(data []byte) error {
	type Alias SecurityConfig
	aux := &struct {
		SessionTTL string `json:"session_ttl"`
		ResetTTL   string `json:"reset_ttl"`
		*Alias
	}{
		Alias: (*Alias)(s),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.SessionTTL != "" {
		d, err := time.ParseDuration(aux.SessionTTL)
		if err != nil {
			return fmt.Errorf("invalid session_ttl format: %w", err)
		}
		s.SessionTTL = d
	}
	if aux.ResetTTL != "" {
		d, err := time.ParseDuration(aux.ResetTTL)
		if err != nil {
			return fmt.Errorf("invalid reset_ttl format: %w", err)
		}
		s.ResetTTL = d
	}
	return nil
}

// MarshalJSON 将 Duration 序列化为字符串。
func (s SecurityConfig) MarshalJSON() ([]byte, error) {
	type Alias SecurityConfig
	return json.Marshal(&struct {
		SessionTTL string `json:"session_ttl"`
		ResetTTL   string `json:"reset_ttl"`
		*Alias
	}{
		SessionTTL: s.SessionTTL.String(),
		ResetTTL:   s.ResetTTL.String(),
		Alias:      (*Alias)(&s),
	})
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
