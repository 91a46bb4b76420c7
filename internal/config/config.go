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

// Config 保存应用程序配置，启动时构建一次，之后只读。
type Config struct {
	App      AppConfig      `json:"app"`
	MySQL    MySQLConfig    `json:"mysql"`
	Redis    RedisConfig    `json:"redis"`
	Email    EmailConfig    `json:"email"`
	Security SecurityConfig `json:"security"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env             string   `json:"env"`               // 运行环境: local / prod
	LogLevel        string   `json:"log_level"`         // 日志级别: debug / info / warn / error
	HTTPAddr        string   `json:"http_addr"`         // API 服务监听地址
	BaseURL         string   `json:"base_url"`          // 邮件链接使用的外部地址，为空时取请求地址
	MeRateLimit     int      `json:"me_rate_limit"`     // /users/me 每个 IP 每分钟请求数
	MailRateLimit   float64  `json:"mail_rate_limit"`   // SMTP 发送速率（封/秒）
	MailRateBurst   float64  `json:"mail_rate_burst"`   // SMTP 发送突发量
	WorkerPoolSize  int      `json:"worker_pool_size"`  // 后台任务 worker 数
	QueueCapacity   int      `json:"queue_capacity"`    // 后台任务队列容量
	MailMaxAttempts int      `json:"mail_max_attempts"` // 邮件发送最大尝试次数
	ConfirmCooldown Duration `json:"confirm_cooldown"`  // 重发确认邮件的冷却时间
	SeedDemo        bool     `json:"seed_demo"`         // 启动时写入演示数据
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
	FromName  string `json:"from_name"`
}

// SecurityConfig 令牌与密码相关配置。
type SecurityConfig struct {
	JWTSecret            string   `json:"jwt_secret"`             // JWT 签名密钥
	JWTAlgorithm         string   `json:"jwt_algorithm"`          // HS256 / HS384 / HS512
	AccessTokenTTL       Duration `json:"access_token_ttl"`       // access token 有效期
	RefreshTokenTTL      Duration `json:"refresh_token_ttl"`      // refresh token 有效期
	VerificationTokenTTL Duration `json:"verification_token_ttl"` // 邮箱验证 token 有效期
	BcryptCost           int      `json:"bcrypt_cost"`            // bcrypt cost
	StrictRefresh        bool     `json:"strict_refresh"`         // refresh 时要求与已存储的 token 一致
}

// Duration 支持 "15m" 字符串或整数秒的 JSON 时长。
type Duration time.Duration

// Std 返回 time.Duration。
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalJSON 解析 "15m" 或 900。
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*d = Duration(time.Duration(v) * time.Second)
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
	return nil
}

// MarshalJSON 序列化为字符串形式。
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值；
// 之后对未设置字段应用默认值，最后由环境变量覆盖。
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, cfg.Validate()
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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查启动所必需的配置。
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Security.JWTSecret) == "" {
		return fmt.Errorf("config: security.jwt_secret is required")
	}
	switch strings.ToUpper(c.Security.JWTAlgorithm) {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("config: unsupported jwt_algorithm %q", c.Security.JWTAlgorithm)
	}
	if c.Security.AccessTokenTTL <= 0 || c.Security.RefreshTokenTTL <= 0 || c.Security.VerificationTokenTTL <= 0 {
		return fmt.Errorf("config: token ttls must be positive")
	}
	if c.App.Env == "prod" && c.Security.JWTSecret == defaultJWTSecret {
		return fmt.Errorf("config: default jwt_secret is not allowed in prod")
	}
	return nil
}

const defaultJWTSecret = "dev_secret_change_me"

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:             "local",
			LogLevel:        "info",
			HTTPAddr:        ":8000",
			MeRateLimit:     2,
			MailRateLimit:   1,
			MailRateBurst:   5,
			WorkerPoolSize:  4,
			QueueCapacity:   256,
			MailMaxAttempts: 3,
			ConfirmCooldown: Duration(time.Minute),
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/contactbook?parseTime=true&loc=Local",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Email: EmailConfig{
			SMTPHost: "smtp.gmail.com",
			SMTPPort: 587,
			FromName: "Contact Book",
		},
		Security: SecurityConfig{
			JWTSecret:            defaultJWTSecret,
			JWTAlgorithm:         "HS256",
			AccessTokenTTL:       Duration(15 * time.Minute),
			RefreshTokenTTL:      Duration(7 * 24 * time.Hour),
			VerificationTokenTTL: Duration(24 * time.Hour),
			BcryptCost:           10,
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
	if cfg.App.MeRateLimit == 0 {
		cfg.App.MeRateLimit = defaults.App.MeRateLimit
	}
	if cfg.App.MailRateLimit == 0 {
		cfg.App.MailRateLimit = defaults.App.MailRateLimit
	}
	if cfg.App.MailRateBurst == 0 {
		cfg.App.MailRateBurst = defaults.App.MailRateBurst
	}
	if cfg.App.WorkerPoolSize == 0 {
		cfg.App.WorkerPoolSize = defaults.App.WorkerPoolSize
	}
	if cfg.App.QueueCapacity == 0 {
		cfg.App.QueueCapacity = defaults.App.QueueCapacity
	}
	if cfg.App.MailMaxAttempts == 0 {
		cfg.App.MailMaxAttempts = defaults.App.MailMaxAttempts
	}
	if cfg.App.ConfirmCooldown == 0 {
		cfg.App.ConfirmCooldown = defaults.App.ConfirmCooldown
	}
	if cfg.MySQL.DSN == "" {
		cfg.MySQL.DSN = defaults.MySQL.DSN
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.Email.FromName == "" {
		cfg.Email.FromName = defaults.Email.FromName
	}
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = defaults.Security.JWTSecret
	}
	if cfg.Security.JWTAlgorithm == "" {
		cfg.Security.JWTAlgorithm = defaults.Security.JWTAlgorithm
	}
	if cfg.Security.AccessTokenTTL == 0 {
		cfg.Security.AccessTokenTTL = defaults.Security.AccessTokenTTL
	}
	if cfg.Security.RefreshTokenTTL == 0 {
		cfg.Security.RefreshTokenTTL = defaults.Security.RefreshTokenTTL
	}
	if cfg.Security.VerificationTokenTTL == 0 {
		cfg.Security.VerificationTokenTTL = defaults.Security.VerificationTokenTTL
	}
	if cfg.Security.BcryptCost == 0 {
		cfg.Security.BcryptCost = defaults.Security.BcryptCost
	}
}

func applyEnvOverrides(cfg *Config) {
	v := viper.New()
	v.AutomaticEnv()

	_ = v.BindEnv("db_host", "DB_HOST")
	_ = v.BindEnv("db_password", "DB_PASSWORD")
	_ = v.BindEnv("redis_addr", "REDIS_ADDR")
	_ = v.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = v.BindEnv("smtp_password", "SMTP_PASSWORD", "SMTP_PASS")
	_ = v.BindEnv("jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("jwt_algorithm", "JWT_ALGORITHM")

	if s := os.Getenv("APP_ENV"); s != "" {
		cfg.App.Env = s
	}
	if s := os.Getenv("APP_LOG_LEVEL"); s != "" {
		cfg.App.LogLevel = s
	}
	if s := os.Getenv("APP_HTTP_ADDR"); s != "" {
		cfg.App.HTTPAddr = s
	}
	if s := os.Getenv("APP_BASE_URL"); s != "" {
		cfg.App.BaseURL = s
	}
	if s := os.Getenv("APP_ME_RATE_LIMIT"); s != "" {
		if i, err := strconv.Atoi(s); err == nil {
			cfg.App.MeRateLimit = i
		}
	}
	if s := os.Getenv("APP_WORKER_POOL_SIZE"); s != "" {
		if i, err := strconv.Atoi(s); err == nil {
			cfg.App.WorkerPoolSize = i
		}
	}
	if s := os.Getenv("APP_QUEUE_CAPACITY"); s != "" {
		if i, err := strconv.Atoi(s); err == nil {
			cfg.App.QueueCapacity = i
		}
	}
	if s := os.Getenv("APP_CONFIRM_COOLDOWN"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			cfg.App.ConfirmCooldown = Duration(d)
		}
	}
	if s := os.Getenv("APP_SEED_DEMO"); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			cfg.App.SeedDemo = b
		}
	}

	if s := v.GetString("jwt_secret"); s != "" {
		cfg.Security.JWTSecret = s
	}
	if s := v.GetString("jwt_algorithm"); s != "" {
		cfg.Security.JWTAlgorithm = strings.ToUpper(s)
	}
	overrideSeconds("ACCESS_TOKEN_EXPIRE_SECONDS", &cfg.Security.AccessTokenTTL)
	overrideSeconds("REFRESH_TOKEN_EXPIRE_SECONDS", &cfg.Security.RefreshTokenTTL)
	overrideSeconds("VERIFICATION_TOKEN_EXPIRE_SECONDS", &cfg.Security.VerificationTokenTTL)
	if s := os.Getenv("BCRYPT_COST"); s != "" {
		if i, err := strconv.Atoi(s); err == nil {
			cfg.Security.BcryptCost = i
		}
	}
	if s := os.Getenv("STRICT_REFRESH"); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			cfg.Security.StrictRefresh = b
		}
	}

	if s := os.Getenv("DB_DSN"); s != "" {
		cfg.MySQL.DSN = s
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") {
		parsed := parseMySQLDSN(cfg.MySQL.DSN)
		host, port := splitHostPort(parsed.Addr)
		if s := v.GetString("db_host"); s != "" {
			host = s
		}
		if s := os.Getenv("DB_PORT"); s != "" {
			port = s
		}
		parsed.Addr = host + ":" + port
		if s := os.Getenv("DB_USER"); s != "" {
			parsed.User = s
		}
		if s := v.GetString("db_password"); s != "" {
			parsed.Passwd = s
		}
		if s := os.Getenv("DB_NAME"); s != "" {
			parsed.DBName = s
		}
		cfg.MySQL.DSN = parsed.FormatDSN()
	}

	if s := v.GetString("redis_addr"); s != "" {
		cfg.Redis.Addr = s
	}
	if s := v.GetString("redis_password"); s != "" {
		cfg.Redis.Password = s
	}

	if s := os.Getenv("SMTP_HOST"); s != "" {
		cfg.Email.SMTPHost = s
	}
	if s := os.Getenv("SMTP_PORT"); s != "" {
		if i, err := strconv.Atoi(s); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if s := os.Getenv("SMTP_USER"); s != "" {
		cfg.Email.SMTPUser = s
	}
	if s := v.GetString("smtp_password"); s != "" {
		cfg.Email.SMTPPass = s
	}
	if s := os.Getenv("SMTP_FROM"); s != "" {
		cfg.Email.FromEmail = s
	}
	if s := os.Getenv("SMTP_FROM_NAME"); s != "" {
		cfg.Email.FromName = s
	}
}

func overrideSeconds(key string, dst *Duration) {
	s := os.Getenv(key)
	if s == "" {
		return
	}
	if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
		*dst = Duration(time.Duration(secs) * time.Second)
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

func splitHostPort(addr string) (string, string) {
	host, port := addr, "3306"
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		host = addr[:i]
		if addr[i+1:] != "" {
			port = addr[i+1:]
		}
	}
	if host == "" {
		host = "localhost"
	}
	return host, port
}

func parseMySQLDSN(dsn string) *mysql.Config {
	if parsed, err := mysql.ParseDSN(dsn); err == nil && dsn != "" {
		return parsed
	}
	cfg := mysql.NewConfig()
	cfg.User = "root"
	cfg.Net = "tcp"
	cfg.Addr = "localhost:3306"
	cfg.DBName = "contactbook"
	cfg.ParseTime = true
	return cfg
}
