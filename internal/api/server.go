package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"contactbook/internal/api/auth"
	"contactbook/internal/api/middleware"
	"contactbook/internal/config"
	"contactbook/internal/model"
	"contactbook/internal/pkg/cooldown"
	"contactbook/internal/pkg/metrics"
	"contactbook/internal/pkg/notify"
	"contactbook/internal/pkg/password"
	"contactbook/internal/pkg/queue"
	"contactbook/internal/pkg/ratelimit"
	"contactbook/internal/pkg/token"
	"contactbook/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端、后台任务队列以及 Gin 路由引擎。
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *gorm.DB
	rdb       *redis.Client
	router    *gin.Engine
	jobs      *queue.Queue
	authSvc   *auth.Service
	auth      *auth.Handler
	users     auth.UserDirectory
	hasher    auth.Hasher
	contacts  ContactStore
	meLimiter middleware.Limiter
	now       func() time.Time
}

// ContactStore 联系人持久化接口，所有方法按 userID 隔离。
type ContactStore interface {
	List(ctx context.Context, userID uint, f store.ContactFilter) ([]model.Contact, error)
	Get(ctx context.Context, userID, id uint) (*model.Contact, error)
	Create(ctx context.Context, c *model.Contact) error
	Update(ctx context.Context, c *model.Contact) error
	Delete(ctx context.Context, userID, id uint) error
	ListWithBirthdays(ctx context.Context, userID uint) ([]model.Contact, error)
	Count(ctx context.Context, userID uint) (int64, error)
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 MySQL 数据库并执行自动迁移
// 2. 连接 Redis
// 3. 组装令牌、密码、邮件与后台队列
// 4. 初始化 Gin 路由引擎
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := store.Open(cfg.MySQL.DSN)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	codec, err := token.NewCodec(token.Options{
		Secret:          cfg.Security.JWTSecret,
		Algorithm:       cfg.Security.JWTAlgorithm,
		AccessTTL:       cfg.Security.AccessTokenTTL.Std(),
		RefreshTTL:      cfg.Security.RefreshTokenTTL.Std(),
		VerificationTTL: cfg.Security.VerificationTokenTTL.Std(),
	})
	if err != nil {
		return nil, err
	}

	metrics.InitMetrics(cfg.App.WorkerPoolSize)

	jobs := queue.New(logger, queue.Options{
		Workers:     cfg.App.WorkerPoolSize,
		Capacity:    cfg.App.QueueCapacity,
		MaxAttempts: cfg.App.MailMaxAttempts,
		Backoff:     2 * time.Second,
		JobTimeout:  30 * time.Second,
	})

	mailLimiter := ratelimit.NewRedisRateLimiter(rdb, logger, "contactbook:ratelimit:mail", cfg.App.MailRateLimit, cfg.App.MailRateBurst)
	notifier := notify.NewEmailNotifier(&cfg.Email, mailLimiter, logger)
	hasher := password.NewHasher(cfg.Security.BcryptCost)
	users := store.NewUsers(db)

	authSvc := auth.NewService(users, hasher, codec, notifier, jobs, logger, auth.Options{
		Cooldown:      cooldown.New(rdb, "confirm-email", cfg.App.ConfirmCooldown.Std()),
		StrictRefresh: cfg.Security.StrictRefresh,
	})

	meRate, meBurst := ratelimit.PerMinute(cfg.App.MeRateLimit)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		rdb:       rdb,
		router:    r,
		jobs:      jobs,
		authSvc:   authSvc,
		auth:      auth.NewHandler(authSvc, cfg.App.BaseURL, logger),
		users:     users,
		hasher:    hasher,
		contacts:  store.NewContacts(db),
		meLimiter: ratelimit.NewRedisRateLimiter(rdb, logger, "contactbook:ratelimit:http", meRate, meBurst),
		now:       time.Now,
	}
	s.registerRoutes()
	return s, nil
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Start 启动后台任务 worker。
func (s *Server) Start(ctx context.Context) {
	s.jobs.Start(ctx)
}

// Close 等待后台任务完成，然后关闭数据库与缓存连接。
func (s *Server) Close(ctx context.Context) error {
	var errs []error
	if s.jobs != nil {
		if err := s.jobs.Shutdown(ctx); err != nil && !errors.Is(err, queue.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			errs = append(errs, err)
		} else if err := sqlDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	apiGroup := s.router.Group("/api")
	s.auth.Register(apiGroup.Group("/auth"))

	authed := apiGroup.Group("")
	authed.Use(middleware.AuthMiddleware(s.authSvc, s.logger))
	authed.GET("/users/me", middleware.RateLimit(s.meLimiter, "users-me", s.logger), s.handleMe)
	s.registerContactRoutes(authed.Group("/contacts"))
}

// registerContactRoutes 注册联系人路由，rg 需已挂载认证中间件。
func (s *Server) registerContactRoutes(rg *gin.RouterGroup) {
	rg.GET("", s.handleListContacts)
	rg.POST("", s.handleCreateContact)
	rg.GET("/birthdays/upcoming", s.handleUpcomingBirthdays)
	rg.GET("/:id", s.handleGetContact)
	rg.PATCH("/:id", s.handleUpdateContact)
	rg.DELETE("/:id", s.handleDeleteContact)
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
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "component": "mysql"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "component": "redis"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "queue_pending": s.jobs.Pending()})
}

// handleMe 返回当前用户。
//
// GET /api/users/me
func (s *Server) handleMe(c *gin.Context) {
	c.JSON(http.StatusOK, auth.NewUserResponse(middleware.CurrentUser(c)))
}
