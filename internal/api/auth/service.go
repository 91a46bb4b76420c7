package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"contactbook/internal/model"
	"contactbook/internal/pkg/metrics"
	"contactbook/internal/pkg/queue"
	"contactbook/internal/pkg/token"
	"contactbook/internal/store"

	"golang.org/x/sync/errgroup"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("incorrect email or password")
	ErrEmailNotVerified   = errors.New("email is not verified")
	ErrUnauthorized       = errors.New("could not validate credentials")
	ErrVerificationFailed = errors.New("verification failed")
)

// UserDirectory 用户持久化接口，未找到返回 store.ErrNotFound，重复插入返回 store.ErrConflict。
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	Insert(ctx context.Context, u *model.User) error
	UpdateRefreshToken(ctx context.Context, userID uint, token *string) error
	SetEmailVerified(ctx context.Context, userID uint) error
}

// Hasher 密码摘要。
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
}

// Tokens 令牌签发与校验。
type Tokens interface {
	Issue(subject string, kind token.Kind) (string, error)
	Verify(tokenString string, expected token.Kind) (string, error)
}

// Mailer 确认邮件发送。
type Mailer interface {
	SendVerificationEmail(ctx context.Context, to string, token string, baseURL string) error
}

// Dispatcher 后台执行副作用任务。
type Dispatcher interface {
	Submit(name string, task queue.Task) bool
}

// Cooldown 限制同一邮箱重复发送确认邮件。
type Cooldown interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
	Remaining(ctx context.Context, key string) (time.Duration, error)
}

// TokenPair signin/refresh 的返回值。
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// ConfirmationResult 邮箱确认结果。
type ConfirmationResult int

const (
	Confirmed ConfirmationResult = iota
	AlreadyConfirmed
)

// Message 返回给客户端的提示文本。
func (r ConfirmationResult) Message() string {
	if r == AlreadyConfirmed {
		return "Your email is already confirmed"
	}
	return "Email confirmed"
}

// Options 可选行为。
type Options struct {
	Cooldown      Cooldown // 为 nil 时不限制重发
	StrictRefresh bool     // refresh 时要求与已存储 token 一致
}

// Service 负责注册、登录、刷新与邮箱确认流程。
type Service struct {
	users      UserDirectory
	hasher     Hasher
	tokens     Tokens
	mailer     Mailer
	dispatcher Dispatcher
	opts       Options
	logger     *slog.Logger
	dummyHash  string
}

// NewService 创建认证服务。
func NewService(users UserDirectory, hasher Hasher, tokens Tokens, mailer Mailer, dispatcher Dispatcher, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Service{
		users:      users,
		hasher:     hasher,
		tokens:     tokens,
		mailer:     mailer,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger,
	}
	// 未知邮箱也执行一次摘要比较，使响应时间与密码错误一致。
	if digest, err := hasher.Hash("contactbook-timing-equalizer"); err == nil {
		s.dummyHash = digest
	}
	return s
}

// Signup 创建未确认的用户并异步发送确认邮件。
func (s *Service) Signup(ctx context.Context, email, password, baseURL string) (*model.User, error) {
	_, err := s.users.FindByEmail(ctx, email)
	if err == nil {
		metrics.AuthEventsTotal.WithLabelValues("signup", "conflict").Inc()
		return nil, ErrEmailTaken
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{Email: email, PasswordHash: digest}
	if err := s.users.Insert(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			metrics.AuthEventsTotal.WithLabelValues("signup", "conflict").Inc()
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	s.dispatchVerification(email, baseURL)
	metrics.AuthEventsTotal.WithLabelValues("signup", "ok").Inc()
	s.logger.Info("user registered", slog.String("email", email), slog.Uint64("user_id", uint64(user.ID)))
	return user, nil
}

// Signin 校验凭据并签发 access/refresh token。
func (s *Service) Signin(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("lookup user: %w", err)
		}
		s.hasher.Verify(password, s.dummyHash)
		metrics.AuthEventsTotal.WithLabelValues("signin", "invalid_credentials").Inc()
		return nil, ErrInvalidCredentials
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		metrics.AuthEventsTotal.WithLabelValues("signin", "invalid_credentials").Inc()
		return nil, ErrInvalidCredentials
	}
	if !user.EmailVerified {
		metrics.AuthEventsTotal.WithLabelValues("signin", "unverified").Inc()
		return nil, ErrEmailNotVerified
	}

	var access, refresh string
	g := new(errgroup.Group)
	g.Go(func() error {
		var err error
		access, err = s.issue(user.Email, token.KindAccess)
		return err
	})
	g.Go(func() error {
		var err error
		refresh, err = s.issue(user.Email, token.KindRefresh)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := s.users.UpdateRefreshToken(ctx, user.ID, &refresh); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	metrics.AuthEventsTotal.WithLabelValues("signin", "ok").Inc()
	s.logger.Info("user signed in", slog.String("email", email))
	return &TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}, nil
}

// Refresh 用 refresh token 换取新的 access token，refresh token 原样返回。
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	email, err := s.tokens.Verify(refreshToken, token.KindRefresh)
	if err != nil {
		metrics.AuthEventsTotal.WithLabelValues("refresh", "invalid_token").Inc()
		return nil, ErrUnauthorized
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.AuthEventsTotal.WithLabelValues("refresh", "unknown_subject").Inc()
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if s.opts.StrictRefresh && (user.RefreshToken == nil || *user.RefreshToken != refreshToken) {
		metrics.AuthEventsTotal.WithLabelValues("refresh", "superseded").Inc()
		s.logger.Warn("superseded refresh token presented", slog.String("email", email))
		return nil, ErrUnauthorized
	}

	access, err := s.issue(user.Email, token.KindAccess)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdateRefreshToken(ctx, user.ID, &refreshToken); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	metrics.AuthEventsTotal.WithLabelValues("refresh", "ok").Inc()
	return &TokenPair{AccessToken: access, RefreshToken: refreshToken, TokenType: "bearer"}, nil
}

// ConfirmEmail 校验确认令牌并标记邮箱已确认，重复确认是幂等的。
func (s *Service) ConfirmEmail(ctx context.Context, verificationToken string) (ConfirmationResult, error) {
	email, err := s.tokens.Verify(verificationToken, token.KindEmailVerification)
	if err != nil {
		metrics.AuthEventsTotal.WithLabelValues("confirm", "invalid_token").Inc()
		return 0, ErrVerificationFailed
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.AuthEventsTotal.WithLabelValues("confirm", "unknown_subject").Inc()
			return 0, ErrVerificationFailed
		}
		return 0, fmt.Errorf("lookup user: %w", err)
	}
	if user.EmailVerified {
		return AlreadyConfirmed, nil
	}
	if err := s.users.SetEmailVerified(ctx, user.ID); err != nil {
		return 0, fmt.Errorf("mark email verified: %w", err)
	}

	metrics.AuthEventsTotal.WithLabelValues("confirm", "ok").Inc()
	s.logger.Info("email confirmed", slog.String("email", email))
	return Confirmed, nil
}

// RequestConfirmationEmail 为未确认用户重发确认邮件。
//
// 邮箱不存在、已确认或处于冷却期时同样返回 nil，调用方无法据此判断账户是否存在。
func (s *Service) RequestConfirmationEmail(ctx context.Context, email, baseURL string) error {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	if user.EmailVerified {
		return nil
	}

	if s.opts.Cooldown != nil {
		ok, err := s.opts.Cooldown.Claim(ctx, email)
		if err != nil {
			s.logger.Warn("confirmation cooldown unavailable", slog.String("error", err.Error()))
		} else if !ok {
			remain, _ := s.opts.Cooldown.Remaining(ctx, email)
			s.logger.Info("confirmation email throttled",
				slog.String("email", email),
				slog.String("retry_in", remain.String()))
			return nil
		}
	}

	if !s.dispatchVerification(email, baseURL) && s.opts.Cooldown != nil {
		_ = s.opts.Cooldown.Release(ctx, email)
	}
	return nil
}

// CurrentUser 将 access token 解析为已认证用户。
func (s *Service) CurrentUser(ctx context.Context, accessToken string) (*model.User, error) {
	email, err := s.tokens.Verify(accessToken, token.KindAccess)
	if err != nil {
		return nil, ErrUnauthorized
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

func (s *Service) issue(subject string, kind token.Kind) (string, error) {
	signed, err := s.tokens.Issue(subject, kind)
	if err != nil {
		return "", fmt.Errorf("issue %s token: %w", kind, err)
	}
	metrics.TokensIssuedTotal.WithLabelValues(string(kind)).Inc()
	return signed, nil
}

// dispatchVerification 将确认邮件交给后台队列，返回是否入队成功。
func (s *Service) dispatchVerification(email, baseURL string) bool {
	ok := s.dispatcher.Submit("verification-email", func(ctx context.Context) error {
		tok, err := s.issue(email, token.KindEmailVerification)
		if err != nil {
			metrics.MailJobsTotal.WithLabelValues("error").Inc()
			return err
		}
		if err := s.mailer.SendVerificationEmail(ctx, email, tok, baseURL); err != nil {
			metrics.MailJobsTotal.WithLabelValues("error").Inc()
			return err
		}
		metrics.MailJobsTotal.WithLabelValues("sent").Inc()
		return nil
	})
	if !ok {
		metrics.MailJobsTotal.WithLabelValues("dropped").Inc()
		s.logger.Warn("verification email not queued", slog.String("email", email))
	}
	return ok
}
