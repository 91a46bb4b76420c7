package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind 令牌用途，签发时写入 token_type 声明。
type Kind string

const (
	KindAccess            Kind = "access"
	KindRefresh           Kind = "refresh"
	KindEmailVerification Kind = "email-verification"
)

// ErrInvalidToken 签名、格式、类型或有效期任一校验失败。
var ErrInvalidToken = errors.New("invalid token")

// Options 令牌编解码配置，进程启动时构造一次。
type Options struct {
	Secret          string
	Algorithm       string // HS256 / HS384 / HS512
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	VerificationTTL time.Duration
}

type claims struct {
	jwt.RegisteredClaims
	Kind Kind `json:"token_type"`
}

// Codec 签发并校验带类型的 JWT。
type Codec struct {
	secret []byte
	method jwt.SigningMethod
	ttl    map[Kind]time.Duration
	now    func() time.Time
}

// NewCodec 根据配置创建 Codec。
func NewCodec(opts Options) (*Codec, error) {
	if opts.Secret == "" {
		return nil, errors.New("token: empty signing secret")
	}
	method, err := signingMethod(opts.Algorithm)
	if err != nil {
		return nil, err
	}
	return &Codec{
		secret: []byte(opts.Secret),
		method: method,
		ttl: map[Kind]time.Duration{
			KindAccess:            opts.AccessTTL,
			KindRefresh:           opts.RefreshTTL,
			KindEmailVerification: opts.VerificationTTL,
		},
		now: time.Now,
	}, nil
}

func signingMethod(alg string) (jwt.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("token: unsupported algorithm %q", alg)
	}
}

// Issue 使用该类型配置的有效期签发令牌。
func (c *Codec) Issue(subject string, kind Kind) (string, error) {
	ttl, ok := c.ttl[kind]
	if !ok {
		return "", fmt.Errorf("token: unknown kind %q", kind)
	}
	return c.Sign(subject, kind, ttl)
}

// Sign 签发 subject 的令牌，过期时间为 now+ttl。
func (c *Codec) Sign(subject string, kind Kind, ttl time.Duration) (string, error) {
	now := c.now()
	cl := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Kind: kind,
	}
	signed, err := jwt.NewWithClaims(c.method, cl).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

// Verify 校验令牌并返回 subject。
//
// 任何失败（签名、解析、算法、类型不符、now >= exp）都返回 ErrInvalidToken。
func (c *Codec) Verify(tokenString string, expected Kind) (string, error) {
	cl := &claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, cl, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if cl.Kind != expected || cl.Subject == "" {
		return "", ErrInvalidToken
	}
	return cl.Subject, nil
}
