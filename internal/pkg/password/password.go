package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrTooLong 密码超过 bcrypt 可处理的 72 字节。
var ErrTooLong = errors.New("password exceeds 72 bytes")

// Hasher 使用 bcrypt 生成与校验密码摘要。
type Hasher struct {
	cost int
}

// NewHasher 创建 Hasher，cost 超出 bcrypt 范围时使用默认值。
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash 返回带随机盐的 bcrypt 摘要。
func (h *Hasher) Hash(plaintext string) (string, error) {
	if len(plaintext) > 72 {
		return "", ErrTooLong
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(digest), nil
}

// Verify 以常量时间比较明文与摘要；摘要格式错误时返回 false。
func (h *Hasher) Verify(plaintext, digest string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}
