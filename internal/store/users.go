package store

import (
	"context"

	"gorm.io/gorm"

	"contactbook/internal/model"
)

// Users 用户目录。
type Users struct {
	db *gorm.DB
}

// NewUsers 创建用户目录。
func NewUsers(db *gorm.DB) *Users {
	return &Users{db: db}
}

// FindByEmail 按邮箱精确查找用户。
func (s *Users) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, translate("find user by email", err)
	}
	return &u, nil
}

// Insert 新增用户，邮箱重复时返回 ErrConflict。
func (s *Users) Insert(ctx context.Context, u *model.User) error {
	return translate("insert user", s.db.WithContext(ctx).Create(u).Error)
}

// UpdateRefreshToken 覆盖用户当前的 refresh token，nil 表示清空。
func (s *Users) UpdateRefreshToken(ctx context.Context, userID uint, token *string) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).Update("refresh_token", token)
	return translate("update refresh token", res.Error)
}

// SetEmailVerified 将用户标记为已确认邮箱。
func (s *Users) SetEmailVerified(ctx context.Context, userID uint) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).Update("email_verified", true)
	return translate("set email verified", res.Error)
}
