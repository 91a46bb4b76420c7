package model

import "time"

// User 表示系统用户。
type User struct {
	ID            uint      `gorm:"primaryKey"`                                                 // 用户 ID
	Email         string    `gorm:"type:varchar(191) COLLATE utf8mb4_bin;uniqueIndex;not null"` // 邮箱（唯一，区分大小写）
	PasswordHash  string    `gorm:"type:varchar(255);not null"`                                 // bcrypt 摘要
	EmailVerified bool      `gorm:"default:false"`                                              // 邮箱是否已确认
	AvatarURL     *string   `gorm:"type:varchar(512)"`                                          // 头像地址
	RefreshToken  *string   `gorm:"type:text"`                                                  // 当前 refresh token
	CreatedAt     time.Time // 创建时间

	Contacts []Contact `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}
