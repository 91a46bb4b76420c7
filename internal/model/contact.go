package model

import "time"

// Contact 表示用户通讯录中的一条联系人。
//
// (email, user_id) 与 (phone, user_id) 各自唯一。
type Contact struct {
	ID             uint       `gorm:"primaryKey"`
	UserID         uint       `gorm:"not null;index;uniqueIndex:idx_contact_email_user,priority:2;uniqueIndex:idx_contact_phone_user,priority:2"`
	FirstName      string     `gorm:"type:varchar(50);not null"`
	LastName       string     `gorm:"type:varchar(50);not null"`
	Email          string     `gorm:"type:varchar(191);not null;uniqueIndex:idx_contact_email_user,priority:1"`
	Phone          string     `gorm:"type:varchar(20);not null;uniqueIndex:idx_contact_phone_user,priority:1"`
	Birthday       *time.Time `gorm:"type:date"`
	AdditionalInfo *string    `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
