package store

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"contactbook/internal/model"
)

// ContactFilter 联系人列表筛选条件。
//
// FirstName/LastName 为不区分大小写的子串匹配，Email 为精确匹配。
type ContactFilter struct {
	FirstName string
	LastName  string
	Email     string
	Offset    int
	Limit     int
}

// Contacts 联系人仓储，所有查询都按 user_id 隔离。
type Contacts struct {
	db *gorm.DB
}

// NewContacts 创建联系人仓储。
func NewContacts(db *gorm.DB) *Contacts {
	return &Contacts{db: db}
}

// List 分页列出用户的联系人。
func (s *Contacts) List(ctx context.Context, userID uint, f ContactFilter) ([]model.Contact, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if f.FirstName != "" {
		q = q.Where("LOWER(first_name) LIKE ?", likePattern(f.FirstName))
	}
	if f.LastName != "" {
		q = q.Where("LOWER(last_name) LIKE ?", likePattern(f.LastName))
	}
	if f.Email != "" {
		q = q.Where("email = ?", f.Email)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var out []model.Contact
	if err := q.Order("id").Find(&out).Error; err != nil {
		return nil, translate("list contacts", err)
	}
	return out, nil
}

// Get 返回用户的单个联系人。
func (s *Contacts) Get(ctx context.Context, userID, id uint) (*model.Contact, error) {
	var c model.Contact
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&c).Error; err != nil {
		return nil, translate("get contact", err)
	}
	return &c, nil
}

// Create 新增联系人，邮箱或电话重复时返回 ErrConflict。
func (s *Contacts) Create(ctx context.Context, c *model.Contact) error {
	return translate("create contact", s.db.WithContext(ctx).Create(c).Error)
}

// Update 覆盖联系人的可编辑字段，记录不存在时返回 ErrNotFound。
func (s *Contacts) Update(ctx context.Context, c *model.Contact) error {
	res := s.db.WithContext(ctx).
		Model(&model.Contact{}).
		Where("id = ? AND user_id = ?", c.ID, c.UserID).
		Select("first_name", "last_name", "email", "phone", "birthday", "additional_info").
		Updates(c)
	if res.Error != nil {
		return translate("update contact", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// MySQL 对未改变的行返回 0，需再确认记录是否仍存在。
	var n int64
	err := s.db.WithContext(ctx).
		Model(&model.Contact{}).
		Where("id = ? AND user_id = ?", c.ID, c.UserID).
		Count(&n).Error
	if err != nil {
		return translate("update contact", err)
	}
	if n == 0 {
		return translate("update contact", gorm.ErrRecordNotFound)
	}
	return nil
}

// Delete 删除联系人，不存在时返回 ErrNotFound。
func (s *Contacts) Delete(ctx context.Context, userID, id uint) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&model.Contact{})
	if res.Error != nil {
		return translate("delete contact", res.Error)
	}
	if res.RowsAffected == 0 {
		return translate("delete contact", gorm.ErrRecordNotFound)
	}
	return nil
}

// ListWithBirthdays 返回填写了生日的联系人。
func (s *Contacts) ListWithBirthdays(ctx context.Context, userID uint) ([]model.Contact, error) {
	var out []model.Contact
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND birthday IS NOT NULL", userID).
		Order("id").
		Find(&out).Error
	if err != nil {
		return nil, translate("list birthdays", err)
	}
	return out, nil
}

// Count 返回用户联系人数量。
func (s *Contacts) Count(ctx context.Context, userID uint) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.Contact{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		return 0, translate("count contacts", err)
	}
	return n, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(s string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(s)) + "%"
}
