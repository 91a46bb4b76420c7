package api

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"contactbook/internal/api/middleware"
	"contactbook/internal/model"
	"contactbook/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/nyaruka/phonenumbers"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	birthdayLayout  = "2006-01-02"
)

var (
	errInvalidPhone   = errors.New("invalid phone number")
	errFutureBirthday = errors.New("birthday cannot be in the future")
	errInvalidDate    = errors.New("birthday must be YYYY-MM-DD")
)

// createContactRequest 新建联系人请求体。
type createContactRequest struct {
	FirstName      string  `json:"first_name" binding:"required,min=2,max=50"`
	LastName       string  `json:"last_name" binding:"required,min=2,max=50"`
	Email          string  `json:"email" binding:"required,email,max=191"`
	Phone          string  `json:"phone" binding:"required,min=10,max=20"`
	Birthday       *string `json:"birthday"`
	AdditionalInfo *string `json:"additional_info" binding:"omitempty,max=2000"`
}

// updateContactRequest 部分更新请求体，未出现的字段保持不变。
type updateContactRequest struct {
	FirstName      *string `json:"first_name" binding:"omitempty,min=2,max=50"`
	LastName       *string `json:"last_name" binding:"omitempty,min=2,max=50"`
	Email          *string `json:"email" binding:"omitempty,email,max=191"`
	Phone          *string `json:"phone" binding:"omitempty,min=10,max=20"`
	Birthday       *string `json:"birthday"`
	AdditionalInfo *string `json:"additional_info" binding:"omitempty,max=2000"`
}

// ContactShortResponse 列表中的联系人摘要。
type ContactShortResponse struct {
	ID        uint   `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// ContactResponse 联系人完整信息。
type ContactResponse struct {
	ContactShortResponse
	Birthday       *string   `json:"birthday"`
	AdditionalInfo *string   `json:"additional_info"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func newShortResponse(c model.Contact) ContactShortResponse {
	return ContactShortResponse{
		ID:        c.ID,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Email:     c.Email,
		Phone:     c.Phone,
	}
}

func newContactResponse(c *model.Contact) ContactResponse {
	resp := ContactResponse{
		ContactShortResponse: newShortResponse(*c),
		AdditionalInfo:       c.AdditionalInfo,
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
	}
	if c.Birthday != nil {
		s := c.Birthday.Format(birthdayLayout)
		resp.Birthday = &s
	}
	return resp
}

// handleListContacts 分页列出联系人。
//
// GET /api/contacts?page=1&show=10&first_name=&last_name=&email=
func (s *Server) handleListContacts(c *gin.Context) {
	user := middleware.CurrentUser(c)

	page, err := queryInt(c, "page", 1)
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page must be a positive integer"})
		return
	}
	show, err := queryInt(c, "show", defaultPageSize)
	if err != nil || show < 1 || show > maxPageSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "show must be between 1 and 100"})
		return
	}
	if page-1 > math.MaxInt/show {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page is out of range"})
		return
	}

	contacts, err := s.contacts.List(c.Request.Context(), user.ID, store.ContactFilter{
		FirstName: strings.TrimSpace(c.Query("first_name")),
		LastName:  strings.TrimSpace(c.Query("last_name")),
		Email:     strings.TrimSpace(c.Query("email")),
		Offset:    (page - 1) * show,
		Limit:     show,
	})
	if err != nil {
		s.writeContactError(c, err)
		return
	}

	out := make([]ContactShortResponse, 0, len(contacts))
	for _, ct := range contacts {
		out = append(out, newShortResponse(ct))
	}
	c.JSON(http.StatusOK, out)
}

// handleGetContact 返回单个联系人。
//
// GET /api/contacts/:id
func (s *Server) handleGetContact(c *gin.Context) {
	id, ok := contactID(c)
	if !ok {
		return
	}
	ct, err := s.contacts.Get(c.Request.Context(), middleware.CurrentUser(c).ID, id)
	if err != nil {
		s.writeContactError(c, err)
		return
	}
	c.JSON(http.StatusOK, newContactResponse(ct))
}

// handleCreateContact 新建联系人。
//
// POST /api/contacts
func (s *Server) handleCreateContact(c *gin.Context) {
	var req createContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	phone, err := normalizePhone(req.Phone)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ct := &model.Contact{
		UserID:         middleware.CurrentUser(c).ID,
		FirstName:      strings.TrimSpace(req.FirstName),
		LastName:       strings.TrimSpace(req.LastName),
		Email:          strings.TrimSpace(req.Email),
		Phone:          phone,
		AdditionalInfo: req.AdditionalInfo,
	}
	if req.Birthday != nil {
		bd, err := parseBirthday(*req.Birthday, s.today())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ct.Birthday = bd
	}

	if err := s.contacts.Create(c.Request.Context(), ct); err != nil {
		s.writeContactError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newContactResponse(ct))
}

// handleUpdateContact 部分更新联系人。
//
// PATCH /api/contacts/:id
func (s *Server) handleUpdateContact(c *gin.Context) {
	id, ok := contactID(c)
	if !ok {
		return
	}
	var req updateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	ct, err := s.contacts.Get(ctx, middleware.CurrentUser(c).ID, id)
	if err != nil {
		s.writeContactError(c, err)
		return
	}

	if req.FirstName != nil {
		ct.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		ct.LastName = strings.TrimSpace(*req.LastName)
	}
	if req.Email != nil {
		ct.Email = strings.TrimSpace(*req.Email)
	}
	if req.Phone != nil {
		phone, err := normalizePhone(*req.Phone)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ct.Phone = phone
	}
	if req.Birthday != nil {
		bd, err := parseBirthday(*req.Birthday, s.today())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ct.Birthday = bd
	}
	if req.AdditionalInfo != nil {
		ct.AdditionalInfo = req.AdditionalInfo
	}

	if err := s.contacts.Update(ctx, ct); err != nil {
		s.writeContactError(c, err)
		return
	}
	c.JSON(http.StatusOK, newContactResponse(ct))
}

// handleDeleteContact 删除联系人。
//
// DELETE /api/contacts/:id
func (s *Server) handleDeleteContact(c *gin.Context) {
	id, ok := contactID(c)
	if !ok {
		return
	}
	if err := s.contacts.Delete(c.Request.Context(), middleware.CurrentUser(c).ID, id); err != nil {
		s.writeContactError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) writeContactError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Contact not found"})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "Contact with this email or phone already exists"})
	default:
		s.logger.Error("contact request failed",
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// today 返回当前日期（UTC 零点）。
func (s *Server) today() time.Time {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	return dateOf(now())
}

func contactID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// normalizePhone 校验号码并格式化为 E.164，号码必须带国家码。
func normalizePhone(raw string) (string, error) {
	num, err := phonenumbers.Parse(strings.TrimSpace(raw), "")
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", errInvalidPhone
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// parseBirthday 解析 YYYY-MM-DD，空串表示清除生日。
func parseBirthday(raw string, today time.Time) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	// DSN 使用 loc=Local，按本地零点存储以免驱动换算后日期偏移。
	bd, err := time.ParseInLocation(birthdayLayout, raw, time.Local)
	if err != nil {
		return nil, errInvalidDate
	}
	if dateOf(bd).After(today) {
		return nil, errFutureBirthday
	}
	return &bd, nil
}
