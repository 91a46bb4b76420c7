package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"contactbook/internal/model"
	"contactbook/internal/pkg/password"

	"github.com/gin-gonic/gin"
)

// Handler 提供注册、登录、刷新与邮箱确认接口。
type Handler struct {
	svc     *Service
	baseURL string
	logger  *slog.Logger
}

// NewHandler 创建 Auth Handler，baseURL 为空时从请求推导。
func NewHandler(svc *Service, baseURL string, logger *slog.Logger) *Handler {
	return &Handler{
		svc:     svc,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Register 挂载 /auth 路由。
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/signup", h.Signup)
	rg.POST("/signin", h.Signin)
	rg.POST("/refresh", h.Refresh)
	rg.GET("/confirm-email/:token", h.ConfirmEmail)
	rg.POST("/request-confirmation-email", h.RequestConfirmationEmail)
}

type signupRequest struct {
	Email    string `json:"email" binding:"required,email,max=191"`
	Password string `json:"password" binding:"required,min=6,max=72"`
}

// signinRequest 同时接受 JSON 与 OAuth2 password 表单（username/password）。
type signinRequest struct {
	Email    string `json:"email" form:"email"`
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password" binding:"required"`
}

func (r signinRequest) login() string {
	if r.Email != "" {
		return strings.TrimSpace(r.Email)
	}
	return strings.TrimSpace(r.Username)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type emailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// UserResponse 用户的公开字段。
type UserResponse struct {
	ID        uint    `json:"id"`
	Email     string  `json:"email"`
	AvatarURL *string `json:"avatar_url"`
}

// NewUserResponse 从模型构造响应。
func NewUserResponse(u *model.User) UserResponse {
	return UserResponse{ID: u.ID, Email: u.Email, AvatarURL: u.AvatarURL}
}

// Signup 创建新用户。
func (h *Handler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := h.svc.Signup(c.Request.Context(), strings.TrimSpace(req.Email), req.Password, h.requestBaseURL(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, NewUserResponse(user))
}

// Signin 校验用户并返回 token 对。
func (h *Handler) Signin(c *gin.Context) {
	var req signinRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	login := req.login()
	if login == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}
	pair, err := h.svc.Signin(c.Request.Context(), login, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Refresh 使用 refresh token 换取新的 access token。
func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pair, err := h.svc.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

// ConfirmEmail 处理邮件中的确认链接。
func (h *Handler) ConfirmEmail(c *gin.Context) {
	result, err := h.svc.ConfirmEmail(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": result.Message()})
}

// RequestConfirmationEmail 重发确认邮件，无论邮箱是否存在都返回相同响应。
func (h *Handler) RequestConfirmationEmail(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.RequestConfirmationEmail(c.Request.Context(), strings.TrimSpace(req.Email), h.requestBaseURL(c)); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Check your email for confirmation."})
}

// writeError 将服务层错误映射为 HTTP 响应。
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "User with this email already exists"})
	case errors.Is(err, ErrInvalidCredentials):
		c.Header("WWW-Authenticate", "Bearer")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Incorrect email or password"})
	case errors.Is(err, ErrEmailNotVerified):
		c.Header("WWW-Authenticate", "Bearer")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Email is not verified"})
	case errors.Is(err, ErrUnauthorized):
		c.Header("WWW-Authenticate", "Bearer")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Could not validate credentials"})
	case errors.Is(err, password.ErrTooLong):
		// binding 的 max 按字符计数，bcrypt 上限按字节。
		c.JSON(http.StatusBadRequest, gin.H{"error": "password must not exceed 72 bytes"})
	case errors.Is(err, ErrVerificationFailed):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Verification error"})
	default:
		if h.logger != nil {
			h.logger.Error("auth request failed",
				slog.String("path", c.FullPath()),
				slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// requestBaseURL 返回邮件链接的基础地址。
func (h *Handler) requestBaseURL(c *gin.Context) string {
	if h.baseURL != "" {
		return h.baseURL
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + c.Request.Host
}
