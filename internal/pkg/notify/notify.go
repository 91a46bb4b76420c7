package notify

import (
	"context"
	"strings"
)

// Notifier 定义账户相关通知的发送接口。
type Notifier interface {
	// SendVerificationEmail 发送邮箱确认邮件。
	//
	// 参数:
	//   ctx: 上下文
	//   to: 收件邮箱
	//   token: email-verification 令牌
	//   baseURL: 服务对外地址，用于拼接确认链接
	SendVerificationEmail(ctx context.Context, to string, token string, baseURL string) error
}

// VerificationLink 返回确认邮箱的完整链接。
func VerificationLink(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/api/auth/confirm-email/" + token
}
