package notify

import (
	"context"
)

// Notifier 定义邮件通知接口。
type Notifier interface {
	// SendWelcome 发送注册欢迎邮件。
	SendWelcome(ctx context.Context, toEmail string, username string) error

	// SendPasswordReset 发送重置密码链接。
	//
	// 参数:
	//   ctx: 上下文
	//   toEmail: 接收邮箱
	//   link: 完整的重置链接（含 token）
	SendPasswordReset(ctx context.Context, toEmail string, link string) error

	// SendReport 发送 PDF 报表附件。
	//
	// 参数:
	//   ctx: 上下文
	//   toEmail: 接收邮箱
	//   attachmentPath: 已写完并关闭的 PDF 文件路径
	//   filename: 附件展示的文件名
	//   rangeLabel: 报表日期范围描述，用于邮件正文
	SendReport(ctx context.Context, toEmail string, attachmentPath string, filename string, rangeLabel string) error
}
