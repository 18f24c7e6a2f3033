package notify

// Notifier 定义账户邮件通知接口。
type Notifier interface {
	// SendActivationLink 发送账户激活邮件。
	//
	// 参数:
	//   toEmail: 接收邮箱
	//   link: 激活链接（含单次有效的激活令牌）
	SendActivationLink(toEmail string, link string) error

	// SendPasswordChanged 发送密码已修改的提示邮件。
	SendPasswordChanged(toEmail string) error
}
