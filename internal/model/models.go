package model

import (
	"time"
)

// SnippetLength 列表视图中描述摘要的固定长度。
const SnippetLength = 5

// Task 表示一条待办任务。
//
// 每个任务恰好归属一个 Profile，owner 字段由服务端从登录身份推导，
// 任何请求都不能指定或修改它。
type Task struct {
	ID          uint      `gorm:"primaryKey"`     // 任务唯一标识
	CreatedDate time.Time `gorm:"autoCreateTime"` // 创建时间（创建后不可变）
	UpdatedDate time.Time `gorm:"autoUpdateTime"` // 更新时间（每次变更刷新）

	ProfileID uint    `gorm:"not null;index"`       // 所属 Profile ID
	Profile   Profile `gorm:"foreignKey:ProfileID"` // 所属资料

	Title       string `gorm:"type:varchar(200);not null"` // 标题（必填，限长）
	Description string `gorm:"type:text"`                  // 描述（可选）
	Complete    bool   `gorm:"default:false"`              // 完成标记
}

// Snippet 返回描述的固定长度前缀，仅在列表视图中展示。
func (t *Task) Snippet() string {
	runes := []rune(t.Description)
	if len(runes) <= SnippetLength {
		return t.Description
	}
	return string(runes[:SnippetLength])
}
