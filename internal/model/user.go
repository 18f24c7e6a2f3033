package model

import "time"

// User 表示系统账户。
//
// 邮箱是唯一的登录标识，没有单独的用户名字段。
// IsVerified 在激活成功后置为 true，且永不回退。
type User struct {
	ID         uint      `gorm:"primaryKey"`                             // 用户 ID
	Email      string    `gorm:"type:varchar(191);uniqueIndex;not null"` // 邮箱（唯一）
	Password   string    `gorm:"not null"`                               // bcrypt 哈希
	IsVerified bool      `gorm:"default:false"`                          // 邮箱是否已验证
	CreatedAt  time.Time // 创建时间

	Profile *Profile `gorm:"foreignKey:UserID"`
}

// Profile 表示账户的可编辑资料，与 User 严格一对一。
//
// Profile 在注册时随 User 同一事务创建，不单独创建或删除，
// 它是任务归属的唯一单位：所有 Task 都挂在 Profile 下。
type Profile struct {
	ID        uint      `gorm:"primaryKey"`           // 资料 ID（即任务的 owner）
	UserID    uint      `gorm:"uniqueIndex;not null"` // 所属用户 ID
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间

	FirstName   string `gorm:"type:varchar(100)"` // 名
	LastName    string `gorm:"type:varchar(100)"` // 姓
	Image       string `gorm:"type:varchar(255)"` // 头像链接（可选）
	Description string `gorm:"type:text"`         // 自由文本简介

	Tasks []Task `gorm:"foreignKey:ProfileID"`
}
