package api

import (
	"context"
	"errors"
	"strings"

	"taskhub/internal/model"

	"gorm.io/gorm"
)

// TaskQuery 控制 API 列表的过滤、搜索、排序与分页。
//
// 页面列表不使用它：页面始终返回完整的归属集合。
type TaskQuery struct {
	Complete *bool  // 完成标记过滤（nil 表示不过滤）
	Search   string // 标题/描述子串搜索（大小写不敏感）
	Ordering string // "created_date" 或 "-created_date"，空值按 "-created_date"
	Page     int    // 页码，从 1 开始
	PageSize int    // 每页条数
}

// TaskStats Profile 摘要页展示的任务计数。
type TaskStats struct {
	Total     int64 // 总数
	Completed int64 // 已完成
	Pending   int64 // 未完成
}

// TaskStore 是归属范围检索层：所有读写都以请求者的 Profile 为范围。
//
// 范围之外的记录一律按不存在处理（gorm.ErrRecordNotFound / 零行生效），
// 不存在单独的"无权限"返回路径，避免泄露他人任务是否存在。
type TaskStore interface {
	// ListFor 返回 profileID 归属集合中满足 q 的一页任务，以及过滤后、
	// 分页前的总条数。
	ListFor(ctx context.Context, profileID uint, q TaskQuery) ([]model.Task, int64, error)
	// AllFor 返回 profileID 的完整归属集合（页面列表使用），新建在前。
	AllFor(ctx context.Context, profileID uint) ([]model.Task, error)
	// GetFor 返回归属集合中的单条任务，范围外返回 gorm.ErrRecordNotFound。
	GetFor(ctx context.Context, profileID, taskID uint) (*model.Task, error)
	// Create 创建任务，owner 必须已由调用方强制设为请求者的 Profile。
	Create(ctx context.Context, task *model.Task) error
	// UpdateFor 更新归属集合中的任务字段并返回更新后的记录。
	UpdateFor(ctx context.Context, profileID, taskID uint, updates map[string]interface{}) (*model.Task, error)
	// DeleteFor 删除归属集合中的任务；范围外（含已删除）返回 false。
	DeleteFor(ctx context.Context, profileID, taskID uint) (bool, error)
	// ToggleFor 翻转归属集合中任务的完成标记并返回更新后的记录。
	ToggleFor(ctx context.Context, profileID, taskID uint) (*model.Task, error)
	// StatsFor 基于归属集合统计总数/已完成/未完成。
	StatsFor(ctx context.Context, profileID uint) (TaskStats, error)
}

// ProfileStore 将登录身份解析为 Profile。
type ProfileStore interface {
	// GetByUserID 返回用户的 Profile；不存在返回 gorm.ErrRecordNotFound。
	GetByUserID(ctx context.Context, userID uint) (*model.Profile, error)
}

type dbTaskStore struct {
	db *gorm.DB
}

// NewTaskStore 创建基于 GORM 的归属范围任务存储。
func NewTaskStore(db *gorm.DB) TaskStore {
	return dbTaskStore{db: db}
}

// scoped 返回以 profileID 为范围的基础查询，所有操作都从这里出发。
func (s dbTaskStore) scoped(ctx context.Context, profileID uint) *gorm.DB {
	return s.db.WithContext(ctx).Model(&model.Task{}).Where("profile_id = ?", profileID)
}

func (s dbTaskStore) ListFor(ctx context.Context, profileID uint, q TaskQuery) ([]model.Task, int64, error) {
	query := s.scoped(ctx, profileID)

	if q.Complete != nil {
		query = query.Where("complete = ?", *q.Complete)
	}
	if term := strings.TrimSpace(q.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		query = query.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	switch q.Ordering {
	case "created_date":
		query = query.Order("created_date ASC, id ASC")
	default:
		query = query.Order("created_date DESC, id DESC")
	}

	page := q.Page
	if page < 1 {
		page = 1
	}
	pageSize := q.PageSize
	if pageSize < 1 {
		pageSize = 10
	}

	tasks := []model.Task{}
	if err := query.Limit(pageSize).Offset((page - 1) * pageSize).Find(&tasks).Error; err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

func (s dbTaskStore) AllFor(ctx context.Context, profileID uint) ([]model.Task, error) {
	tasks := []model.Task{}
	if err := s.scoped(ctx, profileID).Order("created_date DESC, id DESC").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s dbTaskStore) GetFor(ctx context.Context, profileID, taskID uint) (*model.Task, error) {
	var task model.Task
	if err := s.scoped(ctx, profileID).Where("id = ?", taskID).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (s dbTaskStore) Create(ctx context.Context, task *model.Task) error {
	return s.db.WithContext(ctx).Create(task).Error
}

func (s dbTaskStore) UpdateFor(ctx context.Context, profileID, taskID uint, updates map[string]interface{}) (*model.Task, error) {
	var task model.Task
	if err := s.scoped(ctx, profileID).Where("id = ?", taskID).First(&task).Error; err != nil {
		return nil, err
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&task).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return &task, nil
}

func (s dbTaskStore) DeleteFor(ctx context.Context, profileID, taskID uint) (bool, error) {
	res := s.db.WithContext(ctx).Where("id = ? AND profile_id = ?", taskID, profileID).Delete(&model.Task{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s dbTaskStore) ToggleFor(ctx context.Context, profileID, taskID uint) (*model.Task, error) {
	var task model.Task
	if err := s.scoped(ctx, profileID).Where("id = ?", taskID).First(&task).Error; err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&task).Update("complete", !task.Complete).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (s dbTaskStore) StatsFor(ctx context.Context, profileID uint) (TaskStats, error) {
	var stats TaskStats
	if err := s.scoped(ctx, profileID).Count(&stats.Total).Error; err != nil {
		return TaskStats{}, err
	}
	if err := s.scoped(ctx, profileID).Where("complete = ?", true).Count(&stats.Completed).Error; err != nil {
		return TaskStats{}, err
	}
	stats.Pending = stats.Total - stats.Completed
	return stats, nil
}

type dbProfileStore struct {
	db *gorm.DB
}

// NewProfileStore 创建基于 GORM 的 Profile 检索。
func NewProfileStore(db *gorm.DB) ProfileStore {
	return dbProfileStore{db: db}
}

func (s dbProfileStore) GetByUserID(ctx context.Context, userID uint) (*model.Profile, error) {
	var profile model.Profile
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// IsNotFound 判断 store 错误是否为"记录不存在"。
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
