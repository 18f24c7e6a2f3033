package auth

import (
	"context"

	"taskhub/internal/model"

	"gorm.io/gorm"
)

// UserStore 账户的检索与激活状态更新。
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id uint) (*model.User, error)
	SetVerified(ctx context.Context, id uint) error
}

type dbUserStore struct {
	db *gorm.DB
}

// NewUserStore 返回基于 GORM 的 UserStore。
func NewUserStore(db *gorm.DB) UserStore {
	return dbUserStore{db: db}
}

func (s dbUserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (s dbUserStore) GetByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (s dbUserStore) SetVerified(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", id).
		Update("is_verified", true).Error
}
