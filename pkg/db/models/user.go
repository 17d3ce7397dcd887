package models

import (
	"time"

	"github.com/kayakoyan/marketplace-backend/pkg/enums"
)

// User is any account on the marketplace; Role decides which panel it uses.
type User struct {
	ID         uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	Name       string         `gorm:"column:name;not null"`
	Email      string         `gorm:"column:email;not null;uniqueIndex"`
	Role       enums.UserRole `gorm:"column:role;not null"`
	AvatarPath *string        `gorm:"column:avatar_path"`
	CreatedAt  time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}
