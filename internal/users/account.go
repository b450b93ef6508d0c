package users

import (
	"strings"
	"time"
)

// Account is a login registered on the remote service.
type Account struct {
	ID           int64     `gorm:"column:id;primaryKey"`
	Username     string    `gorm:"column:username;size:190;not null;uniqueIndex"`
	Email        string    `gorm:"column:email;size:320"`
	PasswordHash string    `gorm:"column:password_hash;size:100;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	LastLoginAt  time.Time `gorm:"column:last_login_at"`
}

// TableName exposes the table backing accounts.
func (Account) TableName() string {
	return "user_accounts"
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
