package models

import (
	"time"
)

// User represents a platform user account. Authentication lives in the
// auth service; the tenancy core only needs existence and contact info.
type User struct {
	ID          string     `json:"id" gorm:"type:varchar(255);primaryKey"`
	Email       string     `json:"email" gorm:"uniqueIndex;not null"`
	Name        string     `json:"name"`
	CreatedAt   time.Time  `json:"created_at" gorm:"default:CURRENT_TIMESTAMP"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// TableName returns the table name for the User model
func (User) TableName() string {
	return "users"
}
