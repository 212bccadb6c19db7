package users

import (
	"strings"
	"time"
)

// Role enumerates the access levels known to the backend.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleMember  Role = "member"
)

// CanCreateMemo reports whether the role may author memos.
func (r Role) CanCreateMemo() bool {
	return r == RoleAdmin || r == RoleManager
}

// User captures an account along with its notification preferences.
type User struct {
	UserID             string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Email              string    `gorm:"column:user_email;size:320"`
	Phone              string    `gorm:"column:user_phone;size:32"`
	DisplayName        string    `gorm:"column:user_display_name;size:320"`
	Role               Role      `gorm:"column:user_role;size:32;not null;default:member"`
	EmailNotifications bool      `gorm:"column:email_notifications;not null;default:true"`
	SMSNotifications   bool      `gorm:"column:sms_notifications;not null;default:false"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
