package models

import (
	"time"
)

// 消息角色，闭集
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// User 用户表（简化版，仅保留会话外键需要的字段）
type User struct {
	ID        uint      `gorm:"primaryKey;column:id" json:"id"`
	Email     string    `gorm:"column:email;size:255;uniqueIndex;not null" json:"email"`
	Name      string    `gorm:"column:name;size:255" json:"name"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// ChatSession 对话会话表，UserID可为空（匿名会话）
type ChatSession struct {
	ID        uint      `gorm:"primaryKey;column:id" json:"id"`
	UserID    *uint     `gorm:"column:user_id;index" json:"user_id,omitempty"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`

	User     *User         `gorm:"foreignKey:UserID" json:"-"`
	Messages []ChatMessage `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

// ChatMessage 对话消息表，随会话级联删除，创建后不可变
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey;column:id" json:"id"`
	SessionID uint      `gorm:"column:session_id;not null;index" json:"session_id"`
	Role      string    `gorm:"column:role;size:20;not null;check:role IN ('user','assistant')" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"column:created_at;index" json:"created_at"`
	Metadata  string    `gorm:"type:jsonb;column:metadata" json:"metadata,omitempty"`

	Session ChatSession `gorm:"foreignKey:SessionID" json:"-"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}
