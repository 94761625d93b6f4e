package models

import "time"

type User struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Username     string     `gorm:"uniqueIndex;size:64;not null" json:"username"`
	Email        string     `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash string     `json:"-"` // OAuth 用户可以没有密码
	FirstName    string     `gorm:"size:64" json:"firstName,omitempty"`
	LastName     string     `gorm:"size:64" json:"lastName,omitempty"`
	Avatar       string     `gorm:"size:512" json:"avatar,omitempty"`
	Bio          string     `gorm:"size:512" json:"bio,omitempty"`
	IsGoogleUser bool       `json:"-"`
	GoogleID     string     `gorm:"size:64;index" json:"-"`
	IsActive     bool       `gorm:"default:true" json:"-"`
	LastLogin    *time.Time `json:"-"`
	CreatedAt    time.Time  `json:"-"`
	UpdatedAt    time.Time  `json:"-"`
}

// RefreshToken 表即用户当前有效的 refresh token id 集合，一行一个 id。
// 轮换时在同一事务里删除旧行并插入新行，登出时直接删除对应行。
type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	TokenID   string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time
}

type Chat struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	Name          string     `gorm:"size:128" json:"name"`
	Type          string     `gorm:"size:16;not null" json:"type"` // private | group
	Participants  string     `gorm:"type:text;not null" json:"-"`  // 逗号分隔的用户 id
	CreatedBy     uint       `gorm:"not null" json:"createdBy"`
	LastMessage   string     `gorm:"type:text" json:"lastMessage,omitempty"`
	LastMessageBy uint       `json:"lastMessageBy,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"-"`
}

type Message struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	ChatID     string    `gorm:"index:idx_msg_chat_id;size:36;not null" json:"chatId"`
	SenderID   uint      `gorm:"index;not null" json:"senderId"`
	ReceiverID uint      `gorm:"not null" json:"receiverId"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	SentAt     time.Time `gorm:"index;not null" json:"timestamp"`
	IsDeleted  bool      `gorm:"default:false" json:"-"`
}

type ScheduledMessage struct {
	ID           string    `gorm:"primaryKey;size:64"`
	ChatID       string    `gorm:"size:36;not null"`
	SenderID     uint      `gorm:"not null"`
	ReceiverID   uint      `gorm:"not null"`
	Content      string    `gorm:"type:text;not null"`
	ScheduledFor time.Time `gorm:"index;not null"`
	IsSent       bool      `gorm:"default:false;index"`
	CreatedAt    time.Time
}
