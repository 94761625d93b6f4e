package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/LikhitaMagar01/Zync/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatService 封装会话相关的业务逻辑。
type ChatService struct {
	db *gorm.DB
}

func NewChatService(db *gorm.DB) *ChatService {
	return &ChatService{db: db}
}

// 参与者列表序列化成前后都带逗号的形式（",1,2,"），方便 LIKE 查询。
func encodeParticipants(ids []uint) string {
	var b strings.Builder
	b.WriteByte(',')
	for _, id := range ids {
		b.WriteString(strconv.FormatUint(uint64(id), 10))
		b.WriteByte(',')
	}
	return b.String()
}

func decodeParticipants(s string) []uint {
	parts := strings.Split(strings.Trim(s, ","), ",")
	out := make([]uint, 0, len(parts))
	for _, p := range parts {
		if v, err := strconv.ParseUint(p, 10, 64); err == nil {
			out = append(out, uint(v))
		}
	}
	return out
}

// ChatDTO 是对外输出的会话数据。
type ChatDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	Participants  []uint `json:"participants"`
	CreatedBy     uint   `json:"createdBy"`
	LastMessage   string `json:"lastMessage,omitempty"`
	LastMessageBy uint   `json:"lastMessageBy,omitempty"`
}

func toChatDTO(c models.Chat) ChatDTO {
	return ChatDTO{
		ID:            c.ID,
		Name:          c.Name,
		Type:          c.Type,
		Participants:  decodeParticipants(c.Participants),
		CreatedBy:     c.CreatedBy,
		LastMessage:   c.LastMessage,
		LastMessageBy: c.LastMessageBy,
	}
}

// Create 创建会话，创建者总是参与者之一。
func (s *ChatService) Create(name, chatType string, participants []uint, createdBy uint) (*ChatDTO, error) {
	if chatType != "private" && chatType != "group" {
		return nil, fmt.Errorf("invalid chat type %q", chatType)
	}
	found := false
	for _, id := range participants {
		if id == createdBy {
			found = true
			break
		}
	}
	if !found {
		participants = append(participants, createdBy)
	}
	chat := models.Chat{
		ID:           uuid.NewString(),
		Name:         name,
		Type:         chatType,
		Participants: encodeParticipants(participants),
		CreatedBy:    createdBy,
	}
	if err := s.db.Create(&chat).Error; err != nil {
		return nil, err
	}
	dto := toChatDTO(chat)
	return &dto, nil
}

// ListForUser 返回用户参与的会话，按最近更新排序。
func (s *ChatService) ListForUser(userID uint) ([]ChatDTO, error) {
	var chats []models.Chat
	pattern := "%," + strconv.FormatUint(uint64(userID), 10) + ",%"
	err := s.db.Where("participants LIKE ?", pattern).
		Order("updated_at desc").Limit(100).Find(&chats).Error
	if err != nil {
		return nil, err
	}
	out := make([]ChatDTO, 0, len(chats))
	for _, c := range chats {
		out = append(out, toChatDTO(c))
	}
	return out, nil
}

// Get 查询单个会话。
func (s *ChatService) Get(chatID string) (*ChatDTO, error) {
	var chat models.Chat
	if err := s.db.First(&chat, "id = ?", chatID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	dto := toChatDTO(chat)
	return &dto, nil
}
