package service

import (
	"encoding/json"
	"time"

	"github.com/LikhitaMagar01/Zync/internal/models"
	"github.com/LikhitaMagar01/Zync/internal/registry"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// MessageService 封装消息的持久化和实时投递。
type MessageService struct {
	db  *gorm.DB
	reg *registry.Registry
}

func NewMessageService(db *gorm.DB, reg *registry.Registry) *MessageService {
	return &MessageService{db: db, reg: reg}
}

// MessageDTO 是对外输出的消息数据。
type MessageDTO struct {
	ID         string    `json:"id"`
	ChatID     string    `json:"chatId"`
	SenderID   uint      `json:"senderId"`
	ReceiverID uint      `json:"receiverId"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

type newMessageEvent struct {
	Type    string     `json:"type"`
	Message MessageDTO `json:"message"`
}

// Send 持久化消息并投递给接收方。持久化是尽力而为：写库失败只记日志，
// 实时投递照常进行，发送方不会看到错误。
func (s *MessageService) Send(chatID string, senderID, receiverID uint, content string) *MessageDTO {
	dto := MessageDTO{
		ID:         uuid.NewString(),
		ChatID:     chatID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Timestamp:  time.Now(),
	}

	msg := models.Message{
		ID:         dto.ID,
		ChatID:     dto.ChatID,
		SenderID:   dto.SenderID,
		ReceiverID: dto.ReceiverID,
		Content:    dto.Content,
		SentAt:     dto.Timestamp,
	}
	if err := s.db.Create(&msg).Error; err != nil {
		log.Warn().Err(err).Str("chat_id", chatID).Msg("persist message failed, delivering anyway")
	} else {
		s.touchChat(dto)
	}

	s.deliver(dto)
	return &dto
}

func (s *MessageService) deliver(dto MessageDTO) {
	b, err := json.Marshal(newMessageEvent{Type: "new-message", Message: dto})
	if err != nil {
		log.Error().Err(err).Str("message_id", dto.ID).Msg("marshal message event")
		return
	}
	s.reg.Deliver(dto.ReceiverID, b)
}

// touchChat 更新会话上的最近消息快照，失败无所谓。
func (s *MessageService) touchChat(dto MessageDTO) {
	now := dto.Timestamp
	s.db.Model(&models.Chat{}).Where("id = ?", dto.ChatID).Updates(map[string]interface{}{
		"last_message":    dto.Content,
		"last_message_by": dto.SenderID,
		"last_message_at": &now,
	})
}

// History 返回会话最近 limit 条消息，按时间升序，跳过软删除的。
func (s *MessageService) History(chatID string, limit int) ([]MessageDTO, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	var msgs []models.Message
	err := s.db.Where("chat_id = ? AND is_deleted = ?", chatID, false).
		Order("sent_at desc").Limit(limit).Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	// 反转为升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageDTO{
			ID:         m.ID,
			ChatID:     m.ChatID,
			SenderID:   m.SenderID,
			ReceiverID: m.ReceiverID,
			Content:    m.Content,
			Timestamp:  m.SentAt,
		})
	}
	return out, nil
}

// Schedule 登记一条定时消息，由调度器到点投递。
func (s *MessageService) Schedule(chatID string, senderID, receiverID uint, content string, at time.Time) (*models.ScheduledMessage, error) {
	sm := models.ScheduledMessage{
		ID:           uuid.NewString(),
		ChatID:       chatID,
		SenderID:     senderID,
		ReceiverID:   receiverID,
		Content:      content,
		ScheduledFor: at,
	}
	if err := s.db.Create(&sm).Error; err != nil {
		return nil, err
	}
	return &sm, nil
}

// DispatchDue 把到期未发送的定时消息标记为已发送并走正常投递。
// 先标记后投递，重复触发不会重复发。
func (s *MessageService) DispatchDue(now time.Time) {
	var due []models.ScheduledMessage
	if err := s.db.Where("is_sent = ? AND scheduled_for <= ?", false, now).Find(&due).Error; err != nil {
		log.Error().Err(err).Msg("load due scheduled messages")
		return
	}
	for _, sm := range due {
		res := s.db.Model(&models.ScheduledMessage{}).
			Where("id = ? AND is_sent = ?", sm.ID, false).
			Update("is_sent", true)
		if res.Error != nil || res.RowsAffected == 0 {
			continue
		}
		s.Send(sm.ChatID, sm.SenderID, sm.ReceiverID, sm.Content)
	}
}
