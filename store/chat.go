package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/austentel/console/model"
	"github.com/austentel/console/tokens"
)

// CreateChat 新建空会话，计数器为 0
func (s *Store) CreateChat(ctx context.Context, title, modelName string) (*model.Chat, error) {
	if strings.TrimSpace(title) == "" {
		title = DefaultChatTitle
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = tokens.DefaultModel
	}

	now := s.now()
	chat := &model.Chat{
		ID:        uuid.NewString(),
		Title:     title,
		Model:     modelName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(chat).Error; err != nil {
		return nil, fmt.Errorf("%w: create chat: %w", ErrStorage, err)
	}

	s.logger.Debug("chat created", zap.String("chat_id", chat.ID), zap.String("model", chat.Model))
	return chat, nil
}

func (s *Store) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	var chat model.Chat
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get chat: %w", ErrStorage, err)
	}
	return &chat, nil
}

// ListChats 按最近活跃排序
func (s *Store) ListChats(ctx context.Context, limit int) ([]model.Chat, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	chats := make([]model.Chat, 0)
	err := s.db.WithContext(ctx).
		Order("updated_at DESC").
		Limit(limit).
		Find(&chats).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list chats: %w", ErrStorage, err)
	}
	return chats, nil
}

// SearchChats 标题或任一消息内容包含 query（区分大小写）的会话，结果无序。
// query 少于 MinSearchLength 个字符时不查库。
func (s *Store) SearchChats(ctx context.Context, query string) ([]model.Chat, error) {
	chats := make([]model.Chat, 0)
	if utf8.RuneCountInString(query) < MinSearchLength {
		return chats, nil
	}

	db := s.db.WithContext(ctx)
	matching := db.Model(&model.Message{}).Select("chat_id").Where("instr(content, ?) > 0", query)
	err := db.Where("instr(title, ?) > 0", query).
		Or("id IN (?)", matching).
		Find(&chats).Error
	if err != nil {
		return nil, fmt.Errorf("%w: search chats: %w", ErrStorage, err)
	}
	return chats, nil
}

// UpdateChatTitle 修改标题并刷新 updated_at
func (s *Store) UpdateChatTitle(ctx context.Context, id, title string) (*model.Chat, error) {
	if strings.TrimSpace(title) == "" {
		title = DefaultChatTitle
	}

	res := s.db.WithContext(ctx).Model(&model.Chat{}).Where("id = ?", id).Updates(map[string]any{
		"title":      title,
		"updated_at": s.now(),
	})
	if res.Error != nil {
		return nil, fmt.Errorf("%w: update chat title: %w", ErrStorage, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, id)
	}
	return s.GetChat(ctx, id)
}

// DeleteChat 删除会话及其全部消息
func (s *Store) DeleteChat(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", id).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&model.Chat{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrChatNotFound
		}
		return nil
	})
	if errors.Is(err, ErrChatNotFound) {
		return fmt.Errorf("%w: %s", ErrChatNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("%w: delete chat: %w", ErrStorage, err)
	}

	s.logger.Debug("chat deleted", zap.String("chat_id", id))
	return nil
}

// AddMessage 追加消息，并在同一事务内原子递增会话计数器
func (s *Store) AddMessage(ctx context.Context, chatID, role, content string, tokenCount int) (*model.Message, error) {
	if !model.ValidRole(role) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if tokenCount < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTokens, tokenCount)
	}

	now := s.now()
	msg := &model.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		Tokens:    int64(tokenCount),
		CreatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 先写会话行：拿到写锁，同时确认会话存在
		res := tx.Model(&model.Chat{}).Where("id = ?", chatID).Updates(map[string]any{
			"total_tokens":  gorm.Expr("total_tokens + ?", msg.Tokens),
			"message_count": gorm.Expr("message_count + 1"),
			"updated_at":    now,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrChatNotFound
		}
		return tx.Create(msg).Error
	})
	if errors.Is(err, ErrChatNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: add message: %w", ErrStorage, err)
	}

	s.logger.Debug("message added",
		zap.String("chat_id", chatID),
		zap.String("role", role),
		zap.Int64("tokens", msg.Tokens))
	return msg, nil
}

// ListMessages 按创建时间升序，即会话回放顺序
func (s *Store) ListMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	messages := make([]model.Message, 0)
	err := s.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC").
		Order("rowid ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %w", ErrStorage, err)
	}
	return messages, nil
}

func (s *Store) ChatTokenCount(ctx context.Context, chatID string) (int64, error) {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return 0, err
	}
	return chat.TotalTokens, nil
}

// TotalTokensUsed 所有会话 token 总和
func (s *Store) TotalTokensUsed(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).
		Model(&model.Chat{}).
		Select("COALESCE(SUM(total_tokens), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("%w: sum tokens: %w", ErrStorage, err)
	}
	return total, nil
}
