// Package store 是聊天、消息和用户设置的持久化层。
// Store 由进程启动时显式构造并注入到各个 handler。
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/austentel/console/settings"
)

var (
	ErrChatNotFound  = errors.New("chat not found")
	ErrInvalidRole   = errors.New("invalid message role")
	ErrInvalidTokens = errors.New("token count must be non-negative")
	ErrStorage       = errors.New("storage unavailable")
)

const (
	// DefaultListLimit 会话列表默认条数
	DefaultListLimit = 50
	// MinSearchLength 搜索词最少字符数，低于此值直接返回空结果
	MinSearchLength = 2
	// DefaultChatTitle 标题为空时使用
	DefaultChatTitle = "New Chat"
)

type Store struct {
	db       *gorm.DB
	logger   *zap.Logger
	defaults settings.Document

	// 设置文档的读-合并-写在进程内串行
	settingsMu sync.Mutex

	now func() time.Time
}

func New(db *gorm.DB, logger *zap.Logger, defaults settings.Document) *Store {
	return &Store{
		db:       db,
		logger:   logger.Named("store"),
		defaults: defaults,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ping 检查数据库是否可达
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭底层连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
