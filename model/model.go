package model

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// 消息角色，封闭集合
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type Chat struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	Title        string    `gorm:"not null" json:"title"`
	Model        string    `gorm:"not null" json:"model"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `gorm:"index:idx_chats_updated_at,sort:desc" json:"updated_at"`
	TotalTokens  int64     `gorm:"not null;default:0" json:"total_tokens"`
	MessageCount int64     `gorm:"not null;default:0" json:"message_count"`
	Messages     []Message `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE" json:"-"`
}

type Message struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	ChatID    string    `gorm:"not null;index" json:"chat_id"`
	Role      string    `gorm:"not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Tokens    int64     `gorm:"not null;default:0" json:"tokens"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// UserSettings 每个用户一行，设置文档整体存为 JSON，结构演进不需要迁移
type UserSettings struct {
	UserID       string         `gorm:"primaryKey"`
	SettingsData datatypes.JSON `gorm:"not null"`
	UpdatedAt    time.Time
}

// ValidRole 角色是否属于封闭集合
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

func InitDB(dbPath string) (*gorm.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// WAL + 外键级联 + 写锁等待
	dsn := dbPath + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}

	// SQLite 单写者，写请求在连接池上排队
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Chat{}, &Message{}, &UserSettings{}); err != nil {
		return nil, err
	}

	return db, nil
}
