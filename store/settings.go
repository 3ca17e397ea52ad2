package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/austentel/console/model"
	"github.com/austentel/console/settings"
)

// DefaultSettings 返回本进程使用的默认设置
func (s *Store) DefaultSettings() settings.Document {
	return s.defaults
}

// EnsureSettings 设置行不存在时写入默认值
func (s *Store) EnsureSettings(ctx context.Context) error {
	data, err := json.Marshal(s.defaults)
	if err != nil {
		return err
	}
	row := &model.UserSettings{
		UserID:       settings.DefaultUserID,
		SettingsData: datatypes.JSON(data),
		UpdatedAt:    s.now(),
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row).Error
	if err != nil {
		return fmt.Errorf("%w: ensure settings: %w", ErrStorage, err)
	}
	return nil
}

// GetSettings 返回合并了默认值的设置文档；读取失败或数据损坏时降级为默认值，不返回错误
func (s *Store) GetSettings(ctx context.Context) settings.Document {
	var row model.UserSettings
	err := s.db.WithContext(ctx).Where("user_id = ?", settings.DefaultUserID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := s.EnsureSettings(ctx); err != nil {
			s.logger.Warn("failed to create default settings", zap.Error(err))
		}
		return s.defaults
	}
	if err != nil {
		s.logger.Warn("failed to read settings, using defaults", zap.Error(err))
		return s.defaults
	}

	doc, err := settings.Decode(row.SettingsData, s.defaults)
	if err != nil {
		s.logger.Error("stored settings are corrupt, using defaults", zap.Error(err))
		return s.defaults
	}
	return doc
}

// UpdateSettings 把 patch 逐分区合并进当前文档并整体写回。
// 未出现在 patch 中的分区和字段保持原值；写入失败返回 ErrStorage。
func (s *Store) UpdateSettings(ctx context.Context, patch settings.Patch) (settings.Document, error) {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()

	var merged settings.Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current := s.defaults

		var row model.UserSettings
		err := tx.Where("user_id = ?", settings.DefaultUserID).Take(&row).Error
		switch {
		case err == nil:
			doc, derr := settings.Decode(row.SettingsData, s.defaults)
			if derr != nil {
				s.logger.Warn("stored settings are corrupt, merging over defaults", zap.Error(derr))
			} else {
				current = doc
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return err
		}

		merged = current.Apply(patch).Normalize(s.defaults)
		data, err := json.Marshal(merged)
		if err != nil {
			return err
		}

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"settings_data", "updated_at"}),
		}).Create(&model.UserSettings{
			UserID:       settings.DefaultUserID,
			SettingsData: datatypes.JSON(data),
			UpdatedAt:    s.now(),
		}).Error
	})
	if err != nil {
		return settings.Document{}, fmt.Errorf("%w: update settings: %w", ErrStorage, err)
	}

	s.logger.Info("settings updated",
		zap.Bool("openai", patch.OpenAI != nil),
		zap.Bool("claude", patch.Claude != nil),
		zap.Bool("mcp", patch.MCP != nil),
		zap.Bool("personalization", patch.Personalization != nil))
	return merged, nil
}
