package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"alphadesk/internal/config"
	"alphadesk/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SaveEngineConfig 追加一条配置记录，返回行号作为版本。
func (s *SqliteStore) SaveEngineConfig(ctx context.Context, cfg config.EngineConfig, source string) (int64, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return 0, fmt.Errorf("encode engine config: %w", err)
	}
	m := model.EngineConfigModel{
		Source:        source,
		ConfigJSON:    datatypes.JSON(raw),
		CreatedAtUnix: time.Now().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return 0, err
	}
	return m.ID, nil
}

func (s *SqliteStore) LatestEngineConfig(ctx context.Context) (config.EngineConfig, bool, error) {
	var m model.EngineConfigModel
	err := s.db.WithContext(ctx).Order("id DESC").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return config.EngineConfig{}, false, nil
	}
	if err != nil {
		return config.EngineConfig{}, false, err
	}
	cfg, err := config.ParseEngineConfigJSON(m.ConfigJSON)
	if err != nil {
		return config.EngineConfig{}, false, fmt.Errorf("stored engine config %d: %w", m.ID, err)
	}
	return cfg, true, nil
}
