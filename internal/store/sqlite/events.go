package sqlite

import (
	"context"
	"encoding/json"

	"alphadesk/internal/store/model"
	"alphadesk/internal/types"

	"gorm.io/datatypes"
	"gorm.io/gorm/clause"
)

const defaultEventLimit = 100

func (s *SqliteStore) SaveEvent(ctx context.Context, ev types.Event) error {
	m := model.EventModel{
		EventID:       ev.ID,
		Kind:          string(ev.Kind),
		Severity:      string(ev.Severity),
		Symbol:        ev.Symbol,
		Ticket:        ev.Ticket,
		CorrelationID: ev.CorrelationID,
		Message:       ev.Message,
		TimeUnixMilli: toUnixMilli(ev.Time),
	}
	if len(ev.Fields) > 0 {
		raw, err := json.Marshal(ev.Fields)
		if err != nil {
			return err
		}
		m.FieldsJSON = datatypes.JSON(raw)
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&m).Error
}

// RecentEvents 按时间倒序返回最近的事件。
func (s *SqliteStore) RecentEvents(ctx context.Context, limit int) ([]types.Event, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}
	var rows []model.EventModel
	if err := s.db.WithContext(ctx).Order("ts DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.Event, 0, len(rows))
	for _, m := range rows {
		ev := types.Event{
			ID:            m.EventID,
			Kind:          types.EventKind(m.Kind),
			Severity:      types.Severity(m.Severity),
			Time:          fromUnixMilli(m.TimeUnixMilli),
			Symbol:        m.Symbol,
			Ticket:        m.Ticket,
			CorrelationID: m.CorrelationID,
			Message:       m.Message,
		}
		if len(m.FieldsJSON) > 0 {
			_ = json.Unmarshal(m.FieldsJSON, &ev.Fields)
		}
		out = append(out, ev)
	}
	return out, nil
}
