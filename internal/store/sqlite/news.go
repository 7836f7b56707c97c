package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"alphadesk/internal/store/model"
	"alphadesk/internal/types"

	"gorm.io/gorm/clause"
)

// SaveNews 以 时间|币种|标题 去重写入日历事件。
func (s *SqliteStore) SaveNews(ctx context.Context, events []types.NewsEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]model.NewsEventModel, 0, len(events))
	for _, ev := range events {
		rows = append(rows, model.NewsEventModel{
			Key:           newsKey(ev),
			TimeUnix:      ev.Time.Unix(),
			Currency:      ev.Currency,
			Title:         ev.Title,
			Impact:        int(ev.Impact),
			BeforeMinutes: int(ev.Before / time.Minute),
			AfterMinutes:  int(ev.After / time.Minute),
			Source:        ev.Source,
		})
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"impact", "before_minutes", "after_minutes", "source"}),
	}).CreateInBatches(rows, 200).Error
}

func (s *SqliteStore) LoadNews(ctx context.Context, from, to time.Time) ([]types.NewsEvent, error) {
	var rows []model.NewsEventModel
	if err := s.db.WithContext(ctx).
		Where("ts >= ? AND ts <= ?", from.Unix(), to.Unix()).
		Order("ts ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.NewsEvent, 0, len(rows))
	for _, m := range rows {
		out = append(out, types.NewsEvent{
			Time:     fromUnix(m.TimeUnix),
			Currency: m.Currency,
			Title:    m.Title,
			Impact:   types.Impact(m.Impact),
			Before:   time.Duration(m.BeforeMinutes) * time.Minute,
			After:    time.Duration(m.AfterMinutes) * time.Minute,
			Source:   m.Source,
		})
	}
	return out, nil
}

func newsKey(ev types.NewsEvent) string {
	return fmt.Sprintf("%d|%s|%s", ev.Time.Unix(), strings.ToUpper(ev.Currency), strings.TrimSpace(ev.Title))
}
