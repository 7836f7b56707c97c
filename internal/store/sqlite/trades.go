package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"alphadesk/internal/store"
	"alphadesk/internal/store/model"
	"alphadesk/internal/types"

	"gorm.io/gorm/clause"
)

const defaultHistoryLimit = 200

// SavePosition 按 ticket 写入或更新一笔未平仓交易。
func (s *SqliteStore) SavePosition(ctx context.Context, p types.Position) error {
	if strings.TrimSpace(p.Ticket) == "" {
		return fmt.Errorf("ticket is required")
	}
	m := model.TradeModel{
		Ticket:           p.Ticket,
		Symbol:           p.Symbol,
		Direction:        string(p.Direction),
		Volume:           p.Volume,
		InitialVolume:    p.InitialVolume,
		EntryPrice:       p.EntryPrice,
		StopLoss:         p.StopLoss,
		TakeProfit:       p.TakeProfit,
		Profit:           p.Profit,
		RealizedProfit:   p.RealizedProfit,
		BarsHeld:         p.BarsHeld,
		Phase:            string(p.Phase),
		PartialDone:      p.PartialDone,
		PendingBreakeven: p.PendingBreakeven,
		Status:           model.TradeStatusOpen,
		OpenedAtUnix:     toUnix(p.OpenedAt),
		LastBarUnix:      toUnix(p.LastBarTime),
		UpdatedAtUnix:    time.Now().Unix(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "ticket"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"volume", "stop_loss", "take_profit", "profit", "realized_profit",
			"bars_held", "phase", "partial_done", "pending_breakeven", "last_bar_at", "updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Eq{Column: clause.Column{Table: "trades", Name: "status"}, Value: model.TradeStatusOpen},
		}},
	}).Create(&m).Error
}

// CloseTrade 把交易标记为已平仓；未记录过的 ticket 直接插入。
func (s *SqliteStore) CloseTrade(ctx context.Context, rec types.TradeRecord) error {
	if strings.TrimSpace(rec.Ticket) == "" {
		return fmt.Errorf("ticket is required")
	}
	now := time.Now()
	closedAt := rec.ClosedAt
	if closedAt.IsZero() {
		closedAt = now
	}
	m := model.TradeModel{
		Ticket:        rec.Ticket,
		Symbol:        rec.Symbol,
		Direction:     string(rec.Direction),
		Volume:        rec.Volume,
		InitialVolume: rec.Volume,
		EntryPrice:    rec.EntryPrice,
		ExitPrice:     rec.ExitPrice,
		Profit:        rec.Profit,
		Phase:         string(types.PhaseClosed),
		Reason:        rec.Reason,
		Status:        model.TradeStatusClosed,
		OpenedAtUnix:  toUnix(rec.OpenedAt),
		ClosedAtUnix:  closedAt.Unix(),
		UpdatedAtUnix: now.Unix(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "ticket"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"exit_price", "profit", "phase", "reason", "status", "closed_at", "updated_at",
		}),
	}).Create(&m).Error
}

// OpenPositions 返回未平仓交易，供重启后恢复本地阶段。
func (s *SqliteStore) OpenPositions(ctx context.Context) ([]types.Position, error) {
	var rows []model.TradeModel
	if err := s.db.WithContext(ctx).
		Where("status = ?", model.TradeStatusOpen).
		Order("opened_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.Position, 0, len(rows))
	for _, m := range rows {
		out = append(out, types.Position{
			Ticket:           m.Ticket,
			Symbol:           m.Symbol,
			Direction:        types.Direction(m.Direction),
			Volume:           m.Volume,
			InitialVolume:    m.InitialVolume,
			EntryPrice:       m.EntryPrice,
			StopLoss:         m.StopLoss,
			TakeProfit:       m.TakeProfit,
			Profit:           m.Profit,
			RealizedProfit:   m.RealizedProfit,
			BarsHeld:         m.BarsHeld,
			OpenedAt:         fromUnix(m.OpenedAtUnix),
			LastBarTime:      fromUnix(m.LastBarUnix),
			Phase:            types.Phase(m.Phase),
			PartialDone:      m.PartialDone,
			PendingBreakeven: m.PendingBreakeven,
		})
	}
	return out, nil
}

// TradeHistory 按平仓时间倒序返回已平仓交易。
func (s *SqliteStore) TradeHistory(ctx context.Context, q store.HistoryQuery) ([]types.TradeRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	tx := s.db.WithContext(ctx).Where("status = ?", model.TradeStatusClosed)
	if sym := strings.ToUpper(strings.TrimSpace(q.Symbol)); sym != "" {
		tx = tx.Where("symbol = ?", sym)
	}
	if !q.Since.IsZero() {
		tx = tx.Where("closed_at >= ?", q.Since.Unix())
	}
	var rows []model.TradeModel
	if err := tx.Order("closed_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.TradeRecord, 0, len(rows))
	for _, m := range rows {
		out = append(out, types.TradeRecord{
			Ticket:     m.Ticket,
			Symbol:     m.Symbol,
			Direction:  types.Direction(m.Direction),
			Volume:     m.InitialVolume,
			EntryPrice: m.EntryPrice,
			ExitPrice:  m.ExitPrice,
			Profit:     m.Profit,
			OpenedAt:   fromUnix(m.OpenedAtUnix),
			ClosedAt:   fromUnix(m.ClosedAtUnix),
			Reason:     m.Reason,
		})
	}
	return out, nil
}
