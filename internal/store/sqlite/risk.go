package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"alphadesk/internal/store/model"
	"alphadesk/internal/types"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *SqliteStore) SaveRisk(ctx context.Context, rs types.RiskState) error {
	day := strings.TrimSpace(rs.TradingDay)
	if day == "" {
		return fmt.Errorf("trading day is required")
	}
	m := model.RiskDayModel{
		TradingDay:     day,
		DailyPnL:       rs.DailyPnL,
		DayStartEquity: rs.DayStartEquity,
		PeakEquity:     rs.PeakEquity,
		Drawdown:       rs.Drawdown,
		Equity:         rs.Equity,
		HaltReason:     rs.HaltReason,
		UpdatedAtUnix:  time.Now().Unix(),
	}
	if !rs.HaltedUntil.IsZero() {
		v := rs.HaltedUntil.Unix()
		m.HaltedUntil = &v
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "trading_day"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"daily_pnl", "day_start_equity", "peak_equity", "drawdown",
			"equity", "halted_until", "halt_reason", "updated_at",
		}),
	}).Create(&m).Error
}

func (s *SqliteStore) LoadRisk(ctx context.Context, tradingDay string) (types.RiskState, bool, error) {
	var m model.RiskDayModel
	err := s.db.WithContext(ctx).Where("trading_day = ?", strings.TrimSpace(tradingDay)).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.RiskState{}, false, nil
	}
	if err != nil {
		return types.RiskState{}, false, err
	}
	return riskFromModel(m), true, nil
}

// LatestRisk 返回最近更新的交易日，用于重启后延续熔断状态。
func (s *SqliteStore) LatestRisk(ctx context.Context) (types.RiskState, bool, error) {
	var m model.RiskDayModel
	err := s.db.WithContext(ctx).Order("updated_at DESC").Order("id DESC").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.RiskState{}, false, nil
	}
	if err != nil {
		return types.RiskState{}, false, err
	}
	return riskFromModel(m), true, nil
}

func riskFromModel(m model.RiskDayModel) types.RiskState {
	rs := types.RiskState{
		TradingDay:     m.TradingDay,
		DailyPnL:       m.DailyPnL,
		DayStartEquity: m.DayStartEquity,
		PeakEquity:     m.PeakEquity,
		Drawdown:       m.Drawdown,
		Equity:         m.Equity,
		HaltReason:     m.HaltReason,
	}
	if m.HaltedUntil != nil {
		rs.HaltedUntil = fromUnix(*m.HaltedUntil)
	}
	return rs
}
