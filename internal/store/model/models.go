package model

import (
	"gorm.io/datatypes"
)

// TradeStatus 是 trades 表的行状态。
type TradeStatus int

const (
	TradeStatusOpen   TradeStatus = 1
	TradeStatusClosed TradeStatus = 2
)

type RiskDayModel struct {
	ID             int64   `gorm:"column:id;primaryKey"`
	TradingDay     string  `gorm:"column:trading_day;uniqueIndex"`
	DailyPnL       float64 `gorm:"column:daily_pnl"`
	DayStartEquity float64 `gorm:"column:day_start_equity"`
	PeakEquity     float64 `gorm:"column:peak_equity"`
	Drawdown       float64 `gorm:"column:drawdown"`
	Equity         float64 `gorm:"column:equity"`
	HaltedUntil    *int64  `gorm:"column:halted_until"`
	HaltReason     string  `gorm:"column:halt_reason"`
	UpdatedAtUnix  int64   `gorm:"column:updated_at"`
}

func (RiskDayModel) TableName() string { return "risk_days" }

type EngineConfigModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	Source        string         `gorm:"column:source"`
	ConfigJSON    datatypes.JSON `gorm:"column:config_json;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at;index"`
}

func (EngineConfigModel) TableName() string { return "engine_configs" }

type TradeModel struct {
	ID               int64       `gorm:"column:id;primaryKey"`
	Ticket           string      `gorm:"column:ticket;uniqueIndex"`
	Symbol           string      `gorm:"column:symbol;index"`
	Direction        string      `gorm:"column:direction"`
	Volume           float64     `gorm:"column:volume"`
	InitialVolume    float64     `gorm:"column:initial_volume"`
	EntryPrice       float64     `gorm:"column:entry_price"`
	ExitPrice        float64     `gorm:"column:exit_price"`
	StopLoss         float64     `gorm:"column:stop_loss"`
	TakeProfit       float64     `gorm:"column:take_profit"`
	Profit           float64     `gorm:"column:profit"`
	RealizedProfit   float64     `gorm:"column:realized_profit"`
	BarsHeld         int         `gorm:"column:bars_held"`
	Phase            string      `gorm:"column:phase"`
	PartialDone      bool        `gorm:"column:partial_done"`
	PendingBreakeven bool        `gorm:"column:pending_breakeven"`
	Reason           string      `gorm:"column:reason"`
	Status           TradeStatus `gorm:"column:status;index"`
	OpenedAtUnix     int64       `gorm:"column:opened_at"`
	LastBarUnix      int64       `gorm:"column:last_bar_at"`
	ClosedAtUnix     int64       `gorm:"column:closed_at;index"`
	UpdatedAtUnix    int64       `gorm:"column:updated_at"`
}

func (TradeModel) TableName() string { return "trades" }

type EventModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	EventID       string         `gorm:"column:event_id;uniqueIndex"`
	Kind          string         `gorm:"column:kind;index"`
	Severity      string         `gorm:"column:severity"`
	Symbol        string         `gorm:"column:symbol"`
	Ticket        string         `gorm:"column:ticket"`
	CorrelationID string         `gorm:"column:correlation_id"`
	Message       string         `gorm:"column:message"`
	FieldsJSON    datatypes.JSON `gorm:"column:fields_json;type:TEXT"`
	TimeUnixMilli int64          `gorm:"column:ts;index"`
}

func (EventModel) TableName() string { return "events" }

type NewsEventModel struct {
	ID            int64  `gorm:"column:id;primaryKey"`
	Key           string `gorm:"column:event_key;uniqueIndex"`
	TimeUnix      int64  `gorm:"column:ts;index"`
	Currency      string `gorm:"column:currency"`
	Title         string `gorm:"column:title"`
	Impact        int    `gorm:"column:impact"`
	BeforeMinutes int    `gorm:"column:before_minutes"`
	AfterMinutes  int    `gorm:"column:after_minutes"`
	Source        string `gorm:"column:source"`
}

func (NewsEventModel) TableName() string { return "news_events" }
