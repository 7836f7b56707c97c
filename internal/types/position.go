package types

import "time"

// Direction 是持仓方向。
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Sign 多头为 +1，空头为 -1。
func (d Direction) Sign() float64 {
	if d == DirectionSell {
		return -1
	}
	return 1
}

func (d Direction) Opposite() Direction {
	if d == DirectionSell {
		return DirectionBuy
	}
	return DirectionSell
}

// Phase 是持仓生命周期阶段。
type Phase string

const (
	PhaseNone            Phase = "NONE"
	PhaseOpening         Phase = "OPENING"
	PhaseOpen            Phase = "OPEN"
	PhasePartiallyClosed Phase = "PARTIALLY_CLOSED"
	PhaseTrailing        Phase = "TRAILING"
	PhaseClosing         Phase = "CLOSING"
	PhaseClosed          Phase = "CLOSED"
)

// Live 表示该阶段的持仓在券商侧已确认存在。
func (p Phase) Live() bool {
	switch p {
	case PhaseOpen, PhasePartiallyClosed, PhaseTrailing, PhaseClosing:
		return true
	}
	return false
}

func (p Phase) Terminal() bool {
	return p == PhaseClosed
}

// Position 是本地管理的持仓。券商决定存在性，本地决定阶段。
type Position struct {
	Ticket           string    `json:"ticket"`
	Symbol           string    `json:"symbol"`
	Direction        Direction `json:"direction"`
	Volume           float64   `json:"volume"`
	InitialVolume    float64   `json:"initial_volume"`
	EntryPrice       float64   `json:"entry_price"`
	StopLoss         float64   `json:"stop_loss"`
	TakeProfit       float64   `json:"take_profit"`
	CurrentPrice     float64   `json:"current_price"`
	Profit           float64   `json:"profit"`
	RealizedProfit   float64   `json:"realized_profit"`
	BarsHeld         int       `json:"bars_held"`
	OpenedAt         time.Time `json:"opened_at"`
	LastBarTime      time.Time `json:"last_bar_time"`
	Phase            Phase     `json:"phase"`
	PartialDone      bool      `json:"partial_done"`
	PendingBreakeven bool      `json:"pending_breakeven"`
	CloseReason      string    `json:"close_reason,omitempty"`
}

// FavorableDistance 返回当前价相对入场价的有利价差。
func (p Position) FavorableDistance(price float64) float64 {
	return (price - p.EntryPrice) * p.Direction.Sign()
}

// BrokerPosition 是券商报告的持仓。
type BrokerPosition struct {
	Ticket       string    `json:"ticket"`
	Symbol       string    `json:"symbol"`
	Direction    Direction `json:"direction"`
	Volume       float64   `json:"volume"`
	EntryPrice   float64   `json:"entry_price"`
	StopLoss     float64   `json:"stop_loss"`
	TakeProfit   float64   `json:"take_profit"`
	CurrentPrice float64   `json:"current_price"`
	Profit       float64   `json:"profit"`
	OpenedAt     time.Time `json:"opened_at"`
}

// TradeRecord 是已平仓交易的历史记录。
type TradeRecord struct {
	Ticket     string    `json:"ticket"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Volume     float64   `json:"volume"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Profit     float64   `json:"profit"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at"`
	Reason     string    `json:"reason"`
}

// Duration 返回持仓时长。
func (t TradeRecord) Duration() time.Duration {
	if t.ClosedAt.Before(t.OpenedAt) {
		return 0
	}
	return t.ClosedAt.Sub(t.OpenedAt)
}
