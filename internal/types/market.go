package types

import "time"

// Bar 是一根 K 线。
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// AccountSnapshot 是某一时刻的账户资金视图。
type AccountSnapshot struct {
	Equity        float64   `json:"equity"`
	Balance       float64   `json:"balance"`
	DailyPnL      float64   `json:"daily_pnl"`
	DailyDrawdown float64   `json:"daily_drawdown"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// MarketContext 是单个 tick 内策略可见的全部输入，构造后不再修改。
type MarketContext struct {
	Timestamp time.Time       `json:"timestamp"`
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	Price     float64         `json:"price"`
	Bid       float64         `json:"bid"`
	Ask       float64         `json:"ask"`
	Bars      []Bar           `json:"bars"`
	Account   AccountSnapshot `json:"account"`
	Exposure  Exposure        `json:"exposure"`
}

// Exposure 是当前品种的持仓概况，仅 schema v2 及以上的策略可见。
type Exposure struct {
	Side       int     `json:"side"`
	BarsHeld   int     `json:"bars_held"`
	OpenTrades int     `json:"open_trades"`
	EntryPrice float64 `json:"entry_price,omitempty"`
}

// Flat 表示当前无持仓。
func (e Exposure) Flat() bool {
	return e.Side == 0 && e.OpenTrades == 0
}

// Spread 返回点差价格，无报价时为 0。
func (m MarketContext) Spread() float64 {
	if m.Bid <= 0 || m.Ask <= 0 || m.Ask < m.Bid {
		return 0
	}
	return m.Ask - m.Bid
}

// Closes 按时间顺序返回收盘价序列。
func (m MarketContext) Closes() []float64 {
	out := make([]float64, len(m.Bars))
	for i, b := range m.Bars {
		out[i] = b.Close
	}
	return out
}

// LastBar 返回最新一根 K 线。
func (m MarketContext) LastBar() (Bar, bool) {
	if len(m.Bars) == 0 {
		return Bar{}, false
	}
	return m.Bars[len(m.Bars)-1], true
}

// WithAccount 返回替换了账户快照的副本，Bars 复制以保持不可变。
func (m MarketContext) WithAccount(acct AccountSnapshot) MarketContext {
	out := m
	out.Bars = append([]Bar(nil), m.Bars...)
	out.Account = acct
	return out
}

// TrimBars 保留最近的 n 根 K 线；n<=0 时原样返回。
func TrimBars(bars []Bar, n int) []Bar {
	if n <= 0 || len(bars) <= n {
		return bars
	}
	return append([]Bar(nil), bars[len(bars)-n:]...)
}
