package broker

import (
	"context"
	"time"

	"alphadesk/internal/types"
)

// Adapter 是券商接入契约。所有调用都可能返回连接类或拒绝类错误。
type Adapter interface {
	Name() string
	FetchContext(ctx context.Context, symbol, timeframe string, bars int) (types.MarketContext, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (Fill, error)
	ModifyOrder(ctx context.Context, ticket string, stopLoss, takeProfit float64) error
	// CloseOrder 平掉 volume 手；volume<=0 表示全部平仓。
	CloseOrder(ctx context.Context, ticket string, volume float64) (CloseResult, error)
	ListPositions(ctx context.Context) ([]types.BrokerPosition, error)
	AccountSnapshot(ctx context.Context) (types.AccountSnapshot, error)
}

// DealHistory 是可选能力：查询券商侧已平仓成交，用于 SL/TP 触发后的对账。
type DealHistory interface {
	ClosedDeal(ctx context.Context, ticket string) (CloseResult, bool, error)
}

type OrderRequest struct {
	Symbol     string          `json:"symbol"`
	Direction  types.Direction `json:"side"`
	Volume     float64         `json:"volume"`
	StopLoss   float64         `json:"sl"`
	TakeProfit float64         `json:"tp"`
	Comment    string          `json:"comment,omitempty"`
}

type Fill struct {
	Ticket string    `json:"ticket"`
	Price  float64   `json:"price"`
	Volume float64   `json:"volume"`
	Time   time.Time `json:"time"`
}

type CloseResult struct {
	Ticket    string    `json:"ticket"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Profit    float64   `json:"profit"`
	Remaining float64   `json:"remaining"`
	Time      time.Time `json:"time"`
}
