// Package brokertest 提供测试用的券商 mock。
package brokertest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"alphadesk/internal/broker"
	"alphadesk/internal/types"
)

type MockAdapter struct {
	mock.Mock
}

var _ broker.Adapter = (*MockAdapter)(nil)

func (m *MockAdapter) Name() string { return "mock" }

func (m *MockAdapter) FetchContext(ctx context.Context, symbol, timeframe string, bars int) (types.MarketContext, error) {
	args := m.Called(ctx, symbol, timeframe, bars)
	return args.Get(0).(types.MarketContext), args.Error(1)
}

func (m *MockAdapter) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.Fill, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(broker.Fill), args.Error(1)
}

func (m *MockAdapter) ModifyOrder(ctx context.Context, ticket string, stopLoss, takeProfit float64) error {
	args := m.Called(ctx, ticket, stopLoss, takeProfit)
	return args.Error(0)
}

func (m *MockAdapter) CloseOrder(ctx context.Context, ticket string, volume float64) (broker.CloseResult, error) {
	args := m.Called(ctx, ticket, volume)
	return args.Get(0).(broker.CloseResult), args.Error(1)
}

func (m *MockAdapter) ListPositions(ctx context.Context) ([]types.BrokerPosition, error) {
	args := m.Called(ctx)
	ps, _ := args.Get(0).([]types.BrokerPosition)
	return ps, args.Error(1)
}

func (m *MockAdapter) AccountSnapshot(ctx context.Context) (types.AccountSnapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.AccountSnapshot), args.Error(1)
}
