package position

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"alphadesk/internal/broker"
	"alphadesk/internal/broker/brokertest"
	"alphadesk/internal/config"
	"alphadesk/internal/types"
)

var t0 = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

func testConfig() config.EngineConfig {
	cfg := config.DefaultEngineConfig()
	cfg.LotSize = 0.1
	cfg.Point = 0.01
	cfg.MaxSpread = 0
	return cfg
}

func tick(price float64, bar time.Time) types.MarketContext {
	return types.MarketContext{
		Timestamp: bar,
		Symbol:    "XAUUSD",
		Timeframe: "15m",
		Price:     price,
		Bid:       price,
		Ask:       price,
		Bars:      []types.Bar{{Time: bar, Open: price, High: price, Low: price, Close: price}},
		Account:   types.AccountSnapshot{Balance: 10000, Equity: 10000},
	}
}

func buy(conf float64) types.Signal {
	return types.Signal{Symbol: "XAUUSD", Action: types.ActionBuy, Confidence: conf}
}

func kinds(evs []types.Event) []types.EventKind {
	out := make([]types.EventKind, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Kind)
	}
	return out
}

func openWithMock(t *testing.T, m *brokertest.MockAdapter, mgr *Manager, cfg config.EngineConfig) types.Position {
	t.Helper()
	m.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(broker.Fill{Ticket: "T1", Price: 2000, Volume: 0.1, Time: t0}, nil).Once()
	res := mgr.Manage(context.Background(), tick(2000, t0), buy(0.7), types.Allow(), cfg)
	require.Len(t, res.Opened, 1)
	return res.Opened[0]
}

func TestEntryOpensOnce(t *testing.T) {
	m := &brokertest.MockAdapter{}
	mgr := NewManager(m)
	cfg := testConfig()

	m.On("SubmitOrder", mock.Anything, mock.MatchedBy(func(r broker.OrderRequest) bool {
		return r.Direction == types.DirectionBuy && r.Volume == 0.1 && r.StopLoss == 1997 && r.TakeProfit == 2006
	})).Return(broker.Fill{Ticket: "T1", Price: 2000, Volume: 0.1, Time: t0}, nil).Once()

	res := mgr.Manage(context.Background(), tick(2000, t0), buy(0.7), types.Allow(), cfg)
	assert.Equal(t, []types.EventKind{types.EventPositionOpened}, kinds(res.Events))
	ps := mgr.Positions()
	require.Len(t, ps, 1)
	assert.Equal(t, types.PhaseOpen, ps[0].Phase)

	for i := 1; i <= 3; i++ {
		mgr.BeginTick()
		mgr.Manage(context.Background(), tick(2000, t0), buy(0.9), types.Allow(), cfg)
	}
	m.AssertNumberOfCalls(t, "SubmitOrder", 1)
	assert.Len(t, mgr.Positions(), 1)
}

func TestEntryGates(t *testing.T) {
	cfg := testConfig()
	cases := []struct {
		name string
		mc   types.MarketContext
		sig  types.Signal
		gate types.GateDecision
		cfg  func(*config.EngineConfig)
	}{
		{name: "low confidence", mc: tick(2000, t0), sig: buy(0.5), gate: types.Allow()},
		{name: "risk denied", mc: tick(2000, t0), sig: buy(0.9), gate: types.Deny("daily loss")},
		{name: "wide spread", mc: func() types.MarketContext {
			mc := tick(2000, t0)
			mc.Bid, mc.Ask = 1999.5, 2000.5
			return mc
		}(), sig: buy(0.9), gate: types.Allow(), cfg: func(c *config.EngineConfig) { c.MaxSpread = 50 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := &brokertest.MockAdapter{}
			c := cfg.Clone()
			if tc.cfg != nil {
				tc.cfg(&c)
			}
			res := NewManager(m).Manage(context.Background(), tc.mc, tc.sig, tc.gate, c)
			assert.Empty(t, res.Events)
			m.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything)
		})
	}
}

func TestRejectedEntryReturnsToNone(t *testing.T) {
	m := &brokertest.MockAdapter{}
	mgr := NewManager(m)
	m.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(broker.Fill{}, &types.BrokerRejectionError{Op: "submit_order", Code: "NO_MONEY", Reason: "margin"})

	res := mgr.Manage(context.Background(), tick(2000, t0), buy(0.8), types.Allow(), testConfig())
	assert.Equal(t, []types.EventKind{types.EventOrderRejected}, kinds(res.Events))
	assert.Empty(t, mgr.Snapshot())
}

func TestTimedOutSubmitIsReconciledNotResubmitted(t *testing.T) {
	m := &brokertest.MockAdapter{}
	mgr := NewManager(m)
	cfg := testConfig()
	m.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(broker.Fill{}, &types.BrokerConnectivityError{Op: "submit_order", Err: context.DeadlineExceeded}).Once()

	res := mgr.Manage(context.Background(), tick(2000, t0), buy(0.8), types.Allow(), cfg)
	assert.Equal(t, []types.EventKind{types.EventOrderFailed}, kinds(res.Events))
	snap := mgr.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, types.PhaseOpening, snap[0].Phase)

	mgr.BeginTick()
	rec := mgr.Reconcile(context.Background(), []types.BrokerPosition{{
		Ticket: "B7", Symbol: "XAUUSD", Direction: types.DirectionBuy, Volume: 0.1, EntryPrice: 2000.2, OpenedAt: t0,
	}})
	assert.Equal(t, []types.EventKind{types.EventPositionOpened}, kinds(rec.Events))
	mgr.Manage(context.Background(), tick(2000, t0.Add(15*time.Minute)), buy(0.8), types.Allow(), cfg)

	m.AssertNumberOfCalls(t, "SubmitOrder", 1)
	ps := mgr.Positions()
	require.Len(t, ps, 1)
	assert.Equal(t, "B7", ps[0].Ticket)
	assert.Equal(t, types.PhaseOpen, ps[0].Phase)
}

func TestCircuitOpenSubmitIsNotPending(t *testing.T) {
	m := &brokertest.MockAdapter{}
	mgr := NewManager(m)
	cfg := testConfig()
	m.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(broker.Fill{}, &types.BrokerConnectivityError{Op: "submit_order", Err: broker.ErrCircuitOpen}).Once()
	m.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(broker.Fill{Ticket: "T9", Price: 2000, Volume: 0.1, Time: t0}, nil).Once()

	res := mgr.Manage(context.Background(), tick(2000, t0), buy(0.8), types.Allow(), cfg)
	assert.Equal(t, []types.EventKind{types.EventOrderFailed}, kinds(res.Events))
	assert.Contains(t, res.Events[0].Message, "not sent")
	assert.Empty(t, mgr.Snapshot())

	mgr.BeginTick()
	rec := mgr.Reconcile(context.Background(), nil)
	assert.Empty(t, rec.Events)

	res = mgr.Manage(context.Background(), tick(2000, t0.Add(15*time.Minute)), buy(0.8), types.Allow(), cfg)
	require.Len(t, res.Opened, 1)
	assert.Equal(t, "T9", res.Opened[0].Ticket)
}

func TestUnconfirmedSubmitDropped(t *testing.T) {
	m := &brokertest.MockAdapter{}
	mgr := NewManager(m)
	m.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(broker.Fill{}, errors.New("eof")).Once()
	mgr.Manage(context.Background(), tick(2000, t0), buy(0.8), types.Allow(), testConfig())

	rec := mgr.Reconcile(context.Background(), nil)
	assert.Equal(t, []types.EventKind{types.EventOrderFailed}, kinds(rec.Events))
	assert.Empty(t, mgr.Snapshot())
}

func TestPartialCloseMovesStopToEntry(t *testing.T) {
	m := &brokertest.MockAdapter{}
	mgr := NewManager(m)
	cfg := testConfig()
	cfg.PartialClose = config.PartialCloseConfig{Enabled: true, TP1Distance: 50, Percent: 50}
	pos := openWithMock(t, m, mgr, cfg)

	m.On("CloseOrder", mock.Anything, "T1", 0.05).
		Return(broker.CloseResult{Ticket: "T1", Price: 2000.5, Volume: 0.05, Remaining: 0.05, Profit: 2.5}, nil).Once()
	m.On("ModifyOrder", mock.Anything, "T1", 2000.0, pos.TakeProfit).Return(nil).Once()

	mgr.BeginTick()
	res := mgr.Manage(context.Background(), tick(2000.5, t0.Add(15*time.Minute)), types.HoldSignal("XAUUSD", ""), types.Allow(), cfg)
	assert.Equal(t, []types.EventKind{types.EventPartialClosed, types.EventStopMoved}, kinds(res.Events))

	ps := mgr.Positions()
	require.Len(t, ps, 1)
	assert.Equal(t, types.PhasePartiallyClosed, ps[0].Phase)
	assert.Equal(t, 0.05, ps[0].Volume)
	assert.Equal(t, 2000.0, ps[0].StopLoss)
	assert.False(t, ps[0].PendingBreakeven)

	mgr.BeginTick()
	mgr.Manage(context.Background(), tick(2000.8, t0.Add(30*time.Minute)), types.HoldSignal("XAUUSD", ""), types.Allow(), cfg)
	m.AssertNumberOfCalls(t, "CloseOrder", 1)
	m.AssertNumberOfCalls(t, "ModifyOrder", 1)
}

func TestBreakevenRetriedNotReverted(t *testing.T) {
	m := &brokertest.MockAdapter{}
	mgr := NewManager(m)
	cfg := testConfig()
	cfg.PartialClose = config.PartialCloseConfig{Enabled: true, TP1Distance: 50, Percent: 50}
	openWithMock(t, m, mgr, cfg)

	m.On("CloseOrder", mock.Anything, "T1", 0.05).
		Return(broker.CloseResult{Price: 2000.6, Volume: 0.05, Remaining: 0.05}, nil).Once()
	m.On("ModifyOrder", mock.Anything, "T1", 2000.0, mock.Anything).
		Return(&types.BrokerConnectivityError{Op: "modify_order", Err: errors.New("timeout")}).Once()
	m.On("ModifyOrder", mock.Anything, "T1", 2000.0, mock.Anything).Return(nil).Once()

	mgr.BeginTick()
	res := mgr.Manage(context.Background(), tick(2000.6, t0.Add(15*time.Minute)), types.HoldSignal("XAUUSD", ""), types.Allow(), cfg)
	assert.Equal(t, []types.EventKind{types.EventPartialClosed, types.EventOrderFailed}, kinds(res.Events))
	p := mgr.Positions()[0]
	assert.True(t, p.PendingBreakeven)
	assert.Equal(t, 0.05, p.Volume)
	assert.Equal(t, types.PhasePartiallyClosed, p.Phase)

	mgr.BeginTick()
	res = mgr.Manage(context.Background(), tick(2000.6, t0.Add(30*time.Minute)), types.HoldSignal("XAUUSD", ""), types.Allow(), cfg)
	assert.Equal(t, []types.EventKind{types.EventStopMoved}, kinds(res.Events))
	p = mgr.Positions()[0]
	assert.False(t, p.PendingBreakeven)
	assert.Equal(t, 2000.0, p.StopLoss)
	m.AssertNumberOfCalls(t, "CloseOrder", 1)
}

func fxTick(price float64, bar time.Time) types.MarketContext {
	mc := tick(price, bar)
	mc.Symbol = "EURUSD"
	return mc
}

func openFX(t *testing.T, m *brokertest.MockAdapter, mgr *Manager, cfg config.EngineConfig) {
	t.Helper()
	m.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(broker.Fill{Ticket: "E1", Price: 1.1, Volume: 0.1, Time: t0}, nil).Once()
	sig := types.Signal{Symbol: "EURUSD", Action: types.ActionBuy, Confidence: 0.9}
	res := mgr.Manage(context.Background(), fxTick(1.1, t0), sig, types.Allow(), cfg)
	require.Len(t, res.Opened, 1)
}

func TestFivePointDistancesHitExactBoundary(t *testing.T) {
	t.Run("partial close", func(t *testing.T) {
		m := &brokertest.MockAdapter{}
		mgr := NewManager(m)
		cfg := testConfig()
		cfg.Point = 0.0001
		cfg.PartialClose = config.PartialCloseConfig{Enabled: true, TP1Distance: 50, Percent: 50}
		openFX(t, m, mgr, cfg)

		m.On("CloseOrder", mock.Anything, "E1", 0.05).
			Return(broker.CloseResult{Ticket: "E1", Price: 1.105, Volume: 0.05, Remaining: 0.05}, nil).Once()
		m.On("ModifyOrder", mock.Anything, "E1", 1.1, mock.Anything).Return(nil).Once()

		mgr.BeginTick()
		res := mgr.Manage(context.Background(), fxTick(1.105, t0.Add(15*time.Minute)), types.HoldSignal("EURUSD", ""), types.Allow(), cfg)
		assert.Equal(t, []types.EventKind{types.EventPartialClosed, types.EventStopMoved}, kinds(res.Events))
		assert.Equal(t, types.PhasePartiallyClosed, mgr.Positions()[0].Phase)
	})

	t.Run("trailing activation", func(t *testing.T) {
		m := &brokertest.MockAdapter{}
		mgr := NewManager(m)
		cfg := testConfig()
		cfg.Point = 0.0001
		cfg.Trailing = config.TrailingConfig{Enabled: true, Activation: 50, Distance: 50}
		openFX(t, m, mgr, cfg)

		m.On("ModifyOrder", mock.Anything, "E1", 1.1, mock.Anything).Return(nil).Once()

		mgr.BeginTick()
		res := mgr.Manage(context.Background(), fxTick(1.105, t0.Add(15*time.Minute)), types.HoldSignal("EURUSD", ""), types.Allow(), cfg)
		assert.Equal(t, []types.EventKind{types.EventStopMoved}, kinds(res.Events))
		p := mgr.Positions()[0]
		assert.Equal(t, types.PhaseTrailing, p.Phase)
		assert.InDelta(t, 1.1, p.StopLoss, 1e-9)
	})
}

func TestPoints(t *testing.T) {
	assert.Equal(t, 50.0, Points(1.105-1.1, 0.0001))
	assert.Equal(t, 50.0, Points(2000.5-2000, 0.01))
	assert.Equal(t, 0.5, Points(0.5, 0))
}

func TestTrailingStopNeverRetreats(t *testing.T) {
	ctx := context.Background()
	pb := broker.NewPaperBroker(broker.PaperOptions{Balance: 10000, ContractSize: 100, StartPrice: 2000, Now: func() time.Time { return t0 }})
	pb.SetPrice("XAUUSD", 2000)
	mgr := NewManager(pb)
	cfg := testConfig()
	cfg.Trailing = config.TrailingConfig{Enabled: true, Distance: 50}

	res := mgr.Manage(ctx, tick(2000, t0), buy(0.9), types.Allow(), cfg)
	require.Len(t, res.Opened, 1)
	ticket := res.Opened[0].Ticket

	prices := []float64{2001, 2002, 2001.8, 2003, 2002.7}
	last := 0.0
	for i, px := range prices {
		pb.SetPrice("XAUUSD", px)
		mgr.BeginTick()
		live, err := pb.ListPositions(ctx)
		require.NoError(t, err)
		mgr.Reconcile(ctx, live)
		mgr.Manage(ctx, tick(px, t0.Add(time.Duration(i+1)*15*time.Minute)), types.HoldSignal("XAUUSD", ""), types.Allow(), cfg)

		ps := mgr.Positions()
		require.Len(t, ps, 1)
		assert.GreaterOrEqual(t, ps[0].StopLoss, last, "tick %d", i)
		last = ps[0].StopLoss
	}
	p := mgr.Positions()[0]
	assert.Equal(t, ticket, p.Ticket)
	assert.InDelta(t, 2002.5, p.StopLoss, 1e-9)
	assert.Equal(t, types.PhaseTrailing, p.Phase)
}

func TestTimeExitAtHorizon(t *testing.T) {
	m := &brokertest.MockAdapter{}
	mgr := NewManager(m)
	cfg := testConfig()
	cfg.TimeExitBars = 3
	openWithMock(t, m, mgr, cfg)
	m.On("CloseOrder", mock.Anything, "T1", 0.0).
		Return(broker.CloseResult{Price: 1999, Volume: 0.1, Profit: -10}, nil).Once()

	for i := 1; i <= 3; i++ {
		mgr.BeginTick()
		res := mgr.Manage(context.Background(), tick(1999, t0.Add(time.Duration(i)*15*time.Minute)), buy(0.95), types.Allow(), cfg)
		if i < 3 {
			assert.Empty(t, res.Closed, "bar %d", i)
			continue
		}
		require.Len(t, res.Closed, 1)
		assert.Equal(t, ReasonTimeExit, res.Closed[0].Reason)
	}
	m.AssertNumberOfCalls(t, "CloseOrder", 1)
	m.AssertNumberOfCalls(t, "SubmitOrder", 1)
}

func TestCloseBeatsEntryInSameTick(t *testing.T) {
	ctx := context.Background()
	pb := broker.NewPaperBroker(broker.PaperOptions{Balance: 10000, ContractSize: 100, StartPrice: 2000, Now: func() time.Time { return t0 }})
	pb.SetPrice("XAUUSD", 2000)
	mgr := NewManager(pb)
	cfg := testConfig()
	mgr.Manage(ctx, tick(2000, t0), buy(0.9), types.Allow(), cfg)

	pb.SetPrice("XAUUSD", 1996)
	sell := types.Signal{Symbol: "XAUUSD", Action: types.ActionSell, Confidence: 0.9}

	mgr.BeginTick()
	live, _ := pb.ListPositions(ctx)
	rec := mgr.Reconcile(ctx, live)
	require.Len(t, rec.Closed, 1)
	assert.Equal(t, ReasonStopTarget, rec.Closed[0].Reason)
	assert.Equal(t, 1997.0, rec.Closed[0].ExitPrice)
	res := mgr.Manage(ctx, tick(1996, t0.Add(15*time.Minute)), sell, types.Allow(), cfg)
	assert.Empty(t, res.Opened)
	assert.Empty(t, mgr.Positions())

	mgr.BeginTick()
	live, _ = pb.ListPositions(ctx)
	mgr.Reconcile(ctx, live)
	res = mgr.Manage(ctx, tick(1996, t0.Add(30*time.Minute)), sell, types.Allow(), cfg)
	require.Len(t, res.Opened, 1)
	assert.Equal(t, types.DirectionSell, res.Opened[0].Direction)
}

func TestCloseAllIsIdempotent(t *testing.T) {
	m := &brokertest.MockAdapter{}
	mgr := NewManager(m)
	openWithMock(t, m, mgr, testConfig())
	m.On("CloseOrder", mock.Anything, "T1", 0.0).Return(broker.CloseResult{Price: 2001, Volume: 0.1, Profit: 10}, nil).Once()

	first := mgr.CloseAll(context.Background(), ReasonCloseAll, "cmd-1")
	require.Len(t, first.Closed, 1)
	assert.Equal(t, "cmd-1", first.Events[0].CorrelationID)
	after := mgr.Snapshot()

	second := mgr.CloseAll(context.Background(), ReasonCloseAll, "cmd-2")
	assert.Empty(t, second.Events)
	assert.Equal(t, after, mgr.Snapshot())
	m.AssertNumberOfCalls(t, "CloseOrder", 1)

	_, found := mgr.CloseTicket(context.Background(), "T1", ReasonManual, "")
	assert.False(t, found)
}

func TestCloseOfVanishedTicketIsNoop(t *testing.T) {
	m := &brokertest.MockAdapter{}
	mgr := NewManager(m)
	openWithMock(t, m, mgr, testConfig())
	m.On("CloseOrder", mock.Anything, "T1", 0.0).
		Return(broker.CloseResult{}, &types.BrokerRejectionError{Op: "close_order", Code: broker.CodeNotFound}).Once()

	res, found := mgr.CloseTicket(context.Background(), "T1", ReasonManual, "")
	assert.True(t, found)
	require.Len(t, res.Closed, 1)
	assert.Empty(t, mgr.Positions())
}

func TestCloseConnectivityKeepsClosing(t *testing.T) {
	m := &brokertest.MockAdapter{}
	mgr := NewManager(m)
	cfg := testConfig()
	openWithMock(t, m, mgr, cfg)
	m.On("CloseOrder", mock.Anything, "T1", 0.0).
		Return(broker.CloseResult{}, &types.BrokerConnectivityError{Op: "close_order", Err: errors.New("reset")}).Once()
	m.On("CloseOrder", mock.Anything, "T1", 0.0).Return(broker.CloseResult{Price: 2000}, nil).Once()

	mgr.CloseAll(context.Background(), ReasonCloseAll, "")
	require.Len(t, mgr.Positions(), 1)
	assert.Equal(t, types.PhaseClosing, mgr.Positions()[0].Phase)

	mgr.BeginTick()
	res := mgr.Manage(context.Background(), tick(2000, t0.Add(15*time.Minute)), types.HoldSignal("XAUUSD", ""), types.Allow(), cfg)
	require.Len(t, res.Closed, 1)
	assert.Equal(t, ReasonCloseAll, res.Closed[0].Reason)
}

func TestReconcileDetectsPartialAndAdopts(t *testing.T) {
	m := &brokertest.MockAdapter{}
	mgr := NewManager(m)
	openWithMock(t, m, mgr, testConfig())

	res := mgr.Reconcile(context.Background(), []types.BrokerPosition{
		{Ticket: "T1", Symbol: "XAUUSD", Direction: types.DirectionBuy, Volume: 0.05, EntryPrice: 2000, StopLoss: 1997},
		{Ticket: "X9", Symbol: "EURUSD", Direction: types.DirectionSell, Volume: 1, EntryPrice: 1.08},
	})
	assert.Equal(t, []types.EventKind{types.EventReconciled}, kinds(res.Events))
	ps := mgr.Positions()
	require.Len(t, ps, 2)
	byTicket := map[string]types.Position{}
	for _, p := range ps {
		byTicket[p.Ticket] = p
	}
	assert.True(t, byTicket["T1"].PartialDone)
	assert.True(t, byTicket["T1"].PendingBreakeven)
	assert.Equal(t, types.PhasePartiallyClosed, byTicket["T1"].Phase)
	assert.Equal(t, types.PhaseOpen, byTicket["X9"].Phase)
	assert.Equal(t, -1, mgr.Exposure("EURUSD").Side)
}

func TestLotSize(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, 0.1, LotSize(cfg, 10000, 3))

	cfg.LotMode = config.LotModeRiskPercent
	cfg.RiskPercent = 1
	cfg.ContractSize = 100
	assert.Equal(t, 0.33, LotSize(cfg, 10000, 3))
	assert.Equal(t, MinLot, LotSize(cfg, 10, 3))
	assert.Equal(t, MaxLot, LotSize(cfg, 10_000_000, 3))
	assert.Equal(t, 0.33, LotSize(cfg, 10000, 0), "falls back to sl_distance*point")
}

func TestSplitVolume(t *testing.T) {
	c, r, full := SplitVolume(0.1, 50)
	assert.Equal(t, 0.05, c)
	assert.Equal(t, 0.05, r)
	assert.False(t, full)

	c, r, full = SplitVolume(0.03, 50)
	assert.Equal(t, 0.02, c)
	assert.Equal(t, 0.01, r)
	assert.False(t, full)

	c, _, full = SplitVolume(0.01, 50)
	assert.Equal(t, 0.01, c)
	assert.True(t, full)
}
