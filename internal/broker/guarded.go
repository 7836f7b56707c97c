package broker

import (
	"context"
	"errors"
	"time"

	"github.com/jpillora/backoff"

	"alphadesk/internal/logger"
	"alphadesk/internal/pkg/circuit"
	"alphadesk/internal/types"
)

// ErrCircuitOpen 表示熔断器打开，调用被直接拒绝。
var ErrCircuitOpen = errors.New("broker circuit open")

type GuardOptions struct {
	Timeout         time.Duration
	FetchAttempts   int
	BackoffMin      time.Duration
	BackoffMax      time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
}

func (o GuardOptions) withDefaults() GuardOptions {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.FetchAttempts <= 0 {
		o.FetchAttempts = 1
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = 200 * time.Millisecond
	}
	if o.BackoffMax < o.BackoffMin {
		o.BackoffMax = 10 * o.BackoffMin
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = time.Minute
	}
	return o
}

// Guarded 为任意 Adapter 加上超时、熔断与只读调用重试。
// 下单/改单/平仓只尝试一次，结果未知时由下一个 tick 对账解决。
type Guarded struct {
	inner   Adapter
	opts    GuardOptions
	breaker *circuit.Breaker
}

func NewGuarded(inner Adapter, opts GuardOptions) *Guarded {
	opts = opts.withDefaults()
	return &Guarded{
		inner:   inner,
		opts:    opts,
		breaker: circuit.New("broker:"+inner.Name(), opts.BreakerFailures, opts.BreakerCooldown),
	}
}

func (g *Guarded) Name() string { return g.inner.Name() }

// Available 在熔断器未打开时为 true。
func (g *Guarded) Available() bool {
	return g.breaker.State() != circuit.StateOpen
}

func (g *Guarded) FetchContext(ctx context.Context, symbol, timeframe string, bars int) (types.MarketContext, error) {
	var out types.MarketContext
	err := g.retry(ctx, "fetch_context", func(cctx context.Context) error {
		mc, err := g.inner.FetchContext(cctx, symbol, timeframe, bars)
		if err == nil {
			out = mc
		}
		return err
	})
	return out, err
}

func (g *Guarded) SubmitOrder(ctx context.Context, req OrderRequest) (Fill, error) {
	var out Fill
	err := g.once(ctx, "submit_order", func(cctx context.Context) error {
		f, err := g.inner.SubmitOrder(cctx, req)
		if err == nil {
			out = f
		}
		return err
	})
	return out, err
}

func (g *Guarded) ModifyOrder(ctx context.Context, ticket string, stopLoss, takeProfit float64) error {
	return g.once(ctx, "modify_order", func(cctx context.Context) error {
		return g.inner.ModifyOrder(cctx, ticket, stopLoss, takeProfit)
	})
}

func (g *Guarded) CloseOrder(ctx context.Context, ticket string, volume float64) (CloseResult, error) {
	var out CloseResult
	err := g.once(ctx, "close_order", func(cctx context.Context) error {
		r, err := g.inner.CloseOrder(cctx, ticket, volume)
		if err == nil {
			out = r
		}
		return err
	})
	return out, err
}

func (g *Guarded) ListPositions(ctx context.Context) ([]types.BrokerPosition, error) {
	var out []types.BrokerPosition
	err := g.retry(ctx, "list_positions", func(cctx context.Context) error {
		ps, err := g.inner.ListPositions(cctx)
		if err == nil {
			out = ps
		}
		return err
	})
	return out, err
}

func (g *Guarded) AccountSnapshot(ctx context.Context) (types.AccountSnapshot, error) {
	var out types.AccountSnapshot
	err := g.retry(ctx, "account_snapshot", func(cctx context.Context) error {
		a, err := g.inner.AccountSnapshot(cctx)
		if err == nil {
			out = a
		}
		return err
	})
	return out, err
}

// ClosedDeal 透传到支持 DealHistory 的底层适配器。
func (g *Guarded) ClosedDeal(ctx context.Context, ticket string) (CloseResult, bool, error) {
	dh, ok := g.inner.(DealHistory)
	if !ok {
		return CloseResult{}, false, nil
	}
	var (
		out   CloseResult
		found bool
	)
	err := g.once(ctx, "closed_deal", func(cctx context.Context) error {
		r, ok, err := dh.ClosedDeal(cctx, ticket)
		out, found = r, ok
		return err
	})
	return out, found, err
}

func (g *Guarded) once(ctx context.Context, op string, fn func(context.Context) error) error {
	if !g.breaker.Allow() {
		return &types.BrokerConnectivityError{Op: op, Err: ErrCircuitOpen}
	}
	cctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()
	err := classify(op, fn(cctx))
	// 拒单说明券商在线，不计入熔断
	if types.IsRejection(err) {
		g.breaker.Report(nil)
	} else {
		g.breaker.Report(err)
	}
	return err
}

func (g *Guarded) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	b := &backoff.Backoff{Min: g.opts.BackoffMin, Max: g.opts.BackoffMax, Factor: 2, Jitter: true}
	var err error
	for attempt := 1; attempt <= g.opts.FetchAttempts; attempt++ {
		err = g.once(ctx, op, fn)
		if err == nil || !types.IsConnectivity(err) || errors.Is(err, ErrCircuitOpen) {
			return err
		}
		if attempt == g.opts.FetchAttempts {
			break
		}
		wait := b.Duration()
		logger.Warnf("[broker] %s 失败 (attempt %d/%d)，%s 后重试: %v", op, attempt, g.opts.FetchAttempts, wait, err)
		select {
		case <-ctx.Done():
			return &types.BrokerConnectivityError{Op: op, Err: ctx.Err()}
		case <-time.After(wait):
		}
	}
	return err
}

// classify 把未归类的错误视为连接类：结果未知，不能假定订单未成交。
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *types.BrokerConnectivityError
	if errors.As(err, &ce) {
		return err
	}
	if types.IsRejection(err) {
		return err
	}
	return &types.BrokerConnectivityError{Op: op, Err: err}
}
