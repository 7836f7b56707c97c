package broker

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"alphadesk/internal/config"
	"alphadesk/internal/logger"
	"alphadesk/internal/types"
)

const (
	CodeNotFound      = "NOT_FOUND"
	CodeInvalidStops  = "INVALID_STOPS"
	CodeInvalidVolume = "INVALID_VOLUME"
)

type PaperOptions struct {
	Balance      float64
	Spread       float64
	ContractSize float64
	// Volatility 是每次取行情时随机游走的相对步长，0 表示价格只由 SetPrice 驱动。
	Volatility float64
	Seed       int64
	StartPrice float64
	Now        func() time.Time
}

type paperPosition struct {
	types.BrokerPosition
}

// PaperBroker 是进程内模拟撮合：按点差成交，在每次报价更新时检查 SL/TP。
type PaperBroker struct {
	mu           sync.Mutex
	balance      float64
	spread       float64
	contractSize float64
	volatility   float64
	startPrice   float64
	rng          *rand.Rand
	nowFn        func() time.Time
	seq          int64
	quotes       map[string]float64
	series       map[string][]types.Bar
	positions    map[string]*paperPosition
	deals        map[string]CloseResult
}

func NewPaperBroker(opts PaperOptions) *PaperBroker {
	if opts.Balance <= 0 {
		opts.Balance = 10000
	}
	if opts.ContractSize <= 0 {
		opts.ContractSize = 1
	}
	if opts.StartPrice <= 0 {
		opts.StartPrice = 100
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &PaperBroker{
		balance:      opts.Balance,
		spread:       opts.Spread,
		contractSize: opts.ContractSize,
		volatility:   opts.Volatility,
		startPrice:   opts.StartPrice,
		rng:          rand.New(rand.NewSource(opts.Seed)),
		nowFn:        opts.Now,
		seq:          100000,
		quotes:       make(map[string]float64),
		series:       make(map[string][]types.Bar),
		positions:    make(map[string]*paperPosition),
		deals:        make(map[string]CloseResult),
	}
}

func (p *PaperBroker) Name() string { return "paper" }

// SetPrice 直接设置中间价并触发 SL/TP 检查，用于回放或测试。
func (p *PaperBroker) SetPrice(symbol string, mid float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	symbol = strings.ToUpper(symbol)
	p.quotes[symbol] = mid
	p.checkStopsLocked(symbol)
}

// SetBars 替换某品种的历史 K 线，最新收盘价成为当前价。
func (p *PaperBroker) SetBars(symbol string, bars []types.Bar) {
	p.mu.Lock()
	defer p.mu.Unlock()
	symbol = strings.ToUpper(symbol)
	p.series[symbol] = append([]types.Bar(nil), bars...)
	if len(bars) > 0 {
		p.quotes[symbol] = bars[len(bars)-1].Close
	}
}

func (p *PaperBroker) FetchContext(ctx context.Context, symbol, timeframe string, bars int) (types.MarketContext, error) {
	if err := ctx.Err(); err != nil {
		return types.MarketContext{}, err
	}
	tf, err := config.ParseIntervalDuration(timeframe)
	if err != nil {
		return types.MarketContext{}, fmt.Errorf("paper: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	symbol = strings.ToUpper(symbol)
	now := p.nowFn()
	mid := p.advanceLocked(symbol, now, tf, bars)
	p.checkStopsLocked(symbol)
	bid, ask := p.sidesLocked(mid)
	return types.MarketContext{
		Timestamp: now,
		Symbol:    symbol,
		Timeframe: timeframe,
		Price:     mid,
		Bid:       bid,
		Ask:       ask,
		Bars:      types.TrimBars(append([]types.Bar(nil), p.series[symbol]...), bars),
		Account:   p.accountLocked(now),
	}, nil
}

func (p *PaperBroker) SubmitOrder(ctx context.Context, req OrderRequest) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	symbol := strings.ToUpper(req.Symbol)
	if req.Volume <= 0 || math.IsNaN(req.Volume) {
		return Fill{}, &types.BrokerRejectionError{Op: "submit_order", Code: CodeInvalidVolume, Reason: "volume must be positive"}
	}
	if req.Direction != types.DirectionBuy && req.Direction != types.DirectionSell {
		return Fill{}, &types.BrokerRejectionError{Op: "submit_order", Code: "INVALID_SIDE", Reason: string(req.Direction)}
	}
	mid, ok := p.quotes[symbol]
	if !ok {
		mid = p.startPrice
		p.quotes[symbol] = mid
	}
	bid, ask := p.sidesLocked(mid)
	price := ask
	if req.Direction == types.DirectionSell {
		price = bid
	}
	if err := validStops(req.Direction, price, req.StopLoss, req.TakeProfit); err != nil {
		return Fill{}, &types.BrokerRejectionError{Op: "submit_order", Code: CodeInvalidStops, Reason: err.Error()}
	}
	now := p.nowFn()
	p.seq++
	ticket := strconv.FormatInt(p.seq, 10)
	p.positions[ticket] = &paperPosition{BrokerPosition: types.BrokerPosition{
		Ticket:       ticket,
		Symbol:       symbol,
		Direction:    req.Direction,
		Volume:       req.Volume,
		EntryPrice:   price,
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
		CurrentPrice: price,
		OpenedAt:     now,
	}}
	return Fill{Ticket: ticket, Price: price, Volume: req.Volume, Time: now}, nil
}

func (p *PaperBroker) ModifyOrder(ctx context.Context, ticket string, stopLoss, takeProfit float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[ticket]
	if !ok {
		return &types.BrokerRejectionError{Op: "modify_order", Code: CodeNotFound, Reason: "ticket " + ticket}
	}
	bid, ask := p.sidesLocked(p.quotes[pos.Symbol])
	ref := bid
	if pos.Direction == types.DirectionSell {
		ref = ask
	}
	if err := validStops(pos.Direction, ref, stopLoss, takeProfit); err != nil {
		return &types.BrokerRejectionError{Op: "modify_order", Code: CodeInvalidStops, Reason: err.Error()}
	}
	pos.StopLoss = stopLoss
	pos.TakeProfit = takeProfit
	return nil
}

func (p *PaperBroker) CloseOrder(ctx context.Context, ticket string, volume float64) (CloseResult, error) {
	if err := ctx.Err(); err != nil {
		return CloseResult{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[ticket]
	if !ok {
		return CloseResult{}, &types.BrokerRejectionError{Op: "close_order", Code: CodeNotFound, Reason: "ticket " + ticket}
	}
	bid, ask := p.sidesLocked(p.quotes[pos.Symbol])
	price := bid
	if pos.Direction == types.DirectionSell {
		price = ask
	}
	return p.closeLocked(pos, price, volume, "manual"), nil
}

func (p *PaperBroker) ListPositions(ctx context.Context) ([]types.BrokerPosition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.BrokerPosition, 0, len(p.positions))
	for _, pos := range p.positions {
		bp := pos.BrokerPosition
		bp.CurrentPrice = p.markLocked(pos)
		bp.Profit = p.profit(pos.Direction, pos.EntryPrice, bp.CurrentPrice, pos.Volume)
		out = append(out, bp)
	}
	return out, nil
}

func (p *PaperBroker) AccountSnapshot(ctx context.Context) (types.AccountSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return types.AccountSnapshot{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accountLocked(p.nowFn()), nil
}

func (p *PaperBroker) ClosedDeal(ctx context.Context, ticket string) (CloseResult, bool, error) {
	if err := ctx.Err(); err != nil {
		return CloseResult{}, false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.deals[ticket]
	return d, ok, nil
}

func (p *PaperBroker) advanceLocked(symbol string, now time.Time, tf time.Duration, want int) float64 {
	mid, ok := p.quotes[symbol]
	if !ok {
		mid = p.startPrice
	}
	series := p.series[symbol]
	if len(series) == 0 && want > 0 {
		series = p.seedSeries(mid, now, tf, want)
		mid = series[len(series)-1].Close
	}
	if p.volatility > 0 && ok {
		mid *= 1 + p.rng.NormFloat64()*p.volatility
	}
	p.quotes[symbol] = mid
	bucket := now.Truncate(tf)
	if n := len(series); n > 0 && !series[n-1].Time.Before(bucket) {
		last := &series[n-1]
		last.Close = mid
		last.High = math.Max(last.High, mid)
		last.Low = math.Min(last.Low, mid)
	} else {
		series = append(series, types.Bar{Time: bucket, Open: mid, High: mid, Low: mid, Close: mid})
	}
	p.series[symbol] = types.TrimBars(series, max(want, 1)*2)
	return mid
}

func (p *PaperBroker) seedSeries(mid float64, now time.Time, tf time.Duration, n int) []types.Bar {
	out := make([]types.Bar, n)
	price := mid
	start := now.Truncate(tf).Add(-time.Duration(n) * tf)
	vol := p.volatility
	if vol <= 0 {
		vol = 0.001
	}
	for i := 0; i < n; i++ {
		open := price
		price *= 1 + p.rng.NormFloat64()*vol
		hi := math.Max(open, price) * (1 + math.Abs(p.rng.NormFloat64())*vol/2)
		lo := math.Min(open, price) * (1 - math.Abs(p.rng.NormFloat64())*vol/2)
		out[i] = types.Bar{Time: start.Add(time.Duration(i) * tf), Open: open, High: hi, Low: lo, Close: price, Volume: 100 + float64(p.rng.Intn(900))}
	}
	return out
}

// checkStopsLocked 按当前报价检查 SL/TP，触发时以止损/止盈价成交。
func (p *PaperBroker) checkStopsLocked(symbol string) {
	for _, pos := range p.positions {
		if pos.Symbol != symbol {
			continue
		}
		mark := p.markLocked(pos)
		switch pos.Direction {
		case types.DirectionBuy:
			if pos.StopLoss > 0 && mark <= pos.StopLoss {
				p.closeLocked(pos, pos.StopLoss, 0, "sl")
			} else if pos.TakeProfit > 0 && mark >= pos.TakeProfit {
				p.closeLocked(pos, pos.TakeProfit, 0, "tp")
			}
		case types.DirectionSell:
			if pos.StopLoss > 0 && mark >= pos.StopLoss {
				p.closeLocked(pos, pos.StopLoss, 0, "sl")
			} else if pos.TakeProfit > 0 && mark <= pos.TakeProfit {
				p.closeLocked(pos, pos.TakeProfit, 0, "tp")
			}
		}
	}
}

func (p *PaperBroker) closeLocked(pos *paperPosition, price, volume float64, why string) CloseResult {
	if volume <= 0 || volume >= pos.Volume-1e-9 {
		volume = pos.Volume
	}
	profit := p.profit(pos.Direction, pos.EntryPrice, price, volume)
	p.balance += profit
	pos.Volume = math.Round((pos.Volume-volume)*100) / 100
	res := CloseResult{
		Ticket:    pos.Ticket,
		Price:     price,
		Volume:    volume,
		Profit:    profit,
		Remaining: pos.Volume,
		Time:      p.nowFn(),
	}
	if pos.Volume <= 0 {
		delete(p.positions, pos.Ticket)
		if prev, ok := p.deals[pos.Ticket]; ok {
			res.Profit += prev.Profit
		}
		p.deals[pos.Ticket] = res
		logger.Debugf("[paper] %s %s 平仓 (%s) price=%.5f profit=%.2f", pos.Symbol, pos.Ticket, why, price, profit)
		return res
	}
	prev := p.deals[pos.Ticket]
	prev.Ticket = pos.Ticket
	prev.Profit += profit
	p.deals[pos.Ticket] = prev
	return res
}

func (p *PaperBroker) markLocked(pos *paperPosition) float64 {
	bid, ask := p.sidesLocked(p.quotes[pos.Symbol])
	if pos.Direction == types.DirectionSell {
		return ask
	}
	return bid
}

func (p *PaperBroker) sidesLocked(mid float64) (bid, ask float64) {
	half := p.spread / 2
	return mid - half, mid + half
}

func (p *PaperBroker) profit(dir types.Direction, entry, exit, volume float64) float64 {
	return (exit - entry) * dir.Sign() * volume * p.contractSize
}

func (p *PaperBroker) accountLocked(now time.Time) types.AccountSnapshot {
	floating := 0.0
	for _, pos := range p.positions {
		floating += p.profit(pos.Direction, pos.EntryPrice, p.markLocked(pos), pos.Volume)
	}
	return types.AccountSnapshot{Equity: p.balance + floating, Balance: p.balance, UpdatedAt: now}
}

func validStops(dir types.Direction, price, sl, tp float64) error {
	if sl < 0 || tp < 0 {
		return fmt.Errorf("negative stop")
	}
	switch dir {
	case types.DirectionBuy:
		if sl > 0 && sl >= price {
			return fmt.Errorf("buy stop_loss %.5f must be below %.5f", sl, price)
		}
		if tp > 0 && tp <= price {
			return fmt.Errorf("buy take_profit %.5f must be above %.5f", tp, price)
		}
	case types.DirectionSell:
		if sl > 0 && sl <= price {
			return fmt.Errorf("sell stop_loss %.5f must be above %.5f", sl, price)
		}
		if tp > 0 && tp >= price {
			return fmt.Errorf("sell take_profit %.5f must be below %.5f", tp, price)
		}
	}
	return nil
}
