package position

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"alphadesk/internal/broker"
	"alphadesk/internal/config"
	"alphadesk/internal/logger"
	"alphadesk/internal/types"
)

// 平仓原因。
const (
	ReasonSignal     = "signal"
	ReasonStopTarget = "sl_tp"
	ReasonTimeExit   = "time_exit"
	ReasonCloseAll   = "close_all"
	ReasonManual     = "manual"
	ReasonPartial    = "partial_full"
)

// pendingEntry 是提交结果未知的开仓，等待下一次对账确认。
type pendingEntry struct {
	req     broker.OrderRequest
	sentAt  time.Time
	barTime time.Time
}

// Result 汇总一次管理动作产生的事件与成交。
type Result struct {
	Events []types.Event
	Opened []types.Position
	Closed []types.TradeRecord
}

func (r *Result) merge(o Result) {
	r.Events = append(r.Events, o.Events...)
	r.Opened = append(r.Opened, o.Opened...)
	r.Closed = append(r.Closed, o.Closed...)
}

func (r *Result) emit(ev types.Event) {
	r.Events = append(r.Events, ev)
}

// Manager 维护每个 ticket 的生命周期状态机。
// 只由决策循环所在的 goroutine 调用，不做并发保护。
type Manager struct {
	broker    broker.Adapter
	positions map[string]*types.Position
	pending   map[string]*pendingEntry
	closedNow map[string]bool
	nowFn     func() time.Time
}

func NewManager(b broker.Adapter) *Manager {
	return &Manager{
		broker:    b,
		positions: make(map[string]*types.Position),
		pending:   make(map[string]*pendingEntry),
		closedNow: make(map[string]bool),
		nowFn:     time.Now,
	}
}

// Restore 载入持久化的持仓，启动时在首次对账前调用。
func (m *Manager) Restore(ps []types.Position) {
	for _, p := range ps {
		if !p.Phase.Live() {
			continue
		}
		cp := p
		m.positions[p.Ticket] = &cp
	}
}

// BeginTick 清空本 tick 的平仓标记。
func (m *Manager) BeginTick() {
	clear(m.closedNow)
}

// Positions 返回所有活跃持仓的副本，按开仓时间排序。
func (m *Manager) Positions() []types.Position {
	out := make([]types.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].Ticket < out[j].Ticket
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// Snapshot 返回活跃持仓加上处于 OPENING 的待确认开仓。
func (m *Manager) Snapshot() []types.Position {
	out := m.Positions()
	symbols := make([]string, 0, len(m.pending))
	for s := range m.pending {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		pe := m.pending[s]
		out = append(out, types.Position{
			Symbol:     s,
			Direction:  pe.req.Direction,
			Volume:     pe.req.Volume,
			StopLoss:   pe.req.StopLoss,
			TakeProfit: pe.req.TakeProfit,
			OpenedAt:   pe.sentAt,
			Phase:      types.PhaseOpening,
		})
	}
	return out
}

// Exposure 返回品种当前的持仓概况。
func (m *Manager) Exposure(symbol string) types.Exposure {
	var e types.Exposure
	for _, p := range m.positions {
		if p.Symbol != symbol {
			continue
		}
		e.OpenTrades++
		e.Side = int(p.Direction.Sign())
		if p.BarsHeld > e.BarsHeld {
			e.BarsHeld = p.BarsHeld
		}
		e.EntryPrice = p.EntryPrice
	}
	return e
}

func (m *Manager) occupied(symbol string) bool {
	if _, ok := m.pending[symbol]; ok {
		return true
	}
	for _, p := range m.positions {
		if p.Symbol == symbol {
			return true
		}
	}
	return false
}

// CloseAll 对所有活跃持仓发起平仓。已不存在的持仓不再处理，重复调用无副作用。
func (m *Manager) CloseAll(ctx context.Context, reason, correlation string) Result {
	var res Result
	for _, p := range m.Positions() {
		res.merge(m.closePosition(ctx, m.positions[p.Ticket], 0, reason, correlation))
	}
	return res
}

// CloseTicket 平掉单个 ticket；ticket 未知时为 no-op。
func (m *Manager) CloseTicket(ctx context.Context, ticket, reason, correlation string) (Result, bool) {
	p, ok := m.positions[ticket]
	if !ok {
		return Result{}, false
	}
	return m.closePosition(ctx, p, 0, reason, correlation), true
}

// CloseSymbol 平掉某品种的全部持仓。
func (m *Manager) CloseSymbol(ctx context.Context, symbol, reason, correlation string) Result {
	var res Result
	for _, p := range m.Positions() {
		if p.Symbol == symbol {
			res.merge(m.closePosition(ctx, m.positions[p.Ticket], 0, reason, correlation))
		}
	}
	return res
}

// RetryClosing 重新发起仍处于 CLOSING 的平仓，引擎停止时也需要推进。
func (m *Manager) RetryClosing(ctx context.Context) Result {
	var res Result
	for _, p := range m.Positions() {
		if p.Phase == types.PhaseClosing {
			res.merge(m.closePosition(ctx, m.positions[p.Ticket], 0, nonEmpty(p.CloseReason, ReasonManual), ""))
		}
	}
	return res
}

// Manage 处理单个品种的一个 tick：先平仓，再管理止损，最后才考虑开仓。
func (m *Manager) Manage(ctx context.Context, mc types.MarketContext, sig types.Signal, gate types.GateDecision, cfg config.EngineConfig) Result {
	var res Result
	symbol := mc.Symbol
	for _, snap := range m.Positions() {
		if snap.Symbol != symbol {
			continue
		}
		p := m.positions[snap.Ticket]
		m.observe(p, mc)
		switch {
		case p.Phase == types.PhaseClosing:
			res.merge(m.closePosition(ctx, p, 0, nonEmpty(p.CloseReason, ReasonSignal), ""))
		case cfg.TimeExitBars > 0 && p.BarsHeld >= cfg.TimeExitBars:
			res.merge(m.closePosition(ctx, p, 0, ReasonTimeExit, ""))
		case sig.IsClose() && sig.Direction() == p.Direction:
			res.merge(m.closePosition(ctx, p, 0, ReasonSignal, ""))
		default:
			res.merge(m.manageStops(ctx, p, mc, cfg))
		}
	}
	if sig.IsEntry() {
		res.merge(m.enter(ctx, mc, sig, gate, cfg))
	}
	return res
}

// observe 用最新行情刷新持仓并累计持有 K 线数。
func (m *Manager) observe(p *types.Position, mc types.MarketContext) {
	p.CurrentPrice = markPrice(p.Direction, mc)
	last, ok := mc.LastBar()
	if !ok {
		return
	}
	if p.LastBarTime.IsZero() {
		p.LastBarTime = last.Time
		return
	}
	for _, b := range mc.Bars {
		if b.Time.After(p.LastBarTime) {
			p.BarsHeld++
		}
	}
	if last.Time.After(p.LastBarTime) {
		p.LastBarTime = last.Time
	}
}

func (m *Manager) enter(ctx context.Context, mc types.MarketContext, sig types.Signal, gate types.GateDecision, cfg config.EngineConfig) Result {
	var res Result
	symbol := mc.Symbol
	switch {
	case m.closedNow[symbol]:
		logger.Debugf("[position] %s 本 tick 已平仓，开仓信号推迟", symbol)
		return res
	case cfg.SinglePositionPerSymbol && m.occupied(symbol):
		return res
	case !gate.Allowed:
		return res
	case sig.Confidence < cfg.ConfidenceThreshold:
		logger.Debugf("[position] %s 置信度 %.2f 低于阈值 %.2f", symbol, sig.Confidence, cfg.ConfidenceThreshold)
		return res
	}
	if cfg.MaxSpread > 0 && cfg.Point > 0 {
		if spread := mc.Spread() / cfg.Point; spread > cfg.MaxSpread {
			logger.Infof("[position] %s 点差 %.1f 超过上限 %.1f，跳过开仓", symbol, spread, cfg.MaxSpread)
			return res
		}
	}
	dir := sig.Direction()
	ref := entryPrice(dir, mc)
	sl, tp := stops(dir, ref, sig, cfg)
	slDist := 0.0
	if sl > 0 {
		slDist = math.Abs(ref - sl)
	}
	req := broker.OrderRequest{
		Symbol:     symbol,
		Direction:  dir,
		Volume:     LotSize(cfg, mc.Account.Balance, slDist),
		StopLoss:   sl,
		TakeProfit: tp,
		Comment:    nonEmpty(sig.Tag, "alphadesk"),
	}
	pending := &pendingEntry{req: req, sentAt: m.nowFn()}
	if last, ok := mc.LastBar(); ok {
		pending.barTime = last.Time
	}
	m.pending[symbol] = pending

	fill, err := m.broker.SubmitOrder(ctx, req)
	switch {
	case err == nil:
		delete(m.pending, symbol)
		p := m.track(fill.Ticket, req, fill.Price, fill.Volume, fill.Time, pending.barTime)
		logger.Infof("[position] %s %s 开仓 ticket=%s vol=%.2f price=%.5f sl=%.5f tp=%.5f",
			symbol, dir, p.Ticket, p.Volume, p.EntryPrice, p.StopLoss, p.TakeProfit)
		res.Opened = append(res.Opened, *p)
		res.emit(openedEvent(*p, "filled"))
	case types.IsRejection(err):
		delete(m.pending, symbol)
		logger.Warnf("[position] %s 开仓被拒绝: %v", symbol, err)
		res.emit(types.NewEvent(types.EventOrderRejected, types.SeverityWarn, err.Error()).
			WithSymbol(symbol).
			WithField("op", "submit_order").
			WithField("direction", string(dir)).
			WithField("volume", req.Volume))
	case errors.Is(err, broker.ErrCircuitOpen):
		// 熔断时请求没有发出，不存在待对账的开仓。
		delete(m.pending, symbol)
		logger.Warnf("[position] %s 券商熔断中，开仓未发送", symbol)
		res.emit(types.NewEvent(types.EventOrderFailed, types.SeverityWarn, "submit not sent: "+err.Error()).
			WithSymbol(symbol).
			WithField("op", "submit_order"))
	default:
		logger.Errorf("[position] %s 开仓结果未知，下一 tick 对账: %v", symbol, err)
		res.emit(types.NewEvent(types.EventOrderFailed, types.SeverityError, "submit outcome unknown, reconciling: "+err.Error()).
			WithSymbol(symbol).
			WithField("op", "submit_order"))
	}
	return res
}

func (m *Manager) track(ticket string, req broker.OrderRequest, price, volume float64, at time.Time, barTime time.Time) *types.Position {
	if at.IsZero() {
		at = m.nowFn()
	}
	if volume <= 0 {
		volume = req.Volume
	}
	p := &types.Position{
		Ticket:        ticket,
		Symbol:        req.Symbol,
		Direction:     req.Direction,
		Volume:        volume,
		InitialVolume: volume,
		EntryPrice:    price,
		StopLoss:      req.StopLoss,
		TakeProfit:    req.TakeProfit,
		CurrentPrice:  price,
		OpenedAt:      at,
		LastBarTime:   barTime,
		Phase:         types.PhaseOpen,
	}
	m.positions[ticket] = p
	return p
}

// manageStops 处理 TP1 分批、保本与追踪止损。同一 tick 内每个 ticket 最多一个逻辑动作。
func (m *Manager) manageStops(ctx context.Context, p *types.Position, mc types.MarketContext, cfg config.EngineConfig) Result {
	var res Result
	fav := Points(p.FavorableDistance(p.CurrentPrice), cfg.Point)
	if cfg.PartialClose.Enabled && !p.PartialDone && fav >= cfg.PartialClose.TP1Distance {
		return m.partialClose(ctx, p, cfg)
	}
	target := p.StopLoss
	moveKind := ""
	if p.PendingBreakeven && improves(p.Direction, p.EntryPrice, target) {
		target = p.EntryPrice
		moveKind = "breakeven"
	}
	if cfg.Trailing.Enabled && fav >= cfg.TrailingActivation() {
		cand := RoundPrice(p.CurrentPrice-p.Direction.Sign()*cfg.Trailing.Distance*cfg.Point, cfg.Point)
		if improves(p.Direction, cand, target) && (target == 0 || Points(math.Abs(cand-target), cfg.Point) >= cfg.Trailing.Step) {
			target = cand
			moveKind = "trailing"
		}
	}
	if moveKind == "" {
		if p.PendingBreakeven && !improves(p.Direction, p.EntryPrice, p.StopLoss) {
			p.PendingBreakeven = false
		}
		return res
	}
	return m.moveStop(ctx, p, target, moveKind)
}

func (m *Manager) partialClose(ctx context.Context, p *types.Position, cfg config.EngineConfig) Result {
	closeVol, remaining, full := SplitVolume(p.Volume, cfg.PartialClose.Percent)
	if full {
		return m.closePosition(ctx, p, 0, ReasonPartial, "")
	}
	var res Result
	r, err := m.broker.CloseOrder(ctx, p.Ticket, closeVol)
	if err != nil {
		res.merge(m.actionFailed(p, "partial_close", err))
		return res
	}
	if r.Remaining > 0 {
		remaining = r.Remaining
	}
	p.Volume = remaining
	p.PartialDone = true
	p.PendingBreakeven = true
	p.Phase = types.PhasePartiallyClosed
	p.RealizedProfit += r.Profit
	logger.Infof("[position] %s %s 分批平仓 %.2f 手，剩余 %.2f", p.Symbol, p.Ticket, closeVol, remaining)
	res.emit(types.NewEvent(types.EventPartialClosed, types.SeverityInfo,
		fmt.Sprintf("partial close %.2f lots at %.5f", closeVol, r.Price)).
		WithSymbol(p.Symbol).
		WithTicket(p.Ticket).
		WithField("volume", closeVol).
		WithField("remaining", remaining).
		WithField("profit", r.Profit))
	res.merge(m.moveStop(ctx, p, p.EntryPrice, "breakeven"))
	return res
}

func (m *Manager) moveStop(ctx context.Context, p *types.Position, sl float64, kind string) Result {
	var res Result
	if err := m.broker.ModifyOrder(ctx, p.Ticket, sl, p.TakeProfit); err != nil {
		logger.Warnf("[position] %s %s 移动止损(%s)失败，下个 tick 重试: %v", p.Symbol, p.Ticket, kind, err)
		res.emit(types.NewEvent(types.EventOrderFailed, types.SeverityWarn, "stop move failed, will retry: "+err.Error()).
			WithSymbol(p.Symbol).
			WithTicket(p.Ticket).
			WithField("op", "modify_order").
			WithField("kind", kind))
		return res
	}
	prev := p.StopLoss
	p.StopLoss = sl
	if !improves(p.Direction, p.EntryPrice, sl) {
		p.PendingBreakeven = false
	}
	if kind == "trailing" {
		p.Phase = types.PhaseTrailing
	}
	res.emit(types.NewEvent(types.EventStopMoved, types.SeverityInfo,
		fmt.Sprintf("%s stop %.5f -> %.5f", kind, prev, sl)).
		WithSymbol(p.Symbol).
		WithTicket(p.Ticket).
		WithField("kind", kind).
		WithField("stop_loss", sl))
	return res
}

// closePosition 进入 CLOSING 并请求券商平仓。连接失败时保持 CLOSING，下个 tick 继续。
func (m *Manager) closePosition(ctx context.Context, p *types.Position, volume float64, reason, correlation string) Result {
	var res Result
	if p == nil || p.Phase.Terminal() {
		return res
	}
	prevPhase := p.Phase
	if prevPhase == types.PhaseClosing {
		prevPhase = types.PhaseOpen
	}
	p.Phase = types.PhaseClosing
	p.CloseReason = reason
	r, err := m.broker.CloseOrder(ctx, p.Ticket, volume)
	switch {
	case err == nil:
		price := r.Price
		if price == 0 {
			price = p.CurrentPrice
		}
		res.merge(m.finish(p, price, p.RealizedProfit+r.Profit, nonZeroTime(r.Time, m.nowFn()), reason, correlation))
	case isNotFound(err):
		// 券商侧已不存在：视为已平仓，交给对账补全成交价。
		res.merge(m.finish(p, p.CurrentPrice, p.RealizedProfit+p.Profit, m.nowFn(), reason, correlation))
	case types.IsRejection(err):
		p.Phase = prevPhase
		p.CloseReason = ""
		res.merge(m.actionFailed(p, "close_order", err))
	default:
		res.merge(m.actionFailed(p, "close_order", err))
	}
	return res
}

// finish 把持仓置为 CLOSED 并生成交易记录。
func (m *Manager) finish(p *types.Position, price, profit float64, at time.Time, reason, correlation string) Result {
	var res Result
	p.Phase = types.PhaseClosed
	p.CloseReason = reason
	p.CurrentPrice = price
	p.Profit = profit
	delete(m.positions, p.Ticket)
	m.closedNow[p.Symbol] = true
	rec := types.TradeRecord{
		Ticket:     p.Ticket,
		Symbol:     p.Symbol,
		Direction:  p.Direction,
		Volume:     p.InitialVolume,
		EntryPrice: p.EntryPrice,
		ExitPrice:  price,
		Profit:     profit,
		OpenedAt:   p.OpenedAt,
		ClosedAt:   at,
		Reason:     reason,
	}
	if rec.Volume == 0 {
		rec.Volume = p.Volume
	}
	logger.Infof("[position] %s %s 已平仓 (%s) price=%.5f profit=%.2f", p.Symbol, p.Ticket, reason, price, profit)
	res.Closed = append(res.Closed, rec)
	res.emit(types.NewEvent(types.EventPositionClosed, types.SeverityInfo,
		fmt.Sprintf("%s %s closed (%s) profit=%.2f", p.Symbol, p.Direction, reason, profit)).
		WithSymbol(p.Symbol).
		WithTicket(p.Ticket).
		WithCorrelation(correlation).
		WithField("reason", reason).
		WithField("profit", profit).
		WithField("exit_price", price))
	return res
}

func (m *Manager) actionFailed(p *types.Position, op string, err error) Result {
	var res Result
	kind, sev := types.EventOrderFailed, types.SeverityError
	if types.IsRejection(err) {
		kind, sev = types.EventOrderRejected, types.SeverityWarn
	}
	logger.Warnf("[position] %s %s %s 失败: %v", p.Symbol, p.Ticket, op, err)
	res.emit(types.NewEvent(kind, sev, err.Error()).
		WithSymbol(p.Symbol).
		WithTicket(p.Ticket).
		WithField("op", op))
	return res
}

func openedEvent(p types.Position, how string) types.Event {
	return types.NewEvent(types.EventPositionOpened, types.SeverityInfo,
		fmt.Sprintf("%s %s %.2f @ %.5f", p.Symbol, p.Direction, p.Volume, p.EntryPrice)).
		WithSymbol(p.Symbol).
		WithTicket(p.Ticket).
		WithField("how", how).
		WithField("volume", p.Volume).
		WithField("entry_price", p.EntryPrice).
		WithField("stop_loss", p.StopLoss).
		WithField("take_profit", p.TakeProfit)
}

// stops 优先使用信号建议的止损止盈，方向不合理时回落到配置距离。
func stops(dir types.Direction, ref float64, sig types.Signal, cfg config.EngineConfig) (sl, tp float64) {
	sign := dir.Sign()
	sl, tp = sig.StopLoss, sig.TakeProfit
	if sl <= 0 || (ref-sl)*sign <= 0 {
		sl = 0
		if cfg.SLDistance > 0 {
			sl = ref - sign*cfg.SLDistance*cfg.Point
		}
	}
	if tp <= 0 || (tp-ref)*sign <= 0 {
		tp = 0
		if cfg.TPDistance > 0 {
			tp = ref + sign*cfg.TPDistance*cfg.Point
		}
	}
	if sl > 0 {
		sl = RoundPrice(sl, cfg.Point)
	}
	if tp > 0 {
		tp = RoundPrice(tp, cfg.Point)
	}
	return sl, tp
}

// improves 判断 candidate 是否比 current 更有利（多头更高，空头更低）。current 为 0 表示未设止损。
func improves(dir types.Direction, candidate, current float64) bool {
	if candidate <= 0 {
		return false
	}
	if current <= 0 {
		return true
	}
	return (candidate-current)*dir.Sign() > 0
}

func entryPrice(dir types.Direction, mc types.MarketContext) float64 {
	if dir == types.DirectionSell && mc.Bid > 0 {
		return mc.Bid
	}
	if dir == types.DirectionBuy && mc.Ask > 0 {
		return mc.Ask
	}
	return mc.Price
}

// markPrice 是平仓方向的报价：多头看 bid，空头看 ask。
func markPrice(dir types.Direction, mc types.MarketContext) float64 {
	if dir == types.DirectionBuy && mc.Bid > 0 {
		return mc.Bid
	}
	if dir == types.DirectionSell && mc.Ask > 0 {
		return mc.Ask
	}
	return mc.Price
}

func isNotFound(err error) bool {
	var rej *types.BrokerRejectionError
	return errors.As(err, &rej) && rej.Code == broker.CodeNotFound
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func nonZeroTime(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}
