package position

import (
	"context"
	"fmt"
	"math"

	"alphadesk/internal/broker"
	"alphadesk/internal/logger"
	"alphadesk/internal/types"
)

const volumeTolerance = 0.005

// Reconcile 以券商持仓为准校正本地状态：券商决定存在性，本地只在存在被确认时决定阶段。
//   - 本地有、券商无：视为被 SL/TP 或外部平掉，置为 CLOSED；
//   - 券商有、本地无：先匹配结果未知的开仓，否则直接接管为 OPEN；
//   - 仍未匹配的待确认开仓：判定未成交，回到 NONE。
func (m *Manager) Reconcile(ctx context.Context, live []types.BrokerPosition) Result {
	var res Result
	byTicket := make(map[string]types.BrokerPosition, len(live))
	for _, bp := range live {
		byTicket[bp.Ticket] = bp
	}

	for _, snap := range m.Positions() {
		p := m.positions[snap.Ticket]
		bp, ok := byTicket[p.Ticket]
		if !ok {
			res.merge(m.closedAtBroker(ctx, p))
			continue
		}
		m.sync(p, bp)
	}

	for _, bp := range live {
		if _, ok := m.positions[bp.Ticket]; ok {
			continue
		}
		how := "adopted"
		if pe, ok := m.pending[bp.Symbol]; ok && pe.req.Direction == bp.Direction && math.Abs(pe.req.Volume-bp.Volume) < volumeTolerance {
			delete(m.pending, bp.Symbol)
			how = "confirmed"
		}
		p := &types.Position{
			Ticket:        bp.Ticket,
			Symbol:        bp.Symbol,
			Direction:     bp.Direction,
			Volume:        bp.Volume,
			InitialVolume: bp.Volume,
			EntryPrice:    bp.EntryPrice,
			StopLoss:      bp.StopLoss,
			TakeProfit:    bp.TakeProfit,
			CurrentPrice:  bp.CurrentPrice,
			Profit:        bp.Profit,
			OpenedAt:      nonZeroTime(bp.OpenedAt, m.nowFn()),
			Phase:         types.PhaseOpen,
		}
		m.positions[p.Ticket] = p
		logger.Infof("[position] 对账%s持仓 %s %s ticket=%s vol=%.2f", how, p.Symbol, p.Direction, p.Ticket, p.Volume)
		res.Opened = append(res.Opened, *p)
		if how == "confirmed" {
			res.emit(openedEvent(*p, how))
		} else {
			res.emit(types.NewEvent(types.EventReconciled, types.SeverityWarn,
				fmt.Sprintf("untracked broker position %s adopted", p.Ticket)).
				WithSymbol(p.Symbol).
				WithTicket(p.Ticket).
				WithField("volume", p.Volume))
		}
	}

	for symbol, pe := range m.pending {
		delete(m.pending, symbol)
		logger.Warnf("[position] %s 待确认开仓未在券商侧出现，判定未成交", symbol)
		res.emit(types.NewEvent(types.EventOrderFailed, types.SeverityWarn, "unconfirmed submit not found at broker").
			WithSymbol(symbol).
			WithField("op", "submit_order").
			WithField("direction", string(pe.req.Direction)).
			WithField("volume", pe.req.Volume))
	}
	return res
}

// sync 用券商数据刷新已确认持仓，并识别结果未知的分批平仓。
func (m *Manager) sync(p *types.Position, bp types.BrokerPosition) {
	if bp.CurrentPrice > 0 {
		p.CurrentPrice = bp.CurrentPrice
	}
	p.Profit = bp.Profit
	p.StopLoss = bp.StopLoss
	p.TakeProfit = bp.TakeProfit
	if bp.Volume > 0 && bp.Volume < p.Volume-volumeTolerance {
		logger.Infof("[position] %s %s 券商手数 %.2f 小于本地 %.2f，按已分批处理", p.Symbol, p.Ticket, bp.Volume, p.Volume)
		p.Volume = bp.Volume
		if !p.PartialDone {
			p.PartialDone = true
			p.PendingBreakeven = true
			if p.Phase == types.PhaseOpen {
				p.Phase = types.PhasePartiallyClosed
			}
		}
	}
	if p.Phase == types.PhaseOpening || p.Phase == types.PhaseNone {
		p.Phase = types.PhaseOpen
	}
}

func (m *Manager) closedAtBroker(ctx context.Context, p *types.Position) Result {
	reason := ReasonStopTarget
	if p.Phase == types.PhaseClosing && p.CloseReason != "" {
		reason = p.CloseReason
	}
	price, profit, at := p.CurrentPrice, p.RealizedProfit+p.Profit, m.nowFn()
	if dh, ok := m.broker.(broker.DealHistory); ok {
		deal, found, err := dh.ClosedDeal(ctx, p.Ticket)
		switch {
		case err != nil:
			logger.Warnf("[position] 查询 %s 成交记录失败: %v", p.Ticket, err)
		case found:
			if deal.Price > 0 {
				price = deal.Price
			}
			profit = deal.Profit
			at = nonZeroTime(deal.Time, at)
		}
	}
	return m.finish(p, price, profit, at, reason, "")
}
