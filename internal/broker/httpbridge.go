package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"alphadesk/internal/types"
)

// HTTPBridge 对接一个 REST 形式的终端桥（例如 MT5 网关）。
//
//	GET    /market/{symbol}?timeframe=&count=
//	POST   /orders
//	PATCH  /positions/{ticket}
//	POST   /positions/{ticket}/close
//	GET    /positions
//	GET    /account
//	GET    /deals/{ticket}
type HTTPBridge struct {
	client *resty.Client
}

func NewHTTPBridge(baseURL, apiKey string, timeout time.Duration) (*HTTPBridge, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("broker.base_url 不能为空")
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		c.SetHeader("X-API-Key", apiKey)
	}
	return &HTTPBridge{client: c}, nil
}

func (h *HTTPBridge) Name() string { return "http" }

func (h *HTTPBridge) FetchContext(ctx context.Context, symbol, timeframe string, bars int) (types.MarketContext, error) {
	res, err := h.do(ctx, "fetch_context", http.MethodGet, "/market/{symbol}",
		h.client.R().
			SetPathParam("symbol", symbol).
			SetQueryParam("timeframe", timeframe).
			SetQueryParam("count", fmt.Sprint(bars)))
	if err != nil {
		return types.MarketContext{}, err
	}
	mc := types.MarketContext{
		Timestamp: res.Get("time").Time(),
		Symbol:    strings.ToUpper(symbol),
		Timeframe: timeframe,
		Bid:       res.Get("bid").Float(),
		Ask:       res.Get("ask").Float(),
	}
	mc.Price = (mc.Bid + mc.Ask) / 2
	if p := res.Get("price"); p.Exists() {
		mc.Price = p.Float()
	}
	if mc.Timestamp.IsZero() {
		mc.Timestamp = time.Now()
	}
	res.Get("bars").ForEach(func(_, b gjson.Result) bool {
		mc.Bars = append(mc.Bars, types.Bar{
			Time:   b.Get("time").Time(),
			Open:   b.Get("open").Float(),
			High:   b.Get("high").Float(),
			Low:    b.Get("low").Float(),
			Close:  b.Get("close").Float(),
			Volume: b.Get("volume").Float(),
		})
		return true
	})
	mc.Bars = types.TrimBars(mc.Bars, bars)
	return mc, nil
}

func (h *HTTPBridge) SubmitOrder(ctx context.Context, req OrderRequest) (Fill, error) {
	res, err := h.do(ctx, "submit_order", http.MethodPost, "/orders", h.client.R().SetBody(req))
	if err != nil {
		return Fill{}, err
	}
	f := Fill{
		Ticket: res.Get("ticket").String(),
		Price:  res.Get("price").Float(),
		Volume: res.Get("volume").Float(),
		Time:   res.Get("time").Time(),
	}
	if f.Ticket == "" {
		return Fill{}, &types.BrokerConnectivityError{Op: "submit_order", Err: fmt.Errorf("response without ticket")}
	}
	if f.Volume <= 0 {
		f.Volume = req.Volume
	}
	return f, nil
}

func (h *HTTPBridge) ModifyOrder(ctx context.Context, ticket string, stopLoss, takeProfit float64) error {
	_, err := h.do(ctx, "modify_order", http.MethodPatch, "/positions/{ticket}",
		h.client.R().
			SetPathParam("ticket", ticket).
			SetBody(map[string]float64{"sl": stopLoss, "tp": takeProfit}))
	return err
}

func (h *HTTPBridge) CloseOrder(ctx context.Context, ticket string, volume float64) (CloseResult, error) {
	res, err := h.do(ctx, "close_order", http.MethodPost, "/positions/{ticket}/close",
		h.client.R().
			SetPathParam("ticket", ticket).
			SetBody(map[string]float64{"volume": volume}))
	if err != nil {
		return CloseResult{}, err
	}
	return parseDeal(ticket, res), nil
}

func (h *HTTPBridge) ListPositions(ctx context.Context) ([]types.BrokerPosition, error) {
	res, err := h.do(ctx, "list_positions", http.MethodGet, "/positions", h.client.R())
	if err != nil {
		return nil, err
	}
	list := res
	if res.IsObject() {
		list = res.Get("positions")
	}
	out := make([]types.BrokerPosition, 0)
	list.ForEach(func(_, p gjson.Result) bool {
		out = append(out, types.BrokerPosition{
			Ticket:       p.Get("ticket").String(),
			Symbol:       strings.ToUpper(p.Get("symbol").String()),
			Direction:    parseSide(p.Get("side").String()),
			Volume:       p.Get("volume").Float(),
			EntryPrice:   p.Get("entry_price").Float(),
			StopLoss:     p.Get("sl").Float(),
			TakeProfit:   p.Get("tp").Float(),
			CurrentPrice: p.Get("price").Float(),
			Profit:       p.Get("profit").Float(),
			OpenedAt:     p.Get("opened_at").Time(),
		})
		return true
	})
	return out, nil
}

func (h *HTTPBridge) AccountSnapshot(ctx context.Context) (types.AccountSnapshot, error) {
	res, err := h.do(ctx, "account_snapshot", http.MethodGet, "/account", h.client.R())
	if err != nil {
		return types.AccountSnapshot{}, err
	}
	return types.AccountSnapshot{
		Equity:    res.Get("equity").Float(),
		Balance:   res.Get("balance").Float(),
		DailyPnL:  res.Get("daily_pnl").Float(),
		UpdatedAt: time.Now(),
	}, nil
}

func (h *HTTPBridge) ClosedDeal(ctx context.Context, ticket string) (CloseResult, bool, error) {
	res, err := h.do(ctx, "closed_deal", http.MethodGet, "/deals/{ticket}",
		h.client.R().SetPathParam("ticket", ticket))
	if err != nil {
		var rej *types.BrokerRejectionError
		if errors.As(err, &rej) && rej.Code == CodeNotFound {
			return CloseResult{}, false, nil
		}
		return CloseResult{}, false, err
	}
	return parseDeal(ticket, res), true, nil
}

// do 执行请求并把传输失败与 5xx 归为连接错误，4xx 归为拒绝。
func (h *HTTPBridge) do(ctx context.Context, op, method, path string, req *resty.Request) (gjson.Result, error) {
	resp, err := req.SetContext(ctx).Execute(method, path)
	if err != nil {
		return gjson.Result{}, &types.BrokerConnectivityError{Op: op, Err: err}
	}
	body := resp.Body()
	status := resp.StatusCode()
	if status >= 500 {
		return gjson.Result{}, &types.BrokerConnectivityError{Op: op, Err: fmt.Errorf("status %d: %s", status, truncate(body))}
	}
	if status >= 400 {
		parsed := gjson.ParseBytes(body)
		code := parsed.Get("code").String()
		if code == "" {
			code = fmt.Sprintf("HTTP_%d", status)
			if status == http.StatusNotFound {
				code = CodeNotFound
			}
		}
		reason := parsed.Get("message").String()
		if reason == "" {
			reason = truncate(body)
		}
		return gjson.Result{}, &types.BrokerRejectionError{Op: op, Code: code, Reason: reason}
	}
	if len(body) == 0 {
		return gjson.Result{}, nil
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, &types.BrokerConnectivityError{Op: op, Err: fmt.Errorf("invalid json: %s", truncate(body))}
	}
	return gjson.ParseBytes(body), nil
}

func parseDeal(ticket string, res gjson.Result) CloseResult {
	out := CloseResult{
		Ticket:    ticket,
		Price:     res.Get("price").Float(),
		Volume:    res.Get("volume").Float(),
		Profit:    res.Get("profit").Float(),
		Remaining: res.Get("remaining").Float(),
		Time:      res.Get("time").Time(),
	}
	if t := res.Get("ticket").String(); t != "" {
		out.Ticket = t
	}
	return out
}

func parseSide(s string) types.Direction {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SELL", "SHORT":
		return types.DirectionSell
	default:
		return types.DirectionBuy
	}
}

func truncate(b []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
