package apihttp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"alphadesk/internal/analytics"
	"alphadesk/internal/config"
	"alphadesk/internal/engine"
	"alphadesk/internal/logger"
	"alphadesk/internal/store"
	"alphadesk/internal/types"

	"github.com/gin-gonic/gin"
)

const (
	commandSource     = "api"
	maxConfigBody     = 1 << 20
	defaultListLimit  = 100
	maxListLimit      = 1000
	analyticsMaxTrade = 10000
)

type handlers struct {
	cfg ServerConfig
}

func (h *handlers) register(g *gin.RouterGroup) {
	g.GET("/status", h.status)
	g.POST("/start", h.start)
	g.POST("/stop", h.stop)
	g.POST("/close_trade", h.closeTrade)
	g.POST("/close_all", h.closeAll)
	g.GET("/config", h.getConfig)
	g.POST("/config", h.postConfig)
	g.GET("/history", h.history)
	g.GET("/analytics", h.analytics)
	g.GET("/analytics/report", h.analyticsReport)
	g.GET("/events", h.events)
	g.GET("/positions", h.positions)
	g.GET("/logs", h.logs)
	g.POST("/logout", h.logout)
}

type loginRequest struct {
	Password string `json:"password"`
}

func (h *handlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password is required"})
		return
	}
	token, expires, err := h.cfg.Auth.Login(c.ClientIP(), req.Password)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			logger.Warnf("[api] 登录过于频繁 ip=%s", c.ClientIP())
			abortError(c, http.StatusTooManyRequests, err)
			return
		}
		logger.Warnf("[api] 登录失败 ip=%s", c.ClientIP())
		abortError(c, http.StatusUnauthorized, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": expires})
}

func (h *handlers) logout(c *gin.Context) {
	h.cfg.Auth.Revoke(bearerToken(c.GetHeader("Authorization")))
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

// logs 返回最近的日志行，lines 默认 100，最多 1000。
func (h *handlers) logs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"lines": logger.Tail(parseLimit(c.Query("lines"), defaultListLimit))})
}

func (h *handlers) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.cfg.Control.Status())
}

func (h *handlers) start(c *gin.Context) {
	writeAck(c, h.cfg.Control.Start(commandSource))
}

func (h *handlers) stop(c *gin.Context) {
	writeAck(c, h.cfg.Control.Stop(commandSource))
}

type closeTradeRequest struct {
	Ticket string `json:"ticket"`
	Symbol string `json:"symbol"`
}

func (h *handlers) closeTrade(c *gin.Context) {
	var req closeTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}
	writeAck(c, h.cfg.Control.CloseTicket(commandSource, req.Ticket, req.Symbol))
}

func (h *handlers) closeAll(c *gin.Context) {
	writeAck(c, h.cfg.Control.CloseAll(commandSource))
}

func (h *handlers) getConfig(c *gin.Context) {
	snap := h.cfg.Control.Status()
	c.JSON(http.StatusOK, gin.H{
		"config":  snap.Config,
		"version": snap.ConfigVersion,
		"staged":  snap.ConfigStaged,
	})
}

func (h *handlers) postConfig(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxConfigBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg, err := config.ParseEngineConfigJSON(raw)
	if err != nil {
		h.rejectConfig(c, err)
		return
	}
	ctx := c.Request.Context()
	id, err := h.cfg.Store.SaveEngineConfig(ctx, cfg, commandSource)
	if err != nil {
		logger.Errorf("[api] 保存引擎配置失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if h.cfg.EnginePath != "" {
		if err := config.SaveEngineConfig(h.cfg.EnginePath, cfg); err != nil {
			logger.Warnf("[api] 写回引擎配置文件失败 path=%s err=%v", h.cfg.EnginePath, err)
		}
	}
	if h.cfg.Stager != nil {
		h.cfg.Stager.StageConfig(cfg)
	}
	logger.Infof("[api] 引擎配置已暂存 id=%d ip=%s", id, c.ClientIP())
	c.JSON(http.StatusAccepted, gin.H{"id": id, "staged": true, "message": "config applies at next tick"})
}

func (h *handlers) rejectConfig(c *gin.Context, err error) {
	var many types.ConfigValidationErrors
	fields := map[string]string{}
	if errors.As(err, &many) {
		fields = many.Fields()
	} else {
		var one *types.ConfigValidationError
		if errors.As(err, &one) {
			fields[one.Field] = one.Reason
		}
	}
	if h.cfg.Events != nil {
		h.cfg.Events.Publish(types.NewEvent(types.EventConfigRejected, types.SeverityWarn, err.Error()).
			WithField("source", commandSource))
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "fields": fields})
}

func (h *handlers) history(c *gin.Context) {
	q, err := historyQuery(c, defaultListLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	trades, err := h.cfg.Store.TradeHistory(c.Request.Context(), q)
	if err != nil {
		logger.Errorf("[api] 查询历史成交失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if trades == nil {
		trades = []types.TradeRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

func (h *handlers) summary(c *gin.Context) (analytics.Summary, bool) {
	q, err := historyQuery(c, analyticsMaxTrade)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return analytics.Summary{}, false
	}
	trades, err := h.cfg.Store.TradeHistory(c.Request.Context(), q)
	if err != nil {
		logger.Errorf("[api] 查询历史成交失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return analytics.Summary{}, false
	}
	initial, err := h.initialBalance(c, trades)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return analytics.Summary{}, false
	}
	return analytics.Compute(trades, initial), true
}

// initialBalance 优先取 initial_balance 参数，否则用当前余额扣除区间内已实现盈亏。
func (h *handlers) initialBalance(c *gin.Context, trades []types.TradeRecord) (float64, error) {
	if raw := strings.TrimSpace(c.Query("initial_balance")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 || math.IsInf(v, 0) {
			return 0, fmt.Errorf("initial_balance must be a positive number")
		}
		return v, nil
	}
	balance := h.cfg.Control.Status().Account.Balance
	for _, t := range trades {
		balance -= t.Profit
	}
	return balance, nil
}

func (h *handlers) analytics(c *gin.Context) {
	s, ok := h.summary(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *handlers) analyticsReport(c *gin.Context) {
	s, ok := h.summary(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := analytics.RenderReport(&buf, s, "alphadesk performance"); err != nil {
		logger.Errorf("[api] 渲染报告失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (h *handlers) events(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), defaultListLimit)
	evs, err := h.cfg.Store.RecentEvents(c.Request.Context(), limit)
	if err != nil {
		logger.Errorf("[api] 查询事件失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if evs == nil {
		evs = []types.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": evs, "count": len(evs)})
}

func (h *handlers) positions(c *gin.Context) {
	snap := h.cfg.Control.Status()
	c.JSON(http.StatusOK, gin.H{"positions": snap.Positions, "count": len(snap.Positions), "as_of": snap.LastTick})
}

func historyQuery(c *gin.Context, def int) (store.HistoryQuery, error) {
	q := store.HistoryQuery{
		Symbol: strings.ToUpper(strings.TrimSpace(c.Query("symbol"))),
		Limit:  parseLimit(c.Query("limit"), def),
	}
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		t, err := parseSince(raw)
		if err != nil {
			return q, err
		}
		q.Since = t
	}
	return q, nil
}

func parseSince(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("since must be RFC3339 or YYYY-MM-DD")
}

func parseLimit(raw string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		n = def
	}
	if n > maxListLimit && def <= maxListLimit {
		n = maxListLimit
	}
	return n
}

func writeAck(c *gin.Context, ack engine.Ack) {
	switch {
	case ack.Accepted:
		c.JSON(http.StatusAccepted, ack)
	case ack.CommandID == "":
		c.JSON(http.StatusBadRequest, ack)
	default:
		c.JSON(http.StatusServiceUnavailable, ack)
	}
}

func abortError(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
