package telegram

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/jpillora/backoff"

	"alphadesk/internal/engine"
	"alphadesk/internal/logger"
	"alphadesk/internal/state"
)

// Controller 是远程通道可用的引擎命令集合。
type Controller interface {
	Start(source string) engine.Ack
	Stop(source string) engine.Ack
	CloseAll(source string) engine.Ack
	Status() state.Snapshot
}

const source = "telegram"

const helpText = `可用命令:
/status - 查看引擎状态
/start - 开始交易
/stop - 停止交易（已有持仓继续管理）
/close_all - 下一个 tick 平掉全部持仓
/help - 显示本帮助`

// Bot 轮询 getUpdates，只服务配置的会话。
type Bot struct {
	client      *Client
	ctl         Controller
	chatID      string
	pollTimeout int
	offset      int64
	nowFn       func() time.Time
}

func NewBot(client *Client, ctl Controller, chatID string, pollTimeout int) *Bot {
	if pollTimeout <= 0 {
		pollTimeout = 30
	}
	return &Bot{
		client:      client,
		ctl:         ctl,
		chatID:      strings.TrimSpace(chatID),
		pollTimeout: pollTimeout,
		nowFn:       time.Now,
	}
}

// Run 持续长轮询直到 ctx 取消；网络错误按退避重试。
func (b *Bot) Run(ctx context.Context) error {
	bo := &backoff.Backoff{Min: time.Second, Max: time.Minute, Factor: 2}
	logger.Infof("[telegram] 开始监听 chat=%s", b.chatID)
	for {
		if ctx.Err() != nil {
			return nil
		}
		updates, err := b.client.GetUpdates(ctx, b.offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait := bo.Duration()
			logger.Warnf("[telegram] getUpdates 失败，%s 后重试: %v", wait, err)
			if !sleepCtx(ctx, wait) {
				return nil
			}
			continue
		}
		bo.Reset()
		for _, u := range updates {
			b.offset = u.ID + 1
			b.dispatch(ctx, u)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, u Update) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[telegram] 处理消息 panic: %v\n%s", r, debug.Stack())
		}
	}()
	if u.ChatID != b.chatID {
		logger.Warnf("[telegram] 忽略未授权会话 chat=%s user=%s", u.ChatID, u.From)
		return
	}
	reply, ok := b.Handle(u.Text)
	if !ok {
		return
	}
	if err := b.client.Send(ctx, u.ChatID, reply, false); err != nil {
		logger.Warnf("[telegram] 回复失败: %v", err)
	}
}

// Handle 解析一条命令并返回同步应答；非命令文本返回 false。
func (b *Bot) Handle(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	cmd := strings.ToLower(strings.Fields(text)[0])
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}
	switch cmd {
	case "/status":
		return FormatStatus(b.ctl.Status(), b.nowFn()), true
	case "/start":
		return ackText("start", b.ctl.Start(source)), true
	case "/stop":
		return ackText("stop", b.ctl.Stop(source)), true
	case "/close_all", "/closeall":
		return ackText("close_all", b.ctl.CloseAll(source)), true
	case "/help":
		return helpText, true
	}
	return "未知命令 " + cmd + "\n\n" + helpText, true
}

func ackText(name string, ack engine.Ack) string {
	if !ack.Accepted {
		return fmt.Sprintf("✗ %s 未受理: %s", name, ack.Message)
	}
	return fmt.Sprintf("✓ %s: %s\nref: %s", name, ack.Message, ack.CommandID)
}

// FormatStatus 把快照渲染为纯文本。
func FormatStatus(s state.Snapshot, now time.Time) string {
	var sb strings.Builder
	run := "已停止"
	if s.Running {
		run = "运行中"
	}
	fmt.Fprintf(&sb, "引擎: %s (配置 v%d)\n", run, s.ConfigVersion)
	if !s.BrokerAvailable {
		sb.WriteString("券商: 不可用\n")
	}
	fmt.Fprintf(&sb, "权益: %.2f  余额: %.2f\n", s.Account.Equity, s.Account.Balance)
	fmt.Fprintf(&sb, "当日盈亏: %.2f  回撤: %.2f%%\n", s.Risk.DailyPnL, s.Risk.Drawdown*100)
	if s.Risk.Halted(now) {
		fmt.Fprintf(&sb, "风控熔断: %s (至 %s)\n", s.Risk.HaltReason, s.Risk.HaltedUntil.Format("01-02 15:04"))
	}
	if len(s.Positions) == 0 {
		sb.WriteString("持仓: 无\n")
	} else {
		fmt.Fprintf(&sb, "持仓 (%d):\n", len(s.Positions))
		for _, p := range s.Positions {
			fmt.Fprintf(&sb, "  %s %s %.2f @ %.5f [%s] pnl=%.2f\n", p.Symbol, p.Direction, p.Volume, p.EntryPrice, p.Phase, p.Profit)
		}
	}
	if s.NextNews != nil {
		fmt.Fprintf(&sb, "下一新闻: %s %s %s\n", s.NextNews.Time.Format("01-02 15:04"), s.NextNews.Currency, s.NextNews.Title)
	}
	if !s.LastTick.IsZero() {
		fmt.Fprintf(&sb, "最近 tick: %s", s.LastTick.Format("15:04:05"))
	}
	return strings.TrimRight(sb.String(), "\n")
}
