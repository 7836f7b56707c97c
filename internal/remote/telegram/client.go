// Package telegram 通过 Bot API 提供远程控制通道与文本推送。
package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

const DefaultAPIBase = "https://api.telegram.org"

// Update 是 getUpdates 返回的一条文本消息。
type Update struct {
	ID     int64
	ChatID string
	From   string
	Text   string
}

// Client 是精简的 Bot API 客户端。
type Client struct {
	http    *resty.Client
	token   string
	chatID  string
	retries int
	wait    time.Duration
}

func NewClient(apiBase, token, chatID string) *Client {
	apiBase = strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	return &Client{
		http:    resty.New().SetBaseURL(apiBase).SetHeader("Content-Type", "application/json"),
		token:   token,
		chatID:  chatID,
		retries: 3,
		wait:    time.Second,
	}
}

// SendText 向配置的会话发送 Markdown 文本（带最多 3 次重试）。
func (c *Client) SendText(ctx context.Context, text string) error {
	return c.Send(ctx, c.chatID, text, true)
}

// Send 发送消息。Markdown 解析失败时退回纯文本重发一次。
func (c *Client) Send(ctx context.Context, chatID, text string, markdown bool) error {
	if c.token == "" || chatID == "" {
		return fmt.Errorf("telegram bot token or chat id missing")
	}
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if markdown {
		payload["parse_mode"] = "Markdown"
	}
	var lastErr error
	for i := 0; i < c.retries; i++ {
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(payload).
			Post(c.path("sendMessage"))
		switch {
		case err != nil:
			lastErr = err
		case resp.IsSuccess():
			return nil
		case resp.StatusCode() == 400 && markdown:
			return c.Send(ctx, chatID, text, false)
		case resp.StatusCode()/100 == 4 && resp.StatusCode() != 429:
			return fmt.Errorf("telegram status=%d: %s", resp.StatusCode(), gjson.GetBytes(resp.Body(), "description").String())
		default:
			lastErr = fmt.Errorf("telegram status=%d", resp.StatusCode())
		}
		if !sleepCtx(ctx, time.Duration(i+1)*c.wait) {
			return ctx.Err()
		}
	}
	return lastErr
}

// GetUpdates 长轮询新消息；timeout 为服务端挂起的秒数。
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	if c.token == "" {
		return nil, fmt.Errorf("telegram bot token missing")
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"offset":          fmt.Sprintf("%d", offset),
			"timeout":         fmt.Sprintf("%d", timeout),
			"allowed_updates": `["message"]`,
		}).
		Get(c.path("getUpdates"))
	if err != nil {
		return nil, err
	}
	body := gjson.ParseBytes(resp.Body())
	if !resp.IsSuccess() || !body.Get("ok").Bool() {
		return nil, fmt.Errorf("telegram getUpdates status=%d: %s", resp.StatusCode(), body.Get("description").String())
	}
	var out []Update
	body.Get("result").ForEach(func(_, u gjson.Result) bool {
		msg := u.Get("message")
		out = append(out, Update{
			ID:     u.Get("update_id").Int(),
			ChatID: msg.Get("chat.id").String(),
			From:   msg.Get("from.username").String(),
			Text:   msg.Get("text").String(),
		})
		return true
	})
	return out, nil
}

func (c *Client) path(method string) string {
	return "/bot" + c.token + "/" + method
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
