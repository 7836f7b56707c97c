package news

import (
	"context"
	"fmt"
	"strings"
	"time"

	"alphadesk/internal/types"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// fmpTimeLayout 是 FMP 返回的 UTC 时间格式。
const fmpTimeLayout = "2006-01-02 15:04:05"

// FMPSource 读取 financialmodelingprep 经济日历。
type FMPSource struct {
	client *resty.Client
	apiKey string
}

func NewFMPSource(baseURL, apiKey string) *FMPSource {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetTimeout(10 * time.Second)
	return &FMPSource{client: client, apiKey: apiKey}
}

func (s *FMPSource) Name() string { return "fmp" }

func (s *FMPSource) Fetch(ctx context.Context, from, to time.Time) ([]types.NewsEvent, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"from":   from.UTC().Format("2006-01-02"),
			"to":     to.UTC().Format("2006-01-02"),
			"apikey": s.apiKey,
		}).
		Get("/api/v4/economic-calendar")
	if err != nil {
		return nil, fmt.Errorf("fmp request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("fmp HTTP %d", resp.StatusCode())
	}
	return parseFMP(resp.Body())
}

func parseFMP(body []byte) ([]types.NewsEvent, error) {
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		if msg := root.Get("Error Message").String(); msg != "" {
			return nil, fmt.Errorf("fmp error: %s", msg)
		}
		return nil, fmt.Errorf("fmp: unexpected payload")
	}
	var out []types.NewsEvent
	root.ForEach(func(_, item gjson.Result) bool {
		ts, err := time.ParseInLocation(fmpTimeLayout, item.Get("date").String(), time.UTC)
		if err != nil {
			return true
		}
		impact, err := types.ParseImpact(item.Get("impact").String())
		if err != nil {
			impact = types.ImpactLow
		}
		currency := item.Get("currency").String()
		if currency == "" {
			currency = item.Get("country").String()
		}
		out = append(out, types.NewsEvent{
			Time:     ts,
			Currency: currency,
			Title:    item.Get("event").String(),
			Impact:   impact,
			Source:   "fmp",
		})
		return true
	})
	return out, nil
}
