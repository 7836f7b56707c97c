package news

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"alphadesk/internal/types"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

// ForexFactorySource 抓取 ForexFactory 周日历页面，作为 FMP 的后备来源。
type ForexFactorySource struct {
	client *resty.Client
	url    string
	loc    *time.Location
	now    func() time.Time
}

// NewForexFactorySource 的 loc 是页面显示时间所用时区，默认纽约。
func NewForexFactorySource(url string, loc *time.Location) *ForexFactorySource {
	client := resty.New()
	client.SetTimeout(15 * time.Second)
	client.SetHeader("User-Agent", "Mozilla/5.0 (compatible; alphadesk/1.0)")
	if loc == nil {
		if ny, err := time.LoadLocation("America/New_York"); err == nil {
			loc = ny
		} else {
			loc = time.UTC
		}
	}
	return &ForexFactorySource{client: client, url: url, loc: loc, now: time.Now}
}

func (s *ForexFactorySource) Name() string { return "forexfactory" }

func (s *ForexFactorySource) Fetch(ctx context.Context, from, to time.Time) ([]types.NewsEvent, error) {
	resp, err := s.client.R().SetContext(ctx).Get(s.url)
	if err != nil {
		return nil, fmt.Errorf("forexfactory request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("forexfactory HTTP %d", resp.StatusCode())
	}
	events, err := parseForexFactory(resp.Body(), s.now().In(s.loc).Year(), s.loc)
	if err != nil {
		return nil, err
	}
	out := events[:0]
	for _, ev := range events {
		if !ev.Time.Before(from) && !ev.Time.After(to) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// parseForexFactory 解析 calendar__row 表格。日期只出现在每天第一行，时间为空的行沿用上一行。
func parseForexFactory(body []byte, year int, loc *time.Location) ([]types.NewsEvent, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	var (
		out     []types.NewsEvent
		day     time.Time
		lastClk string
	)
	doc.Find("tr.calendar__row").Each(func(_ int, row *goquery.Selection) {
		if d := strings.TrimSpace(row.Find("td.calendar__date").Text()); d != "" {
			if parsed, ok := parseFFDate(d, year, loc); ok {
				day = parsed
				lastClk = ""
			}
		}
		if day.IsZero() {
			return
		}
		clk := strings.ToLower(strings.TrimSpace(row.Find("td.calendar__time").Text()))
		if clk == "" {
			clk = lastClk
		}
		lastClk = clk
		hm, err := time.Parse("3:04pm", clk)
		if err != nil {
			return
		}
		impact, ok := ffImpact(row.Find("td.calendar__impact"))
		if !ok {
			return
		}
		title := strings.TrimSpace(row.Find("td.calendar__event").Text())
		if title == "" {
			return
		}
		ts := time.Date(day.Year(), day.Month(), day.Day(), hm.Hour(), hm.Minute(), 0, 0, loc)
		out = append(out, types.NewsEvent{
			Time:     ts.UTC(),
			Currency: strings.TrimSpace(row.Find("td.calendar__currency").Text()),
			Title:    title,
			Impact:   impact,
			Source:   "forexfactory",
		})
	})
	return out, nil
}

// parseFFDate 接受 "Mon Jan 8" / "MonJan 8" 样式。
func parseFFDate(raw string, year int, loc *time.Location) (time.Time, bool) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return time.Time{}, false
	}
	joined := strings.Join(fields, " ")
	if len(fields[0]) > 3 {
		joined = fields[0][:3] + " " + fields[0][3:] + " " + strings.Join(fields[1:], " ")
	}
	parsed, err := time.ParseInLocation("Mon Jan 2 2006", fmt.Sprintf("%s %d", strings.TrimSpace(joined), year), loc)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

func ffImpact(cell *goquery.Selection) (types.Impact, bool) {
	span := cell.Find("span")
	class, _ := span.Attr("class")
	switch {
	case strings.Contains(class, "impact-red"):
		return types.ImpactHigh, true
	case strings.Contains(class, "impact-ora"):
		return types.ImpactMedium, true
	case strings.Contains(class, "impact-yel"):
		return types.ImpactLow, true
	}
	return 0, false
}
