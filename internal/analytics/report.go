package analytics

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorEquity        = "#3b82f6"

	chartWidthPx  = 1200
	chartHeightPx = 420
)

// RenderReport 输出包含权益曲线与每日盈亏的 HTML 页面。
func RenderReport(w io.Writer, s Summary, title string) error {
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(equityChart(s, title), dailyChart(s))
	return page.Render(w)
}

func initOpts() opts.Initialization {
	return opts.Initialization{
		Theme:           types.ThemeWesteros,
		Width:           fmt.Sprintf("%dpx", chartWidthPx),
		Height:          fmt.Sprintf("%dpx", chartHeightPx),
		BackgroundColor: colorBackground,
	}
}

func equityChart(s Summary, title string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts()),
		charts.WithTitleOpts(opts.Title{
			Title:         title,
			Subtitle:      subtitle(s),
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	x := make([]string, 0, len(s.EquityCurve))
	data := make([]opts.LineData, 0, len(s.EquityCurve))
	for _, p := range s.EquityCurve {
		x = append(x, p.Time.UTC().Format("01-02 15:04"))
		data = append(data, opts.LineData{Value: p.Equity})
	}
	line.SetXAxis(x)
	line.AddSeries("Equity", data, charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}))
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	return line
}

func dailyChart(s Summary) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts()),
		charts.WithTitleOpts(opts.Title{Title: "Daily PnL", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary}}),
	)
	x := make([]string, 0, len(s.Daily))
	data := make([]opts.BarData, 0, len(s.Daily))
	for _, d := range s.Daily {
		color := colorBull
		if d.PnL < 0 {
			color = colorBear
		}
		x = append(x, d.Day)
		data = append(data, opts.BarData{Value: d.PnL, ItemStyle: &opts.ItemStyle{Color: color}})
	}
	bar.SetXAxis(x)
	bar.AddSeries("PnL", data)
	return bar
}

func subtitle(s Summary) string {
	pf := "n/a"
	if v := float64(s.ProfitFactor); !math.IsNaN(v) {
		pf = fmt.Sprintf("%.2f", v)
		if math.IsInf(v, 1) {
			pf = "∞"
		}
	}
	return fmt.Sprintf("trades %d | win %.1f%% | PF %s | net %.2f | max DD %.2f%%",
		s.TotalTrades, s.WinRate, pf, s.NetProfit, s.MaxDrawdownPct)
}
