package risk

import "time"

// TradingDay 返回 now 所在交易日的键（券商时区日期）与起止时间。
// 交易日从 startHour 开始，startHour 之前的时刻归属前一交易日。
func TradingDay(now time.Time, loc *time.Location, startHour int) (key string, start, end time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	start = time.Date(local.Year(), local.Month(), local.Day(), startHour, 0, 0, 0, loc)
	if local.Before(start) {
		start = start.AddDate(0, 0, -1)
	}
	end = start.AddDate(0, 0, 1)
	return start.Format("2006-01-02"), start, end
}
