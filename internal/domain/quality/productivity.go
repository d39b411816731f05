package quality

import (
	"time"

	"github.com/okian/devpulse/internal/domain/model"
	"github.com/okian/devpulse/internal/domain/stats"
)

func (e *Engine) lateNight(hour int) bool {
	if e.lateNightStart > e.lateNightEnd {
		return hour >= e.lateNightStart || hour < e.lateNightEnd
	}
	return hour >= e.lateNightStart && hour < e.lateNightEnd
}

func (e *Engine) productivity(w *window) model.ProductivityMetrics {
	if len(w.commits) == 0 {
		return model.ProductivityMetrics{Status: model.StatusInsufficient}
	}
	p := model.ProductivityMetrics{
		Status:    model.StatusOK,
		Commits:   len(w.commits),
		ByWeekday: make(map[string]int),
	}

	var weekend, late int
	var byDay [7]int
	var byHour [24]int
	days := make(map[time.Time]struct{})
	for _, c := range w.commits {
		t := c.Timestamp.In(e.loc)
		wd := t.Weekday()
		byDay[wd]++
		byHour[t.Hour()]++
		if wd == time.Saturday || wd == time.Sunday {
			weekend++
		}
		if e.lateNight(t.Hour()) {
			late++
		}
		y, m, d := t.Date()
		days[time.Date(y, m, d, 0, 0, 0, 0, e.loc)] = struct{}{}
	}

	n := float64(len(w.commits))
	p.WeekendPct = float64(weekend) / n * 100
	p.LateNightPct = float64(late) / n * 100
	p.WorkPatternScore = stats.Clamp(100-(p.WeekendPct+p.LateNightPct), 0, 100)
	p.ActiveDays = len(days)
	p.Streak = longestStreak(days)

	// Ties go to the earlier weekday (Sunday first) and the earlier hour.
	best := time.Sunday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if byDay[d] > 0 {
			p.ByWeekday[d.String()] = byDay[d]
		}
		if byDay[d] > byDay[best] {
			best = d
		}
	}
	p.MostProductiveDay = best.String()
	for h := range byHour {
		if byHour[h] > byHour[p.MostProductiveHour] {
			p.MostProductiveHour = h
		}
	}
	return p
}

// longestStreak returns the longest run of consecutive calendar days.
func longestStreak(days map[time.Time]struct{}) int {
	longest := 0
	for d := range days {
		if _, hasPrev := days[d.AddDate(0, 0, -1)]; hasPrev {
			continue
		}
		run := 1
		for next := d.AddDate(0, 0, 1); ; next = next.AddDate(0, 0, 1) {
			if _, ok := days[next]; !ok {
				break
			}
			run++
		}
		longest = max(longest, run)
	}
	return longest
}
