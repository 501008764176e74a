package render

import (
	"math"
	"time"

	"gonum.org/v1/plot"
)

// maxLabelledDays is the widest span that still gets one labelled tick per day
// and 6-hour minor ticks. Wider spans thin the day ticks out and drop minors.
const maxLabelledDays = 14

// DayTicker marks midnights with a "02/01" label and every 6 hours with an
// unlabelled minor tick. Axis values are epoch seconds.
type DayTicker struct {
	Location *time.Location
}

var _ plot.Ticker = DayTicker{}

// Ticks implements plot.Ticker.
func (t DayTicker) Ticks(min, max float64) []plot.Tick {
	if min > max || math.IsInf(min, 0) || math.IsInf(max, 0) {
		return nil
	}
	loc := t.Location
	if loc == nil {
		loc = time.Local
	}

	lo := time.Unix(int64(math.Floor(min)), 0).In(loc)
	hi := time.Unix(int64(math.Ceil(max)), 0).In(loc)

	days := hi.Sub(lo).Hours() / 24
	dayStep := 1
	minor := true
	if days > maxLabelledDays {
		dayStep = int(math.Ceil(days / maxLabelledDays))
		minor = false
	}

	var ticks []plot.Tick
	add := func(ts time.Time, label string) {
		v := float64(ts.Unix())
		if v >= min && v <= max {
			ticks = append(ticks, plot.Tick{Value: v, Label: label})
		}
	}
	for d := time.Date(lo.Year(), lo.Month(), lo.Day(), 0, 0, 0, 0, loc); !d.After(hi); d = d.AddDate(0, 0, dayStep) {
		add(d, d.Format("02/01"))
		if !minor {
			continue
		}
		for h := 6; h < 24; h += 6 {
			add(time.Date(d.Year(), d.Month(), d.Day(), h, 0, 0, 0, loc), "")
		}
	}
	return ticks
}
