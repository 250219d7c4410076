package analytics

import (
	"fmt"
	"strings"
	"time"
)

// naiveLayouts covers ISO timestamps without a UTC offset; they are
// interpreted in the requested timezone.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseSessionTime(value string, loc *time.Location) (time.Time, error) {
	if value == "" {
		return time.Now().In(loc), nil
	}
	value = strings.ReplaceAll(value, "Z", "+00:00")
	if ts, err := time.Parse("2006-01-02T15:04:05.999999999-07:00", value); err == nil {
		return ts.In(loc), nil
	}
	for _, layout := range naiveLayouts {
		if ts, err := time.ParseInLocation(layout, value, loc); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q", value)
}

// daySeconds is the time of day as seconds since midnight, fractional
// part included so window edges compare the way full timestamps do.
func daySeconds(ts time.Time) float64 {
	return float64(ts.Hour()*3600+ts.Minute()*60+ts.Second()) + float64(ts.Nanosecond())/1e9
}

func clock(h, m, s int) float64 { return float64(h*3600 + m*60 + s) }

func runSessionStatus(payload []byte) (map[string]any, error) {
	var req struct {
		Timezone  string `json:"timezone"`
		Timestamp string `json:"timestamp"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	tzName := req.Timezone
	if tzName == "" {
		tzName = "Europe/Moscow"
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tzName, err)
	}
	ts, err := parseSessionTime(req.Timestamp, loc)
	if err != nil {
		return nil, err
	}

	if wd := ts.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return map[string]any{
			"timestamp":   ts.Format(time.RFC3339),
			"session":     "weekend",
			"is_tradable": false,
			"risk":        "none",
		}, nil
	}

	t := daySeconds(ts)
	inRange := func(start, end float64) bool { return start <= t && t <= end }

	var (
		session    string
		isTradable bool
		risk       string
	)
	switch {
	case inRange(clock(14, 0, 0), clock(14, 5, 0)):
		session, isTradable, risk = "clearing", false, "none"
	case inRange(clock(18, 40, 0), clock(19, 0, 0)):
		session, isTradable, risk = "clearing", false, "none"
	case inRange(clock(9, 50, 0), clock(10, 0, 0)):
		session, isTradable, risk = "auction", false, "low"
	case inRange(clock(10, 0, 0), clock(18, 39, 59)):
		session, isTradable, risk = "main", true, "normal"
	case inRange(clock(19, 5, 0), clock(23, 50, 0)):
		session, isTradable, risk = "evening", true, "high"
	default:
		session, isTradable, risk = "off", false, "none"
	}

	return map[string]any{
		"timestamp":             ts.Format(time.RFC3339),
		"session":               session,
		"is_tradable":           isTradable,
		"risk":                  risk,
		"forts_new_day_started": t >= clock(19, 5, 0),
	}, nil
}
