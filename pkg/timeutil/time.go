package timeutil

import (
	"fmt"
	"strconv"
	"time"

	"github.com/FleetAI/fleet-console/pkg/types"
)

// ParseTimeRange parses time range strings like "2h", "2d", "30m", "7d"
// Returns duration or error
func ParseTimeRange(timeRange string) (time.Duration, error) {
	duration, err := time.ParseDuration(timeRange)
	if err == nil {
		return duration, nil
	}

	if len(timeRange) > 1 && timeRange[len(timeRange)-1] == 'd' {
		days := timeRange[:len(timeRange)-1]
		if numDays, err := strconv.Atoi(days); err == nil {
			return time.Duration(numDays) * 24 * time.Hour, nil
		}
	}

	return 0, fmt.Errorf("invalid time range format: use formats like '2h', '30m', '2d', '7d'")
}

// ParseTimestamp accepts RFC3339, a plain date, or milliseconds since epoch.
func ParseTimestamp(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q: use RFC3339, YYYY-MM-DD or epoch milliseconds", s)
}

// ResolveDateRange builds a DateRange from tool arguments.
// "timeRange" (e.g. "7d") takes precedence over "start"/"end". It returns nil
// when no range was requested.
func ResolveDateRange(args map[string]any, now time.Time) (*types.DateRange, error) {
	if timeRange, ok := args["timeRange"].(string); ok && timeRange != "" {
		d, err := ParseTimeRange(timeRange)
		if err != nil {
			return nil, err
		}
		return &types.DateRange{Start: now.Add(-d), End: now}, nil
	}

	startStr, _ := args["start"].(string)
	endStr, _ := args["end"].(string)
	if startStr == "" && endStr == "" {
		return nil, nil
	}

	r := &types.DateRange{End: now}
	if startStr != "" {
		t, err := ParseTimestamp(startStr)
		if err != nil {
			return nil, err
		}
		r.Start = t
	} else {
		r.Start = now.Add(-24 * time.Hour)
	}
	if endStr != "" {
		t, err := ParseTimestamp(endStr)
		if err != nil {
			return nil, err
		}
		r.End = t
	}
	if r.End.Before(r.Start) {
		return nil, fmt.Errorf("end %s is before start %s", r.End.Format(time.RFC3339), r.Start.Format(time.RFC3339))
	}
	return r, nil
}
