package request

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ndewijer/portfolio-snapshot/internal/model"
)

// DefaultRangeDays is the lookback used when a date range has no start.
const DefaultRangeDays = 30

// ParseDateRange extracts a start/end range from query parameters.
// Both are optional: end defaults to now and start to DefaultRangeDays
// before end. A date-only end (YYYY-MM-DD) includes that whole day.
//
// Returns an error if a value cannot be parsed or end is before start.
func ParseDateRange(startParam, endParam string, now time.Time) (start, end time.Time, err error) {
	end = now.UTC()
	if endParam != "" {
		end, err = parseFilterTime(endParam)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end format: %w", err)
		}
		if isDateOnly(endParam) {
			end = end.Add(24*time.Hour - time.Nanosecond)
		}
	}

	start = end.AddDate(0, 0, -DefaultRangeDays)
	if startParam != "" {
		start, err = parseFilterTime(startParam)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start format: %w", err)
		}
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %s is before start %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return start, end, nil
}

// ParsePositionHistoryFilter converts query parameters into a
// model.PositionHistoryFilter. Every parameter is optional.
//
// Validation rules:
//   - broker: lower-cased, must be a single token
//   - start/end: must be valid date/datetime strings (YYYY-MM-DD or RFC3339)
//   - end must not be before start
func ParsePositionHistoryFilter(brokerParam, accountParam, instrumentParam, startParam, endParam string) (model.PositionHistoryFilter, error) {
	filter := model.PositionHistoryFilter{
		Broker:          strings.ToLower(strings.TrimSpace(brokerParam)),
		BrokerAccountID: strings.TrimSpace(accountParam),
		InstrumentID:    strings.TrimSpace(instrumentParam),
	}
	if strings.ContainsAny(filter.Broker, " /") {
		return model.PositionHistoryFilter{}, fmt.Errorf("invalid broker: %q", brokerParam)
	}

	if startParam != "" {
		start, err := parseFilterTime(startParam)
		if err != nil {
			return model.PositionHistoryFilter{}, fmt.Errorf("invalid start format: %w", err)
		}
		filter.Start = &start
	}

	if endParam != "" {
		end, err := parseFilterTime(endParam)
		if err != nil {
			return model.PositionHistoryFilter{}, fmt.Errorf("invalid end format: %w", err)
		}
		if isDateOnly(endParam) {
			end = end.Add(24*time.Hour - time.Nanosecond)
		}
		filter.End = &end
	}

	if filter.Start != nil && filter.End != nil && filter.End.Before(*filter.Start) {
		return model.PositionHistoryFilter{}, fmt.Errorf("end is before start")
	}
	return filter, nil
}

// ParseLimit parses a page size, returning def when the parameter is empty.
func ParseLimit(limitParam string, def, maxLimit int) (int, error) {
	if limitParam == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(limitParam)
	if err != nil {
		return 0, fmt.Errorf("invalid limit: must be a number")
	}
	if limit < 1 || limit > maxLimit {
		return 0, fmt.Errorf("invalid limit: must be between 1 and %d", maxLimit)
	}
	return limit, nil
}

// parseFilterTime parses date strings for filter parameters.
// Accepts YYYY-MM-DD, RFC3339, and RFC3339 with fractional seconds.
func parseFilterTime(str string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339, time.RFC3339Nano} {
		if t, err := time.Parse(layout, str); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a date or datetime", str)
}

func isDateOnly(str string) bool {
	return len(str) == len("2006-01-02")
}
