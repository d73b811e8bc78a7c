package util

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// ParseCRMTimestamp parses a timestamp value as returned by the source CRM
// API: RFC3339 (with or without sub-second precision) or epoch
// milliseconds as a decimal string.
func ParseCRMTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty timestamp value")
	}

	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}

	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, errors.Errorf("unsupported timestamp format %q", value)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// TimestampInMilliseconds returns t as epoch milliseconds, the filter
// format the source search API expects.
func TimestampInMilliseconds(t time.Time) int64 {
	return t.UnixMilli()
}
