package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006-01-02 15:04",
	"2006年01月02日 15時04分",
}

// ParseTimestamp reads a source timestamp. Values without an explicit offset
// are taken in loc; numeric values are unix seconds or milliseconds.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if layout == time.RFC3339Nano || layout == time.RFC3339 {
			if t, err := time.Parse(layout, value); err == nil {
				return t.UTC(), nil
			}
			continue
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}

// idIssueTime extracts the trailing yyyyMMddHHmmss stamp CMA appends to
// warning ids.
func idIssueTime(id string, loc *time.Location) (time.Time, bool) {
	idx := strings.LastIndex(id, "_")
	if idx < 0 {
		return time.Time{}, false
	}
	part := id[idx+1:]
	if len(part) < 12 || !isNumeric(part) {
		return time.Time{}, false
	}
	layout := "200601021504"
	if len(part) >= 14 {
		layout = "20060102150405"
		part = part[:14]
	} else {
		part = part[:12]
	}
	t, err := time.ParseInLocation(layout, part, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
