package utils

import (
	"strconv"
	"strings"
	"time"

	"github.com/life-stream-dev/life-stream-go-padlink/internal/logger"
)

var units = []struct {
	suffix string
	unit   time.Duration
}{
	{"ms", time.Millisecond},
	{"s", time.Second},
	{"m", time.Minute},
	{"h", time.Hour},
	{"d", 24 * time.Hour},
}

// ParseStringTime parses config durations such as "50ms", "30s", "10m",
// "48h" or "2d". Compound forms accepted by time.ParseDuration ("1m30s")
// also work. Invalid input is logged and yields 0.
func ParseStringTime(timeString string) time.Duration {
	timeString = strings.ToLower(strings.TrimSpace(timeString))
	if timeString == "" {
		return 0
	}
	for _, u := range units {
		cutString, found := strings.CutSuffix(timeString, u.suffix)
		if !found {
			continue
		}
		number, err := strconv.Atoi(cutString)
		if err != nil {
			break
		}
		return time.Duration(number) * u.unit
	}
	if d, err := time.ParseDuration(timeString); err == nil {
		return d
	}
	logger.ErrorF("invalid time format: %s", timeString)
	return 0
}

// DurationOr is ParseStringTime with a fallback for empty, invalid or
// non-positive values.
func DurationOr(timeString string, fallback time.Duration) time.Duration {
	if d := ParseStringTime(timeString); d > 0 {
		return d
	}
	return fallback
}
