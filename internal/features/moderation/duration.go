package moderation

import (
	"strconv"
	"strings"
	"time"

	"serotonyl.ru/guild-bot/internal/common"
)

var units = map[rune]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
	'с': time.Second,
	'м': time.Minute,
	'ч': time.Hour,
	'д': 24 * time.Hour,
	'н': 7 * 24 * time.Hour,
}

// ParseDuration разбирает длительность наказания: число и единица
// (s, m, h, d, w), части можно склеивать: "1h30m", "1w2d".
// Результат должен быть больше нуля и не больше MaxTimeout.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, common.ErrInvalidDuration
	}

	var total time.Duration
	num := strings.Builder{}
	for _, r := range s {
		if r >= '0' && r <= '9' {
			num.WriteRune(r)
			continue
		}
		unit, ok := units[r]
		if !ok || num.Len() == 0 {
			return 0, common.ErrInvalidDuration
		}
		n, err := strconv.ParseInt(num.String(), 10, 64)
		if err != nil || n > int64(MaxTimeout/unit) {
			return 0, common.ErrDurationTooLong
		}
		total += time.Duration(n) * unit
		if total > MaxTimeout {
			return 0, common.ErrDurationTooLong
		}
		num.Reset()
	}
	if num.Len() > 0 || total <= 0 {
		return 0, common.ErrInvalidDuration
	}
	return total, nil
}
