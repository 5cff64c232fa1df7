package common

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlural(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "монет"},
		{1, "монета"},
		{2, "монеты"},
		{4, "монеты"},
		{5, "монет"},
		{11, "монет"},
		{12, "монет"},
		{21, "монета"},
		{22, "монеты"},
		{111, "монет"},
		{-3, "монеты"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Plural(tt.n, "монета", "монеты", "монет"), "n=%d", tt.n)
	}
}

func TestPluralizeWords(t *testing.T) {
	assert.Equal(t, "предупреждение", PluralizeWarnings(1))
	assert.Equal(t, "предупреждения", PluralizeWarnings(3))
	assert.Equal(t, "предупреждений", PluralizeWarnings(11))
	assert.Equal(t, "трек", PluralizeTracks(21))
	assert.Equal(t, "трека", PluralizeTracks(2))
	assert.Equal(t, "треков", PluralizeTracks(0))
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "0", FormatNumber(0))
	assert.Equal(t, "999", FormatNumber(999))
	assert.Equal(t, "2 350", FormatNumber(2350))
	assert.Equal(t, "1 000 000", FormatNumber(1000000))
	assert.Equal(t, "-1 005", FormatNumber(-1005))
	assert.Equal(t, "9 223 372 036 854 775 807", FormatNumber(math.MaxInt64))
	assert.Equal(t, "-9 223 372 036 854 775 808", FormatNumber(math.MinInt64))
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "1 500 🪙", FormatMoney(1500, "🪙"))
	assert.Equal(t, "15", FormatMoney(15, ""))
	assert.Equal(t, "+100 🪙", FormatSignedMoney(100, "🪙"))
	assert.Equal(t, "-50 🪙", FormatSignedMoney(-50, "🪙"))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0с", FormatDuration(-time.Second))
	assert.Equal(t, "45с", FormatDuration(45*time.Second))
	assert.Equal(t, "3м 07с", FormatDuration(3*time.Minute+7*time.Second))
	assert.Equal(t, "1ч 05м 03с", FormatDuration(time.Hour+5*time.Minute+3*time.Second))
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "live", FormatClock(0))
	assert.Equal(t, "3:07", FormatClock(187*time.Second))
	assert.Equal(t, "1:02:03", FormatClock(time.Hour+2*time.Minute+3*time.Second))
}

func TestParseMentionID(t *testing.T) {
	assert.Equal(t, int64(123), ParseMentionID("<@123>"))
	assert.Equal(t, int64(123), ParseMentionID("<@!123>"))
	assert.Equal(t, int64(456), ParseMentionID("<#456>"))
	assert.Equal(t, int64(789), ParseMentionID("<@&789>"))
	assert.Equal(t, int64(42), ParseMentionID("42"))
	assert.Equal(t, int64(0), ParseMentionID("abc"))
	assert.Equal(t, "123", FormatID(123))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "привет", Truncate("привет", 10))
	assert.Equal(t, "прив…", Truncate("приветствие", 5))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "❌ Недостаточно монет в кошельке", UserMessage(ErrInsufficientBalance))
	assert.Equal(t, "❌ Сначала зайдите в голосовой канал", UserMessage(fmt.Errorf("play: %w", ErrNotInVoice)))
	assert.Equal(t, "❌ Что-то пошло не так, попробуйте позже", UserMessage(errors.New("pq: connection refused")))
}

func TestIsUserFacing(t *testing.T) {
	assert.True(t, IsUserFacing(fmt.Errorf("rob: %w", ErrInsufficientBalance)))
	assert.False(t, IsUserFacing(errors.New("timeout")))
	assert.False(t, IsUserFacing(nil))
}
