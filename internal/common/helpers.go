// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: русская плюрализация, форматирование сумм и длительностей,
// преобразование Discord snowflake ID.
package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Plural выбирает форму слова для числа n по правилам русского языка.
//
// Правила:
//   - n%10==1 И n%100!=11 → one (1, 21, 31, 101, ...)
//   - n%10 в [2,3,4] И n%100 НЕ в [12,13,14] → few (2, 3, 4, 22, 23, ...)
//   - Остальные случаи → many (0, 5-20, 25-30, 100, ...)
//
// Пример:
//
//	Plural(21, "монета", "монеты", "монет") → "монета"
func Plural(n int64, one, few, many string) string {
	if n < 0 {
		n = -n
	}
	lastDigit := n % 10
	lastTwoDigits := n % 100

	if lastDigit == 1 && lastTwoDigits != 11 {
		return one
	}
	if lastDigit >= 2 && lastDigit <= 4 && (lastTwoDigits < 12 || lastTwoDigits > 14) {
		return few
	}
	return many
}

// FormatMoney форматирует сумму с эмодзи валюты сервера.
// Пример: FormatMoney(2350, "🪙") → "2 350 🪙"
func FormatMoney(amount int64, emoji string) string {
	if emoji == "" {
		return FormatNumber(amount)
	}
	return FormatNumber(amount) + " " + emoji
}

// FormatDuration выводит длительность в виде "1ч 05м 03с".
// Используется для оставшегося кулдауна и длины трека.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)

	switch {
	case h > 0:
		return fmt.Sprintf("%dч %02dм %02dс", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dм %02dс", m, s)
	default:
		return fmt.Sprintf("%dс", s)
	}
}

// FormatClock выводит длительность трека в виде "3:07" или "1:02:03".
func FormatClock(d time.Duration) string {
	if d <= 0 {
		return "live"
	}
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// ParseID переводит Discord snowflake из строки в int64.
// Пустая или битая строка даёт 0.
func ParseID(s string) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// FormatID переводит int64 обратно в строковый snowflake.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ParseMentionID достаёт ID из упоминания вида <@123>, <@!123>, <#123>, <@&123>
// или из голого числа.
func ParseMentionID(s string) int64 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	s = strings.TrimLeft(s, "@#!&")
	return ParseID(s)
}

// Truncate обрезает строку до n рун, добавляя многоточие.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
