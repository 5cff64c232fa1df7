// Package casino — slots.go содержит математику игр: выбор символа по весам,
// подсчёт выплаты за барабаны и бросок монетки.
package casino

import (
	"strings"
)

// Spin крутит три барабана. intn(n) должна возвращать число в [0, n).
func Spin(symbols []Symbol, intn func(n int) int) Reels {
	var r Reels
	for i := range r {
		r[i] = pick(symbols, intn)
	}
	return r
}

// pick выбирает символ пропорционально весу.
func pick(symbols []Symbol, intn func(n int) int) Symbol {
	total := 0
	for _, s := range symbols {
		total += s.Weight
	}
	n := intn(total)
	for _, s := range symbols {
		if n < s.Weight {
			return s
		}
		n -= s.Weight
	}
	return symbols[len(symbols)-1]
}

// Multiplier считает множитель ставки.
//
// Правила:
//   - три одинаковых (вайлд заменяет любой) → Triple символа;
//     если все три вайлды — Triple вайлда
//   - два одинаковых не-вайлда → PairMultiplier
//   - иначе → 0
func Multiplier(r Reels) int64 {
	var base *Symbol
	wilds := 0
	for i := range r {
		if r[i].Name == WildName {
			wilds++
			continue
		}
		if base == nil {
			base = &r[i]
		}
	}
	if base == nil {
		return r[0].Triple
	}

	matches := 0
	for i := range r {
		if r[i].Name == base.Name {
			matches++
		}
	}
	if matches+wilds == len(r) {
		return base.Triple
	}
	if pairs(r) {
		return PairMultiplier
	}
	return 0
}

// pairs — есть ли два одинаковых не-вайлда.
func pairs(r Reels) bool {
	for i := 0; i < len(r); i++ {
		for j := i + 1; j < len(r); j++ {
			if r[i].Name != WildName && r[i].Name == r[j].Name {
				return true
			}
		}
	}
	return false
}

// FormatReels рисует барабаны в одну строку: "| 🍒 | 🍋 | ⭐ |".
func FormatReels(r Reels) string {
	parts := make([]string, len(r))
	for i, s := range r {
		parts[i] = s.Emoji
	}
	return "| " + strings.Join(parts, " | ") + " |"
}

// ParseSide разбирает выбор стороны монетки.
func ParseSide(s string) (Side, bool) {
	switch strings.ToLower(s) {
	case "орёл", "орел", "о", "heads", "h":
		return Heads, true
	case "решка", "р", "tails", "t":
		return Tails, true
	}
	return 0, false
}
