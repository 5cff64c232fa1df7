package economy

import (
	"math/rand/v2"
	"sort"

	"serotonyl.ru/guild-bot/internal/common"
)

// Limits — ограничения сервера, применяемые к каждому изменению баланса.
type Limits struct {
	Start int64  // с чем создаётся новый кошелёк
	Max   *int64 // потолок кошелька, nil — без потолка
}

// LimitsOf извлекает ограничения из настроек.
func LimitsOf(s *Settings) Limits {
	return Limits{Start: s.StartBalance, Max: s.MaxBalance}
}

// ApplyDelta считает новый баланс. Кошелёк и банк не уходят в минус,
// кошелёк после изменения обрезается до потолка, банк не обрезается.
func ApplyDelta(b Balance, d Delta, max *int64) (Balance, error) {
	if d.Stake > 0 && b.Wallet < d.Stake {
		return b, common.ErrInsufficientBalance
	}
	wallet := b.Wallet + d.Wallet
	if wallet < 0 {
		return b, common.ErrInsufficientBalance
	}
	bank := b.Bank + d.Bank
	if bank < 0 {
		return b, common.ErrInsufficientBank
	}
	if max != nil && wallet > *max {
		wallet = *max
	}
	b.Wallet = wallet
	b.Bank = bank
	return b, nil
}

// mergeDeltas складывает изменения одного участника и сортирует по user_id:
// строки блокируются всегда в одном порядке, и два встречных перевода
// не ловят дедлок.
func mergeDeltas(deltas []Delta) []Delta {
	byUser := make(map[int64]Delta, len(deltas))
	for _, d := range deltas {
		m := byUser[d.UserID]
		m.UserID = d.UserID
		m.Wallet += d.Wallet
		m.Bank += d.Bank
		m.Stake += d.Stake
		byUser[d.UserID] = m
	}
	out := make([]Delta, 0, len(byUser))
	for _, d := range byUser {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// roll — случайное число в [min, max].
func roll(lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	return lo + rand.Int64N(hi-lo+1)
}

// coin — честная монетка.
func coin() bool {
	return rand.IntN(2) == 0
}
