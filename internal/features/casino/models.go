// Package casino реализует монетку и трёхбарабанные слоты.
// models.go описывает символы, таблицу выплат и записи в БД.
package casino

import (
	"time"
)

// Symbol представляет символ слот-машины.
type Symbol struct {
	Emoji  string // Эмодзи символа (🍒, 💎, 7️⃣ и т.д.)
	Name   string // Название для логов
	Weight int    // Вес (вероятность появления)
	Triple int64  // Множитель ставки за три в ряд
}

// DefaultSymbols — символы с весами. Сумма весов — 100,
// так что вес равен вероятности выпадения на одном барабане в процентах.
var DefaultSymbols = []Symbol{
	{Emoji: "🍒", Name: "Cherry", Weight: 25, Triple: 3},     // 25% — самый частый
	{Emoji: "🍋", Name: "Lemon", Weight: 20, Triple: 4},      // 20%
	{Emoji: "🍊", Name: "Orange", Weight: 18, Triple: 5},     // 18%
	{Emoji: "🍇", Name: "Grape", Weight: 15, Triple: 8},      // 15%
	{Emoji: "🍉", Name: "Watermelon", Weight: 10, Triple: 12}, // 10%
	{Emoji: "💎", Name: "Diamond", Weight: 7, Triple: 25},    // 7% — редкий
	{Emoji: "7️⃣", Name: "Seven", Weight: 3, Triple: 50},      // 3% — самый редкий
	{Emoji: "⭐", Name: "Wild", Weight: 2, Triple: 100},      // 2% — замена любого
}

// WildName — символ, который заменяет любой другой.
const WildName = "Wild"

// PairMultiplier — две одинаковые фигуры возвращают ставку.
const PairMultiplier = 1

// CoinflipMultiplier — выплата за угаданную сторону монетки.
const CoinflipMultiplier = 2

// Side — сторона монетки.
type Side int

const (
	Heads Side = iota
	Tails
)

func (s Side) String() string {
	if s == Heads {
		return "орёл"
	}
	return "решка"
}

// Reels — результат вращения трёх барабанов.
type Reels [3]Symbol

// SlotResult — результат одного спина.
type SlotResult struct {
	Reels      Reels
	Multiplier int64 // 0 — проигрыш
	Bet        int64
	Payout     int64
	Wallet     int64 // кошелёк после спина
	Emoji      string
}

// CoinflipResult — результат броска монетки.
type CoinflipResult struct {
	Choice Side
	Landed Side
	Bet    int64
	Payout int64
	Wallet int64
	Emoji  string
}

// Won — угадал ли игрок.
func (r CoinflipResult) Won() bool { return r.Choice == r.Landed }

// Game — запись одной игры (таблица casino_games).
type Game struct {
	GuildID      int64
	UserID       int64
	GameType     string
	BetAmount    int64
	ResultAmount int64
	GameData     []byte
}

// Типы игр
const (
	GameSlots    = "slots"
	GameCoinflip = "coinflip"
)

// Stats — статистика казино игрока на сервере (таблица casino_stats).
type Stats struct {
	GuildID      int64     `db:"guild_id"`
	UserID       int64     `db:"user_id"`
	TotalGames   int       `db:"total_games"`
	TotalWagered int64     `db:"total_wagered"`
	TotalWon     int64     `db:"total_won"`
	BiggestWin   int64     `db:"biggest_win"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// RTP — сколько процентов поставленного вернулось игроку.
// Если игрок ещё не играл — 0.
func (s Stats) RTP() float64 {
	if s.TotalWagered == 0 {
		return 0
	}
	return float64(s.TotalWon) / float64(s.TotalWagered) * 100
}
