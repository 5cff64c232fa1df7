// Package casino — service.go проводит игру от ставки до выплаты.
// Ставка и выигрыш проходят через экономику одной транзакцией,
// статистика пишется после и на результат игры не влияет.
package casino

import (
	"context"
	"math/rand/v2"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/guild-bot/internal/common"
	"serotonyl.ru/guild-bot/internal/features/economy"
)

// Ledger — то, что казино нужно от экономики.
type Ledger interface {
	Settle(ctx context.Context, guildID, userID, bet, payout int64, description string) (economy.Balance, *economy.Settings, error)
}

// StatsStore — журнал игр и статистика.
type StatsStore interface {
	Record(ctx context.Context, game *Game) error
	GetStats(ctx context.Context, guildID, userID int64) (*Stats, error)
}

// Service управляет казино.
type Service struct {
	ledger  Ledger
	stats   StatsStore
	minBet  int64
	symbols []Symbol
	intn    func(n int) int
}

// NewService создаёт сервис казино.
func NewService(ledger Ledger, stats StatsStore, minBet int64) *Service {
	return &Service{
		ledger:  ledger,
		stats:   stats,
		minBet:  minBet,
		symbols: DefaultSymbols,
		intn:    rand.IntN,
	}
}

// MinBet — минимальная ставка.
func (s *Service) MinBet() int64 { return s.minBet }

// Coinflip бросает монетку. Угадал — выплата CoinflipMultiplier × ставка.
func (s *Service) Coinflip(ctx context.Context, guildID, userID, bet int64, choice Side) (CoinflipResult, error) {
	if err := s.checkBet(bet); err != nil {
		return CoinflipResult{}, err
	}
	res := CoinflipResult{Choice: choice, Landed: Side(s.intn(2)), Bet: bet}
	if res.Won() {
		res.Payout = bet * CoinflipMultiplier
	}

	b, set, err := s.ledger.Settle(ctx, guildID, userID, bet, res.Payout, "Монетка")
	if err != nil {
		return CoinflipResult{}, err
	}
	res.Wallet = b.Wallet
	res.Emoji = set.CurrencyEmoji

	s.record(ctx, guildID, userID, GameCoinflip, bet, res.Payout, map[string]any{
		"choice": res.Choice.String(),
		"landed": res.Landed.String(),
	})
	return res, nil
}

// Slots крутит три барабана.
func (s *Service) Slots(ctx context.Context, guildID, userID, bet int64) (SlotResult, error) {
	if err := s.checkBet(bet); err != nil {
		return SlotResult{}, err
	}
	reels := Spin(s.symbols, s.intn)
	mult := Multiplier(reels)
	res := SlotResult{Reels: reels, Multiplier: mult, Bet: bet, Payout: bet * mult}

	b, set, err := s.ledger.Settle(ctx, guildID, userID, bet, res.Payout, "Слоты")
	if err != nil {
		return SlotResult{}, err
	}
	res.Wallet = b.Wallet
	res.Emoji = set.CurrencyEmoji

	names := make([]string, len(reels))
	for i, sym := range reels {
		names[i] = sym.Name
	}
	s.record(ctx, guildID, userID, GameSlots, bet, res.Payout, map[string]any{
		"reels":      names,
		"multiplier": mult,
	})
	return res, nil
}

// GetStats возвращает статистику игрока.
func (s *Service) GetStats(ctx context.Context, guildID, userID int64) (*Stats, error) {
	return s.stats.GetStats(ctx, guildID, userID)
}

func (s *Service) checkBet(bet int64) error {
	if bet <= 0 || bet < s.minBet {
		return common.ErrInvalidAmount
	}
	return nil
}

// record пишет игру в журнал. Ошибка только логируется: деньги уже проведены.
func (s *Service) record(ctx context.Context, guildID, userID int64, gameType string, bet, payout int64, data map[string]any) {
	raw, err := sonic.Marshal(data)
	if err != nil {
		raw = []byte("{}")
	}
	game := &Game{
		GuildID:      guildID,
		UserID:       userID,
		GameType:     gameType,
		BetAmount:    bet,
		ResultAmount: payout,
		GameData:     raw,
	}
	if err := s.stats.Record(ctx, game); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"guild_id": guildID,
			"user_id":  userID,
			"game":     gameType,
		}).Error("Ошибка сохранения игры")
	}
}
