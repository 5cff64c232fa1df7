// Package economy — service.go содержит бизнес-логику экономики.
// Валидация, переводы, награды с кулдауном, ограбления и топ.
package economy

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"serotonyl.ru/guild-bot/internal/common"
	"serotonyl.ru/guild-bot/internal/cooldown"
)

// LeaderboardSize — сколько строк в топе.
const LeaderboardSize = 10

// Store — хранилище экономики. В проде это *Repository.
type Store interface {
	EnsureSettings(ctx context.Context, guildID int64) (*Settings, error)
	UpdateSettings(ctx context.Context, guildID int64, set []Assignment) error
	GetBalance(ctx context.Context, guildID, userID, start int64) (*Balance, error)
	Apply(ctx context.Context, guildID int64, limits Limits, deltas []Delta, entry Entry) (map[int64]Balance, error)
	Leaderboard(ctx context.Context, guildID int64, limit int) ([]Balance, error)
	Transactions(ctx context.Context, guildID, userID int64, limit int) ([]Transaction, error)
	ResetGuild(ctx context.Context, guildID int64) (int64, error)
}

// Notifier отправляет текст в канал сервера (журнал экономики).
type Notifier interface {
	Notify(channelID int64, text string)
}

// NotifierFunc позволяет передать обычную функцию как Notifier.
type NotifierFunc func(channelID int64, text string)

func (f NotifierFunc) Notify(channelID int64, text string) { f(channelID, text) }

// CooldownError — команда ещё на кулдауне.
type CooldownError struct {
	Left time.Duration
}

func (e *CooldownError) Error() string {
	return "подождите ещё " + common.FormatDuration(e.Left)
}

// RobResult — итог ограбления.
type RobResult struct {
	Success bool
	Amount  int64 // украдено или выплачено жертве
	Robber  Balance
}

// Service управляет экономикой серверов.
type Service struct {
	store    Store
	notifier Notifier
	group    singleflight.Group

	daily *cooldown.Buckets
	work  *cooldown.Buckets
	rob   *cooldown.Buckets

	roll func(lo, hi int64) int64
	coin func() bool
}

// NewService создаёт новый сервис экономики.
// notifier может быть nil — тогда журнал в канал не пишется.
func NewService(store Store, notifier Notifier) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		daily:    cooldown.New(),
		work:     cooldown.New(),
		rob:      cooldown.New(),
		roll:     roll,
		coin:     coin,
	}
}

// Cooldowns возвращает наборы кулдаунов для периодической чистки.
func (s *Service) Cooldowns() []*cooldown.Buckets {
	return []*cooldown.Buckets{s.daily, s.work, s.rob}
}

// Settings возвращает настройки сервера. Параллельные запросы одного
// сервера схлопываются в один поход в базу.
func (s *Service) Settings(ctx context.Context, guildID int64) (*Settings, error) {
	v, err, _ := s.group.Do(strconv.FormatInt(guildID, 10), func() (any, error) {
		return s.store.EnsureSettings(ctx, guildID)
	})
	if err != nil {
		return nil, err
	}
	// копия: результат singleflight общий для всех ожидающих
	cp := *v.(*Settings)
	return &cp, nil
}

// GetBalance возвращает баланс участника вместе с настройками сервера.
func (s *Service) GetBalance(ctx context.Context, guildID, userID int64) (*Balance, *Settings, error) {
	set, err := s.Settings(ctx, guildID)
	if err != nil {
		return nil, nil, err
	}
	b, err := s.store.GetBalance(ctx, guildID, userID, set.StartBalance)
	if err != nil {
		return nil, nil, err
	}
	return b, set, nil
}

// UpdateBalance меняет кошелёк и банк одного участника.
// Кошелёк после изменения обрезается до max_balance сервера.
func (s *Service) UpdateBalance(ctx context.Context, guildID, userID, walletDelta, bankDelta int64, kind, description string) (Balance, error) {
	set, err := s.Settings(ctx, guildID)
	if err != nil {
		return Balance{}, err
	}
	entry := Entry{Amount: abs(walletDelta + bankDelta), Kind: kind, Description: description}
	if walletDelta+bankDelta >= 0 {
		entry.To = &userID
	} else {
		entry.From = &userID
	}
	out, err := s.store.Apply(ctx, guildID, LimitsOf(set), []Delta{{UserID: userID, Wallet: walletDelta, Bank: bankDelta}}, entry)
	if err != nil {
		return Balance{}, err
	}
	return out[userID], nil
}

// Settle проводит ставку и выигрыш одной транзакцией: ставка должна
// лежать в кошельке, в кошелёк возвращается payout.
func (s *Service) Settle(ctx context.Context, guildID, userID, bet, payout int64, description string) (Balance, *Settings, error) {
	if bet <= 0 || payout < 0 {
		return Balance{}, nil, common.ErrInvalidAmount
	}
	set, err := s.Settings(ctx, guildID)
	if err != nil {
		return Balance{}, nil, err
	}
	net := payout - bet
	entry := Entry{Amount: abs(net), Kind: KindCasino, Description: description}
	if net >= 0 {
		entry.To = &userID
	} else {
		entry.From = &userID
	}
	out, err := s.store.Apply(ctx, guildID, LimitsOf(set),
		[]Delta{{UserID: userID, Wallet: net, Stake: bet}}, entry)
	if err != nil {
		return Balance{}, nil, err
	}
	return out[userID], set, nil
}

// Deposit кладёт деньги из кошелька в банк. arg — число или "all".
func (s *Service) Deposit(ctx context.Context, guildID, userID int64, arg string) (int64, Balance, error) {
	cur, set, err := s.GetBalance(ctx, guildID, userID)
	if err != nil {
		return 0, Balance{}, err
	}
	amount, err := parseAmount(arg, cur.Wallet)
	if err != nil {
		return 0, Balance{}, err
	}
	out, err := s.store.Apply(ctx, guildID, LimitsOf(set),
		[]Delta{{UserID: userID, Wallet: -amount, Bank: amount}},
		Entry{From: &userID, To: &userID, Amount: amount, Kind: KindDeposit, Description: "Вклад в банк"})
	if err != nil {
		return 0, Balance{}, err
	}
	return amount, out[userID], nil
}

// Withdraw снимает деньги из банка в кошелёк. Сумма сверх потолка
// кошелька не снимается, иначе она сгорела бы при обрезке.
func (s *Service) Withdraw(ctx context.Context, guildID, userID int64, arg string) (int64, Balance, error) {
	cur, set, err := s.GetBalance(ctx, guildID, userID)
	if err != nil {
		return 0, Balance{}, err
	}
	available := cur.Bank
	headroom := int64(-1)
	if set.MaxBalance != nil {
		headroom = max(*set.MaxBalance-cur.Wallet, 0)
		if isAll(arg) {
			available = min(available, headroom)
		}
	}
	amount, err := parseAmount(arg, available)
	if err != nil {
		if isAll(arg) && headroom == 0 {
			return 0, Balance{}, common.ErrWalletLimit
		}
		return 0, Balance{}, err
	}
	if headroom >= 0 && amount > headroom {
		return 0, Balance{}, common.ErrWalletLimit
	}

	out, err := s.store.Apply(ctx, guildID, LimitsOf(set),
		[]Delta{{UserID: userID, Wallet: amount, Bank: -amount}},
		Entry{From: &userID, To: &userID, Amount: amount, Kind: KindWithdraw, Description: "Снятие из банка"})
	if err != nil {
		return 0, Balance{}, err
	}
	return amount, out[userID], nil
}

// Transfer переводит монеты из кошелька одного участника в кошелёк другого.
// Обе строки меняются в одной транзакции.
func (s *Service) Transfer(ctx context.Context, guildID, fromUserID, toUserID, amount int64) (Balance, *Settings, error) {
	if fromUserID == toUserID {
		return Balance{}, nil, common.ErrSelfTransfer
	}
	if amount <= 0 {
		return Balance{}, nil, common.ErrInvalidAmount
	}
	set, err := s.Settings(ctx, guildID)
	if err != nil {
		return Balance{}, nil, err
	}

	out, err := s.store.Apply(ctx, guildID, LimitsOf(set),
		[]Delta{
			{UserID: fromUserID, Wallet: -amount},
			{UserID: toUserID, Wallet: amount},
		},
		Entry{From: &fromUserID, To: &toUserID, Amount: amount, Kind: KindTransfer, Description: "Перевод"})
	if err != nil {
		return Balance{}, nil, err
	}

	log.WithFields(log.Fields{
		"guild_id": guildID,
		"from":     fromUserID,
		"to":       toUserID,
		"amount":   amount,
	}).Info("Перевод выполнен")

	s.audit(set, fmt.Sprintf("💸 <@%d> → <@%d>: %s", fromUserID, toUserID, set.Money(amount)))
	return out[fromUserID], set, nil
}

// Daily выдаёт ежедневную награду.
func (s *Service) Daily(ctx context.Context, guildID, userID int64) (int64, Balance, *Settings, error) {
	return s.reward(ctx, guildID, userID, s.daily, (*Settings).Daily, KindDaily, "Ежедневная награда")
}

// Work выдаёт награду за работу.
func (s *Service) Work(ctx context.Context, guildID, userID int64) (int64, Balance, *Settings, error) {
	return s.reward(ctx, guildID, userID, s.work, (*Settings).Work, KindWork, "Работа")
}

func (s *Service) reward(ctx context.Context, guildID, userID int64, buckets *cooldown.Buckets,
	params func(*Settings) Reward, kind, description string) (int64, Balance, *Settings, error) {
	set, err := s.Settings(ctx, guildID)
	if err != nil {
		return 0, Balance{}, nil, err
	}
	p := params(set)

	key := bucketKey(guildID, userID)
	if ok, left := buckets.Try(key, p.Cooldown); !ok {
		return 0, Balance{}, set, &CooldownError{Left: left}
	}

	amount := s.roll(p.Min, p.Max)
	out, err := s.store.Apply(ctx, guildID, LimitsOf(set),
		[]Delta{{UserID: userID, Wallet: amount}},
		Entry{To: &userID, Amount: amount, Kind: kind, Description: description})
	if err != nil {
		// награда не выдана — кулдаун не должен сгореть
		buckets.Reset(key)
		return 0, Balance{}, set, err
	}
	return amount, out[userID], set, nil
}

// Rob пытается ограбить кошелёк другого участника. Удача — половина
// случаев: грабитель забирает случайную сумму из диапазона rob, но не
// больше, чем есть у жертвы. Неудача — грабитель платит жертве половину
// выпавшей суммы, но не больше, чем есть у него самого.
func (s *Service) Rob(ctx context.Context, guildID, robberID, victimID int64) (RobResult, *Settings, error) {
	if robberID == victimID {
		return RobResult{}, nil, common.ErrSelfTarget
	}
	set, err := s.Settings(ctx, guildID)
	if err != nil {
		return RobResult{}, nil, err
	}
	p := set.Rob()

	victim, err := s.store.GetBalance(ctx, guildID, victimID, set.StartBalance)
	if err != nil {
		return RobResult{}, set, err
	}
	if victim.Wallet <= 0 {
		return RobResult{}, set, common.ErrVictimBroke
	}

	key := bucketKey(guildID, robberID)
	if ok, left := s.rob.Try(key, p.Cooldown); !ok {
		return RobResult{}, set, &CooldownError{Left: left}
	}

	rolled := s.roll(p.Min, p.Max)
	res := RobResult{Success: s.coin()}
	var deltas []Delta
	var entry Entry
	if res.Success {
		res.Amount = min(rolled, victim.Wallet)
		deltas = []Delta{
			{UserID: victimID, Wallet: -res.Amount},
			{UserID: robberID, Wallet: res.Amount},
		}
		entry = Entry{From: &victimID, To: &robberID, Amount: res.Amount, Kind: KindRob, Description: "Ограбление"}
	} else {
		robber, err := s.store.GetBalance(ctx, guildID, robberID, set.StartBalance)
		if err != nil {
			s.rob.Reset(key)
			return RobResult{}, set, err
		}
		res.Amount = min(rolled/2, robber.Wallet)
		if res.Amount <= 0 {
			res.Robber = *robber
			return res, set, nil
		}
		deltas = []Delta{
			{UserID: robberID, Wallet: -res.Amount},
			{UserID: victimID, Wallet: res.Amount},
		}
		entry = Entry{From: &robberID, To: &victimID, Amount: res.Amount, Kind: KindRobFine, Description: "Штраф за ограбление"}
	}

	out, err := s.store.Apply(ctx, guildID, LimitsOf(set), deltas, entry)
	if err != nil {
		s.rob.Reset(key)
		return RobResult{}, set, err
	}
	res.Robber = out[robberID]
	return res, set, nil
}

// Leaderboard возвращает топ сервера по сумме кошелька и банка.
func (s *Service) Leaderboard(ctx context.Context, guildID int64) ([]Balance, *Settings, error) {
	set, err := s.Settings(ctx, guildID)
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.store.Leaderboard(ctx, guildID, LeaderboardSize)
	if err != nil {
		return nil, nil, err
	}
	return rows, set, nil
}

// History возвращает последние 10 операций участника.
func (s *Service) History(ctx context.Context, guildID, userID int64) ([]Transaction, error) {
	return s.store.Transactions(ctx, guildID, userID, 10)
}

// AdminAdjust начисляет (amount > 0) или списывает (amount < 0) монеты
// от имени владельца бота и пишет об этом в журнал сервера.
func (s *Service) AdminAdjust(ctx context.Context, guildID, adminID, userID, amount int64) (Balance, error) {
	if amount == 0 {
		return Balance{}, common.ErrInvalidAmount
	}
	b, err := s.UpdateBalance(ctx, guildID, userID, amount, 0, KindAdmin, fmt.Sprintf("Владелец бота %d", adminID))
	if err != nil {
		return Balance{}, err
	}
	if set, err := s.Settings(ctx, guildID); err == nil {
		s.audit(set, fmt.Sprintf("🛠 Владелец бота изменил баланс <@%d>: %s", userID, common.FormatSignedMoney(amount, set.CurrencyEmoji)))
	}
	return b, nil
}

// ResetGuild обнуляет экономику сервера: балансы удаляются и при следующем
// обращении создаются заново со стартовой суммой.
func (s *Service) ResetGuild(ctx context.Context, guildID int64) (int64, error) {
	n, err := s.store.ResetGuild(ctx, guildID)
	if err != nil {
		return 0, err
	}
	log.WithFields(log.Fields{"guild_id": guildID, "rows": n}).Warn("Экономика сервера сброшена")
	return n, nil
}

// SettingKeys — ключи для !eco-set в порядке вывода справки.
var SettingKeys = []string{"currency", "emoji", "start", "max", "log", "daily", "work", "rob"}

// Configure меняет настройку экономики сервера по ключу.
//
// Форматы:
//
//	currency <название>
//	emoji <эмодзи>
//	start <сумма>
//	max <сумма | off>
//	log <#канал | off>
//	daily|work|rob <мин> <макс> [кулдаун, например 2h]
func (s *Service) Configure(ctx context.Context, guildID int64, key string, args []string) (*Settings, error) {
	set, err := settingAssignments(key, args)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateSettings(ctx, guildID, set); err != nil {
		return nil, err
	}
	s.group.Forget(strconv.FormatInt(guildID, 10))

	log.WithFields(log.Fields{"guild_id": guildID, "key": key}).Info("Настройка экономики изменена")
	return s.Settings(ctx, guildID)
}

func settingAssignments(key string, args []string) ([]Assignment, error) {
	if len(args) == 0 {
		return nil, common.ErrInvalidSetting
	}
	switch key {
	case "currency":
		name := strings.TrimSpace(strings.Join(args, " "))
		if name == "" || utf8.RuneCountInString(name) > 32 {
			return nil, common.ErrInvalidSetting
		}
		return []Assignment{{"currency_name", name}}, nil
	case "emoji":
		if utf8.RuneCountInString(args[0]) > 64 {
			return nil, common.ErrInvalidSetting
		}
		return []Assignment{{"currency_emoji", args[0]}}, nil
	case "start":
		n, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || n < 0 {
			return nil, common.ErrInvalidSetting
		}
		return []Assignment{{"start_balance", n}}, nil
	case "max":
		if isOff(args[0]) {
			return []Assignment{{"max_balance", nil}}, nil
		}
		n, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || n <= 0 {
			return nil, common.ErrInvalidSetting
		}
		return []Assignment{{"max_balance", n}}, nil
	case "log":
		if isOff(args[0]) {
			return []Assignment{{"audit_channel_id", nil}}, nil
		}
		id := common.ParseMentionID(args[0])
		if id == 0 {
			return nil, common.ErrInvalidSetting
		}
		return []Assignment{{"audit_channel_id", id}}, nil
	case "daily", "work", "rob":
		if len(args) < 2 {
			return nil, common.ErrInvalidSetting
		}
		lo, err1 := strconv.ParseInt(args[0], 10, 64)
		hi, err2 := strconv.ParseInt(args[1], 10, 64)
		if err1 != nil || err2 != nil || lo <= 0 || hi < lo {
			return nil, common.ErrInvalidSetting
		}
		out := []Assignment{{key + "_min", lo}, {key + "_max", hi}}
		if len(args) > 2 {
			d, err := time.ParseDuration(args[2])
			if err != nil || d < time.Second {
				return nil, common.ErrInvalidSetting
			}
			out = append(out, Assignment{key + "_cooldown_sec", int64(d / time.Second)})
		}
		return out, nil
	}
	return nil, common.ErrUnknownSetting
}

func isOff(arg string) bool {
	switch strings.ToLower(arg) {
	case "off", "none", "выкл", "нет":
		return true
	}
	return false
}

func (s *Service) audit(set *Settings, text string) {
	if s.notifier == nil || set.AuditChannelID == nil {
		return
	}
	s.notifier.Notify(*set.AuditChannelID, text)
}

func bucketKey(guildID, userID int64) string {
	return strconv.FormatInt(guildID, 10) + ":" + strconv.FormatInt(userID, 10)
}

func isAll(arg string) bool {
	switch arg {
	case "all", "все", "всё":
		return true
	}
	return false
}

// parseAmount разбирает сумму команды. "all" — всё доступное.
func parseAmount(arg string, available int64) (int64, error) {
	if isAll(arg) {
		if available <= 0 {
			return 0, common.ErrInvalidAmount
		}
		return available, nil
	}
	n, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || n <= 0 {
		return 0, common.ErrInvalidAmount
	}
	return n, nil
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
