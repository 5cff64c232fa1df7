// Package economy — models.go содержит структуры данных для экономики сервера.
// Все таблицы партиционированы по guild_id: у каждого сервера своя валюта,
// свои настройки наград и свой список богачей.
package economy

import (
	"time"

	"serotonyl.ru/guild-bot/internal/common"
)

// Settings — настройки экономики одного сервера (таблица economy_settings).
// Строка создаётся с дефолтами при первом обращении.
type Settings struct {
	GuildID          int64     `db:"guild_id"`
	CurrencyName     string    `db:"currency_name"`
	CurrencyEmoji    string    `db:"currency_emoji"`
	StartBalance     int64     `db:"start_balance"`
	MaxBalance       *int64    `db:"max_balance"`      // NULL — без ограничения
	AuditChannelID   *int64    `db:"audit_channel_id"` // куда писать о переводах
	DailyMin         int64     `db:"daily_min"`
	DailyMax         int64     `db:"daily_max"`
	DailyCooldownSec int64     `db:"daily_cooldown_sec"`
	WorkMin          int64     `db:"work_min"`
	WorkMax          int64     `db:"work_max"`
	WorkCooldownSec  int64     `db:"work_cooldown_sec"`
	RobMin           int64     `db:"rob_min"`
	RobMax           int64     `db:"rob_max"`
	RobCooldownSec   int64     `db:"rob_cooldown_sec"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// Money форматирует сумму в валюте сервера.
func (s *Settings) Money(amount int64) string {
	return common.FormatMoney(amount, s.CurrencyEmoji)
}

// Reward — диапазон награды и кулдаун одной команды (daily, work, rob).
type Reward struct {
	Min      int64
	Max      int64
	Cooldown time.Duration
}

// Daily возвращает параметры ежедневной награды.
func (s *Settings) Daily() Reward {
	return Reward{Min: s.DailyMin, Max: s.DailyMax, Cooldown: time.Duration(s.DailyCooldownSec) * time.Second}
}

// Work возвращает параметры команды !work.
func (s *Settings) Work() Reward {
	return Reward{Min: s.WorkMin, Max: s.WorkMax, Cooldown: time.Duration(s.WorkCooldownSec) * time.Second}
}

// Rob возвращает параметры команды !rob.
func (s *Settings) Rob() Reward {
	return Reward{Min: s.RobMin, Max: s.RobMax, Cooldown: time.Duration(s.RobCooldownSec) * time.Second}
}

// Balance — кошелёк и банк участника (таблица balances).
// Кошелёк ограничен max_balance сервера, банк — нет.
type Balance struct {
	GuildID   int64     `db:"guild_id"`
	UserID    int64     `db:"user_id"`
	Wallet    int64     `db:"wallet"`
	Bank      int64     `db:"bank"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Total — кошелёк плюс банк, по нему строится топ.
func (b Balance) Total() int64 {
	return b.Wallet + b.Bank
}

// Transaction — запись журнала операций (таблица economy_transactions).
// Журнал только дописывается.
type Transaction struct {
	ID          int64     `db:"id"`
	GuildID     int64     `db:"guild_id"`
	FromUserID  *int64    `db:"from_user_id"` // NULL — системное начисление
	ToUserID    *int64    `db:"to_user_id"`   // NULL — системное списание
	Amount      int64     `db:"amount"`
	Kind        string    `db:"kind"`
	Description string    `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

// Типы операций
const (
	KindTransfer = "transfer"
	KindDeposit  = "deposit"
	KindWithdraw = "withdraw"
	KindDaily    = "daily"
	KindWork     = "work"
	KindRob      = "rob"
	KindRobFine  = "rob_fine"
	KindCasino   = "casino"
	KindAdmin    = "admin"
	KindAdjust   = "adjust"
)

// Delta — изменение баланса одного участника внутри операции.
// Stake — сколько должно лежать в кошельке до изменения (ставка в казино).
type Delta struct {
	UserID int64
	Wallet int64
	Bank   int64
	Stake  int64
}

// Entry — то, что пишется в журнал вместе с изменением балансов.
type Entry struct {
	From        *int64
	To          *int64
	Amount      int64
	Kind        string
	Description string
}
