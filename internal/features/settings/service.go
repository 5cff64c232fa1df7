// Package settings — service.go отдаёт настройки остальным модулям.
// Настройки читаются на каждое сообщение (префикс, белый список каналов),
// поэтому держим их в памяти и сбрасываем запись при каждом изменении.
package settings

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"serotonyl.ru/guild-bot/internal/common"
	"serotonyl.ru/guild-bot/internal/db/postgres"
)

// Store — хранилище настроек. В проде это *Repository.
type Store interface {
	EnsureGuild(ctx context.Context, guildID int64) (*Guild, error)
	UpdateGuild(ctx context.Context, guildID int64, set []Assignment) error
	EnsureTTS(ctx context.Context, guildID int64) (*TTS, error)
	UpdateTTS(ctx context.Context, guildID int64, set []Assignment) error
	ActiveChannels(ctx context.Context, guildID int64) ([]int64, error)
	AddActiveChannel(ctx context.Context, guildID, channelID int64) (bool, error)
	RemoveActiveChannel(ctx context.Context, guildID, channelID int64) (bool, error)
	ReactionRole(ctx context.Context, guildID, messageID int64, emoji string) (*ReactionRole, error)
	SetReactionRole(ctx context.Context, rr ReactionRole) error
	DeleteReactionRole(ctx context.Context, guildID, messageID int64, emoji string) (bool, error)
	ReactionRoles(ctx context.Context, guildID int64) ([]ReactionRole, error)
}

// SettingKeys — ключи для !set.
var SettingKeys = []string{"prefix", "leveling", "levelchannel", "modlog", "tts", "ttslang"}

// Service — провайдер настроек сервера.
type Service struct {
	store Store
	group singleflight.Group

	mu       sync.RWMutex
	guilds   map[int64]Guild
	channels map[int64]map[int64]struct{}
	// gen растёт при каждой записи настроек сервера. Загрузка, начатая
	// до записи, свой результат в кэш не кладёт.
	gen map[int64]uint64
}

// NewService создаёт сервис настроек.
func NewService(store Store) *Service {
	return &Service{
		store:    store,
		guilds:   make(map[int64]Guild),
		channels: make(map[int64]map[int64]struct{}),
		gen:      make(map[int64]uint64),
	}
}

// Guild возвращает настройки сервера. Одновременные запросы одного сервера
// схлопываются в один поход в базу.
func (s *Service) Guild(ctx context.Context, guildID int64) (Guild, error) {
	s.mu.RLock()
	g, ok := s.guilds[guildID]
	s.mu.RUnlock()
	if ok {
		return g, nil
	}

	v, err, _ := s.group.Do("guild:"+strconv.FormatInt(guildID, 10), func() (any, error) {
		gen := s.generation(guildID)
		row, err := s.store.EnsureGuild(ctx, guildID)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		if s.gen[guildID] == gen {
			s.guilds[guildID] = *row
		}
		s.mu.Unlock()
		return *row, nil
	})
	if err != nil {
		return Guild{}, err
	}
	return v.(Guild), nil
}

// Prefix возвращает префикс команд сервера. При ошибке базы — префикс по умолчанию.
func (s *Service) Prefix(ctx context.Context, guildID int64) string {
	g, err := s.Guild(ctx, guildID)
	if err != nil {
		log.WithError(err).WithField("guild_id", guildID).Warn("Не удалось получить префикс, используем стандартный")
		return DefaultPrefix
	}
	if g.Prefix == "" {
		return DefaultPrefix
	}
	return g.Prefix
}

// LevelingConfig — включены ли уровни и куда писать о повышении.
func (s *Service) LevelingConfig(ctx context.Context, guildID int64) (bool, int64, error) {
	g, err := s.Guild(ctx, guildID)
	if err != nil {
		return false, 0, err
	}
	return g.LevelingEnabled, deref(g.LevelChannelID), nil
}

// ModLogChannel — канал журнала модерации (0 — не задан).
func (s *Service) ModLogChannel(ctx context.Context, guildID int64) (int64, error) {
	g, err := s.Guild(ctx, guildID)
	if err != nil {
		return 0, err
	}
	return deref(g.ModLogChannelID), nil
}

// TTS возвращает настройки озвучки.
func (s *Service) TTS(ctx context.Context, guildID int64) (*TTS, error) {
	return s.store.EnsureTTS(ctx, guildID)
}

// Set меняет настройку по ключу из SettingKeys.
func (s *Service) Set(ctx context.Context, guildID int64, key string, args []string) error {
	if len(args) == 0 {
		return common.ErrInvalidSetting
	}
	key = strings.ToLower(key)
	switch key {
	case "tts", "ttslang":
		set, err := ttsAssignment(key, args[0])
		if err != nil {
			return err
		}
		if _, err := s.store.EnsureTTS(ctx, guildID); err != nil {
			return err
		}
		if err := s.store.UpdateTTS(ctx, guildID, set); err != nil {
			return err
		}
	default:
		set, err := guildAssignment(key, args[0])
		if err != nil {
			return err
		}
		if _, err := s.Guild(ctx, guildID); err != nil {
			return err
		}
		if err := s.store.UpdateGuild(ctx, guildID, set); err != nil {
			return err
		}
		s.invalidate(guildID)
	}

	log.WithFields(log.Fields{"guild_id": guildID, "key": key}).Info("Настройка сервера изменена")
	return nil
}

func guildAssignment(key, arg string) ([]Assignment, error) {
	switch key {
	case "prefix":
		if arg == "" || utf8.RuneCountInString(arg) > 8 || strings.ContainsAny(arg, " \n\t") {
			return nil, common.ErrInvalidSetting
		}
		return []Assignment{{"prefix", arg}}, nil
	case "leveling":
		on, ok := parseSwitch(arg)
		if !ok {
			return nil, common.ErrInvalidSetting
		}
		return []Assignment{{"leveling_enabled", on}}, nil
	case "levelchannel", "modlog":
		col := "level_channel_id"
		if key == "modlog" {
			col = "mod_log_channel_id"
		}
		if on, ok := parseSwitch(arg); ok && !on {
			return []Assignment{{col, nil}}, nil
		}
		id := common.ParseMentionID(arg)
		if id == 0 {
			return nil, common.ErrInvalidSetting
		}
		return []Assignment{{col, id}}, nil
	}
	return nil, common.ErrUnknownSetting
}

func ttsAssignment(key, arg string) ([]Assignment, error) {
	if key == "tts" {
		on, ok := parseSwitch(arg)
		if !ok {
			return nil, common.ErrInvalidSetting
		}
		return []Assignment{{"enabled", on}}, nil
	}
	lang := strings.ToLower(arg)
	if n := len(lang); n < 2 || n > 16 {
		return nil, common.ErrInvalidSetting
	}
	return []Assignment{{"language", lang}}, nil
}

func parseSwitch(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "on", "вкл", "true", "1":
		return true, true
	case "off", "выкл", "false", "0":
		return false, true
	}
	return false, false
}

func (s *Service) generation(guildID int64) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen[guildID]
}

func (s *Service) invalidate(guildID int64) {
	s.mu.Lock()
	s.gen[guildID]++
	delete(s.guilds, guildID)
	delete(s.channels, guildID)
	s.mu.Unlock()
	s.group.Forget("guild:" + strconv.FormatInt(guildID, 10))
	s.group.Forget("channels:" + strconv.FormatInt(guildID, 10))
}

// ChannelAllowed — можно ли отвечать в канале. Пустой белый список
// разрешает все каналы.
func (s *Service) ChannelAllowed(ctx context.Context, guildID, channelID int64) (bool, error) {
	set, err := s.activeSet(ctx, guildID)
	if err != nil {
		return false, err
	}
	if len(set) == 0 {
		return true, nil
	}
	_, ok := set[channelID]
	return ok, nil
}

func (s *Service) activeSet(ctx context.Context, guildID int64) (map[int64]struct{}, error) {
	s.mu.RLock()
	set, ok := s.channels[guildID]
	s.mu.RUnlock()
	if ok {
		return set, nil
	}

	v, err, _ := s.group.Do("channels:"+strconv.FormatInt(guildID, 10), func() (any, error) {
		gen := s.generation(guildID)
		ids, err := s.store.ActiveChannels(ctx, guildID)
		if err != nil {
			return nil, err
		}
		set := make(map[int64]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		s.mu.Lock()
		if s.gen[guildID] == gen {
			s.channels[guildID] = set
		}
		s.mu.Unlock()
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[int64]struct{}), nil
}

// ActiveChannels возвращает белый список каналов.
func (s *Service) ActiveChannels(ctx context.Context, guildID int64) ([]int64, error) {
	return s.store.ActiveChannels(ctx, guildID)
}

// AllowChannel добавляет канал в белый список.
func (s *Service) AllowChannel(ctx context.Context, guildID, channelID int64) (bool, error) {
	added, err := s.store.AddActiveChannel(ctx, guildID, channelID)
	if err != nil {
		return false, err
	}
	s.invalidate(guildID)
	return added, nil
}

// DisallowChannel убирает канал из белого списка.
func (s *Service) DisallowChannel(ctx context.Context, guildID, channelID int64) (bool, error) {
	removed, err := s.store.RemoveActiveChannel(ctx, guildID, channelID)
	if err != nil {
		return false, err
	}
	s.invalidate(guildID)
	return removed, nil
}

// RoleForReaction возвращает роль за реакцию (0 — привязки нет).
func (s *Service) RoleForReaction(ctx context.Context, guildID, messageID int64, emoji string) (int64, error) {
	rr, err := s.store.ReactionRole(ctx, guildID, messageID, emoji)
	if errors.Is(err, postgres.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return rr.RoleID, nil
}

// BindReactionRole привязывает роль к реакции.
func (s *Service) BindReactionRole(ctx context.Context, rr ReactionRole) error {
	if rr.MessageID == 0 || rr.RoleID == 0 || strings.TrimSpace(rr.Emoji) == "" {
		return common.ErrInvalidSetting
	}
	return s.store.SetReactionRole(ctx, rr)
}

// UnbindReactionRole убирает привязку.
func (s *Service) UnbindReactionRole(ctx context.Context, guildID, messageID int64, emoji string) (bool, error) {
	return s.store.DeleteReactionRole(ctx, guildID, messageID, emoji)
}

// ReactionRoles возвращает все привязки сервера.
func (s *Service) ReactionRoles(ctx context.Context, guildID int64) ([]ReactionRole, error) {
	return s.store.ReactionRoles(ctx, guildID)
}
