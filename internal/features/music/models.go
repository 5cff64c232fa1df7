// Package music — models.go описывает трек, режимы повтора, состояния плеера
// и интерфейсы внешних частей (поиск, голосовой транспорт, панель управления).
package music

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Track — один трек в очереди. После постановки в очередь не меняется.
type Track struct {
	Title       string
	Locator     string        // что отдаём ffmpeg (прямая ссылка на аудио)
	URL         string        // страница трека для показа пользователю
	Thumbnail   string
	Duration    time.Duration // 0 — прямой эфир или неизвестно
	RequesterID int64         // 0 — поставлен автоплеем
}

// LoopMode — режим повтора.
type LoopMode int

const (
	LoopOff LoopMode = iota
	LoopTrack
	LoopQueue
)

func (m LoopMode) String() string {
	switch m {
	case LoopTrack:
		return "track"
	case LoopQueue:
		return "queue"
	default:
		return "off"
	}
}

// Next — следующий режим для кнопки на панели: off → track → queue → off.
func (m LoopMode) Next() LoopMode {
	return (m + 1) % 3
}

// ParseLoopMode понимает английские и русские названия режимов.
func ParseLoopMode(s string) (LoopMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "выкл", "нет", "0":
		return LoopOff, nil
	case "track", "трек", "song", "1":
		return LoopTrack, nil
	case "queue", "очередь", "all", "2":
		return LoopQueue, nil
	}
	return LoopOff, fmt.Errorf("неизвестный режим повтора %q (off, track, queue)", s)
}

// State — состояние сессии плеера.
type State int

const (
	StateIdle State = iota
	StatePlaying
	StatePaused
	StateTransitioning
	StateAutoplaySearch
	StateInactiveCountdown
)

func (s State) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateTransitioning:
		return "transitioning"
	case StateAutoplaySearch:
		return "autoplay_search"
	case StateInactiveCountdown:
		return "inactive_countdown"
	default:
		return "idle"
	}
}

// PanelRef — ссылка на живое сообщение с панелью управления.
type PanelRef struct {
	ChannelID int64
	MessageID int64
}

// Snapshot — копия состояния сессии для панели и команд вроде !queue.
type Snapshot struct {
	GuildID        int64
	State          State
	Current        *Track
	Queue          []Track
	History        []Track
	Loop           LoopMode
	Autoplay       bool
	Volume         float64
	Connected      bool
	VoiceChannelID int64
	TextChannelID  int64
}

// Resolver превращает запрос или ссылку в треки.
// Пустой результат и ошибка для сессии одинаково означают «ничего не найдено».
type Resolver interface {
	// Resolve принимает ссылку (трек или плейлист) либо текст для поиска.
	Resolve(ctx context.Context, query string) ([]Track, error)
	// Search ищет до limit треков по тексту.
	Search(ctx context.Context, query string, limit int) ([]Track, error)
}

// Voice — голосовое подключение одной гильдии.
// onComplete из Play вызывается ровно один раз: по концу трека, после Stop
// или при ошибке потока. Если Play вернул ошибку, onComplete не вызывается.
type Voice interface {
	Connect(ctx context.Context, channelID int64) error
	Move(ctx context.Context, channelID int64) error
	Disconnect() error
	Connected() bool
	ChannelID() int64

	Play(track Track, volume float64, onComplete func(err error)) error
	Pause()
	Resume()
	Stop()
	IsPlaying() bool
	IsPaused() bool
}

// Panel рисует панель управления и шлёт короткие уведомления в текстовый канал.
type Panel interface {
	Show(ctx context.Context, channelID int64, snap Snapshot) (PanelRef, error)
	Update(ctx context.Context, ref PanelRef, snap Snapshot) error
	Delete(ctx context.Context, ref PanelRef) error
	Notify(ctx context.Context, channelID int64, text string)
}
