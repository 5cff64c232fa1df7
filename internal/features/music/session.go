// Package music — session.go содержит сессию плеера одной гильдии.
//
// Всё состояние сессии (очередь, текущий трек, история, панель) принадлежит
// одной горутине. Команды пользователей, колбэки окончания трека и таймер
// простоя присылают ей замыкания через mailbox, поэтому две команды одной
// гильдии никогда не меняют очередь одновременно.
package music

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/guild-bot/internal/common"
)

const (
	mailboxSize        = 32
	panelTimeout       = 10 * time.Second
	autoplayTimeout    = 30 * time.Second
	autoplayCandidates = 5
	maxVolumePercent   = 200
)

var errSessionPanic = errors.New("внутренняя ошибка плеера")

// Options — настройки сессии, общие для всех гильдий.
type Options struct {
	IdleTimeout    time.Duration
	HistorySize    int
	AutoplaySuffix string
}

// DefaultOptions — значения по умолчанию (как в конфиге).
func DefaultOptions() Options {
	return Options{
		IdleTimeout:    120 * time.Second,
		HistorySize:    20,
		AutoplaySuffix: "mix",
	}
}

// Session — плеер одной гильдии.
type Session struct {
	guildID  int64
	opts     Options
	voice    Voice
	resolver Resolver
	panel    Panel

	// voiceMu сериализует подключение, переезд и отключение голоса
	voiceMu sync.Mutex

	mailbox   chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	lastActive atomic.Int64

	// Поля ниже трогает только горутина run.
	state         State
	queue         []Track
	current       *Track
	loop          LoopMode
	autoplay      bool
	volume        float64
	history       []Track
	panelRef      *PanelRef
	textChannelID int64

	playGen      uint64 // номер текущего воспроизведения, устаревшие колбэки игнорируются
	autoplaySeq  uint64
	countdownSeq uint64
	countdown    *time.Timer
}

// NewSession создаёт сессию и запускает её горутину.
func NewSession(guildID int64, opts Options, voice Voice, resolver Resolver, panel Panel) *Session {
	def := DefaultOptions()
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = def.IdleTimeout
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = def.HistorySize
	}

	s := &Session{
		guildID:  guildID,
		opts:     opts,
		voice:    voice,
		resolver: resolver,
		panel:    panel,
		mailbox:  make(chan func(), mailboxSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		state:    StateIdle,
		volume:   1.0,
	}
	s.touch()
	go s.run()
	return s
}

// GuildID возвращает id гильдии сессии.
func (s *Session) GuildID() int64 { return s.guildID }

// IdleFor — сколько прошло с последней команды.
func (s *Session) IdleFor() time.Duration {
	return time.Since(time.Unix(0, s.lastActive.Load()))
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *Session) logger() *log.Entry {
	return log.WithFields(log.Fields{
		"component": "music",
		"guild_id":  s.guildID,
	})
}

// run — единственная горутина, которая меняет состояние сессии.
func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.mailbox:
			s.handle(fn)
		case <-s.quit:
			s.teardown()
			return
		}
	}
}

// handle выполняет одно сообщение. Паника не убивает сессию: текущий трек
// останавливается и сессия уходит в ожидание отключения.
func (s *Session) handle(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger().WithField("panic", r).Error("Паника в сессии плеера")
			s.recoverState()
		}
	}()
	fn()
}

func (s *Session) recoverState() {
	defer func() {
		if r := recover(); r != nil {
			s.logger().WithField("panic", r).Error("Не удалось восстановить сессию плеера")
		}
	}()
	s.playGen++
	s.autoplaySeq++
	s.voice.Stop()
	s.current = nil
	s.enterCountdown()
}

// do отправляет замыкание в горутину сессии и ждёт результат.
// Команда считается активностью и откладывает сборку сессии.
func (s *Session) do(ctx context.Context, fn func() error) error {
	s.touch()
	return s.call(ctx, fn)
}

func (s *Session) call(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	msg := func() {
		finished := false
		defer func() {
			if !finished {
				errc <- errSessionPanic
			}
		}()
		err := fn()
		finished = true
		errc <- err
	}

	select {
	case s.mailbox <- msg:
	case <-s.quit:
		return common.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errc:
		return err
	case <-s.done:
		select {
		case err := <-errc:
			return err
		default:
			return common.ErrSessionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post отправляет замыкание без ожидания. Используется колбэками голоса,
// таймерами и фоновым поиском, поэтому никогда не блокирует вызывающего.
func (s *Session) post(fn func()) {
	go func() {
		select {
		case s.mailbox <- fn:
		case <-s.quit:
		}
	}()
}

// Close останавливает сессию: голос отключается, панель удаляется.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.quit) })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---- Подключение к голосу ----

// Join подключает бота к голосовому каналу (или переносит его туда)
// и запоминает текстовый канал для панели.
func (s *Session) Join(ctx context.Context, voiceChannelID, textChannelID int64) error {
	if err := s.connect(ctx, voiceChannelID); err != nil {
		return err
	}
	return s.do(ctx, func() error {
		s.textChannelID = textChannelID
		return nil
	})
}

func (s *Session) connect(ctx context.Context, channelID int64) error {
	s.voiceMu.Lock()
	defer s.voiceMu.Unlock()

	if s.voice.Connected() {
		if s.voice.ChannelID() == channelID {
			return nil
		}
		if err := s.voice.Move(ctx, channelID); err != nil {
			return fmt.Errorf("переезд в канал %d: %w", channelID, err)
		}
		s.logger().WithField("channel_id", channelID).Info("Плеер переехал в другой канал")
		return nil
	}
	if err := s.voice.Connect(ctx, channelID); err != nil {
		return fmt.Errorf("подключение к каналу %d: %w", channelID, err)
	}
	s.logger().WithField("channel_id", channelID).Info("Плеер подключился к голосу")
	return nil
}

func (s *Session) disconnect() {
	s.voiceMu.Lock()
	defer s.voiceMu.Unlock()

	if !s.voice.Connected() {
		return
	}
	if err := s.voice.Disconnect(); err != nil {
		s.logger().WithError(err).Warn("Ошибка отключения от голоса")
		return
	}
	s.logger().Info("Плеер отключился от голоса")
}

// ---- Команды ----

// Enqueue добавляет треки в конец очереди. Если ничего не играло,
// сразу запускает первый. Возвращает позицию первого трека в очереди
// (1 — следующий) или 0, если он уже играет.
func (s *Session) Enqueue(ctx context.Context, tracks ...Track) (int, error) {
	var pos int
	err := s.do(ctx, func() error {
		if len(tracks) == 0 {
			return common.ErrNothingFound
		}
		pos = len(s.queue) + 1
		s.queue = append(s.queue, tracks...)

		switch s.state {
		case StateIdle, StateInactiveCountdown, StateAutoplaySearch:
			s.autoplaySeq++
			s.state = StateTransitioning
			s.advance()
			if s.current != nil && s.current.Locator == tracks[0].Locator && pos == 1 {
				pos = 0
			}
		default:
			s.updatePanel()
		}
		return nil
	})
	return pos, err
}

// Skip останавливает текущий трек и запускает следующий. Режим повтора
// применяется как при обычном окончании: при LoopTrack трек начнётся заново.
func (s *Session) Skip(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.current == nil {
			return common.ErrNothingPlaying
		}
		s.playGen++
		s.voice.Stop()
		s.finishCurrent()
		s.state = StateTransitioning
		s.advance()
		return nil
	})
}

// Stop очищает очередь и сбрасывает повтор и автоплей. История остаётся.
// Подключение к голосу живёт до истечения таймера простоя.
func (s *Session) Stop(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.stopPlayback()
		s.state = StateIdle
		s.deletePanel()
		if s.voice.Connected() {
			s.armIdleTimer()
		}
		return nil
	})
}

// Leave останавливает воспроизведение и сразу отключается от голоса.
func (s *Session) Leave(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.stopPlayback()
		s.stopCountdown()
		s.disconnect()
		s.deletePanel()
		s.state = StateIdle
		return nil
	})
}

// Pause ставит на паузу. Повторный вызов на паузе ничего не меняет.
func (s *Session) Pause(ctx context.Context) error {
	return s.do(ctx, func() error {
		switch s.state {
		case StatePaused:
			return nil
		case StatePlaying:
			s.voice.Pause()
			s.state = StatePaused
			s.updatePanel()
			return nil
		}
		return common.ErrNothingPlaying
	})
}

// Resume снимает с паузы. Если уже играет — ничего не делает.
func (s *Session) Resume(ctx context.Context) error {
	return s.do(ctx, func() error {
		switch s.state {
		case StatePlaying:
			return nil
		case StatePaused:
			s.voice.Resume()
			s.state = StatePlaying
			s.updatePanel()
			return nil
		}
		return common.ErrNothingPlaying
	})
}

// TogglePause — пауза или продолжение, для кнопки на панели.
func (s *Session) TogglePause(ctx context.Context) error {
	return s.do(ctx, func() error {
		switch s.state {
		case StatePlaying:
			s.voice.Pause()
			s.state = StatePaused
		case StatePaused:
			s.voice.Resume()
			s.state = StatePlaying
		default:
			return common.ErrNothingPlaying
		}
		s.updatePanel()
		return nil
	})
}

// Previous возвращает предыдущий трек из истории в начало очереди и играет его.
// Текущий трек встаёт сразу за ним. Нужно минимум две записи в истории.
func (s *Session) Previous(ctx context.Context) error {
	return s.do(ctx, func() error {
		if len(s.history) < 2 {
			return common.ErrNotEnoughHistory
		}
		prev := s.history[len(s.history)-1]
		s.history = s.history[:len(s.history)-1]

		if s.current != nil {
			s.queue = prepend(s.queue, *s.current)
			s.current = nil
		}
		s.queue = prepend(s.queue, prev)

		s.playGen++
		s.autoplaySeq++
		s.voice.Stop()
		s.state = StateTransitioning
		s.advance()
		return nil
	})
}

// Shuffle перемешивает очередь (текущий трек не трогается).
func (s *Session) Shuffle(ctx context.Context) error {
	return s.do(ctx, func() error {
		if len(s.queue) < 2 {
			return nil
		}
		rand.Shuffle(len(s.queue), func(i, j int) {
			s.queue[i], s.queue[j] = s.queue[j], s.queue[i]
		})
		s.updatePanel()
		return nil
	})
}

// Move переносит трек с позиции from на позицию to (обе с 1).
func (s *Session) Move(ctx context.Context, from, to int) error {
	return s.do(ctx, func() error {
		if from < 1 || from > len(s.queue) || to < 1 || to > len(s.queue) {
			return common.ErrBadPosition
		}
		t := s.queue[from-1]
		s.queue = append(s.queue[:from-1], s.queue[from:]...)
		s.queue = insertAt(s.queue, to-1, t)
		s.updatePanel()
		return nil
	})
}

// Remove удаляет трек с позиции pos (с 1) и возвращает его.
func (s *Session) Remove(ctx context.Context, pos int) (Track, error) {
	var removed Track
	err := s.do(ctx, func() error {
		if pos < 1 || pos > len(s.queue) {
			return common.ErrBadPosition
		}
		removed = s.queue[pos-1]
		s.queue = append(s.queue[:pos-1], s.queue[pos:]...)
		s.updatePanel()
		return nil
	})
	return removed, err
}

// Clear очищает очередь, текущий трек доигрывает.
func (s *Session) Clear(ctx context.Context) (int, error) {
	var n int
	err := s.do(ctx, func() error {
		n = len(s.queue)
		s.queue = nil
		s.updatePanel()
		return nil
	})
	return n, err
}

// SetLoop меняет режим повтора.
func (s *Session) SetLoop(ctx context.Context, mode LoopMode) error {
	return s.do(ctx, func() error {
		s.loop = mode
		s.updatePanel()
		return nil
	})
}

// CycleLoop переключает повтор по кругу и возвращает новый режим.
func (s *Session) CycleLoop(ctx context.Context) (LoopMode, error) {
	var mode LoopMode
	err := s.do(ctx, func() error {
		s.loop = s.loop.Next()
		mode = s.loop
		s.updatePanel()
		return nil
	})
	return mode, err
}

// SetAutoplay включает или выключает автоплей. Если очередь уже кончилась
// и идёт отсчёт до отключения, включение сразу запускает поиск.
func (s *Session) SetAutoplay(ctx context.Context, on bool) error {
	return s.do(ctx, func() error {
		s.setAutoplay(on)
		return nil
	})
}

// ToggleAutoplay — для кнопки на панели. Возвращает новое значение.
func (s *Session) ToggleAutoplay(ctx context.Context) (bool, error) {
	var on bool
	err := s.do(ctx, func() error {
		on = !s.autoplay
		s.setAutoplay(on)
		return nil
	})
	return on, err
}

func (s *Session) setAutoplay(on bool) {
	s.autoplay = on
	if !on {
		s.autoplaySeq++
		if s.state == StateAutoplaySearch {
			s.enterCountdown()
			return
		}
	} else if s.state == StateInactiveCountdown && len(s.history) > 0 {
		s.startAutoplay()
	}
	s.updatePanel()
}

// SetVolume задаёт громкость в процентах (0–200). Применяется со следующего трека.
func (s *Session) SetVolume(ctx context.Context, percent int) error {
	if percent < 0 || percent > maxVolumePercent {
		return common.ErrInvalidVolume
	}
	return s.do(ctx, func() error {
		s.volume = float64(percent) / 100
		s.updatePanel()
		return nil
	})
}

// Snapshot возвращает копию состояния.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func() error {
		snap = s.snapshot()
		return nil
	})
	return snap, err
}

// peek — снимок для фоновых задач, не считается активностью.
func (s *Session) peek(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.call(ctx, func() error {
		snap = s.snapshot()
		return nil
	})
	return snap, err
}

// ---- Переходы состояний (только из горутины run) ----

// advance решает, что играть дальше. Текущий трек (если есть) уходит
// в историю с учётом режима повтора, затем из очереди берётся следующий.
// Треки, которые не удалось запустить, выкидываются, поэтому цикл конечен.
func (s *Session) advance() {
	s.finishCurrent()
	s.stopCountdown()

	failed := 0
	for len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]

		s.playGen++
		gen := s.playGen
		err := s.voice.Play(next, s.volume, func(err error) {
			s.post(func() { s.trackEnded(gen, err) })
		})
		if err != nil {
			failed++
			s.logger().WithError(err).WithField("track", next.Title).Warn("Не удалось запустить трек, пропускаем")
			s.notify(fmt.Sprintf("⚠️ Не удалось воспроизвести «%s», пропускаю", common.Truncate(next.Title, 80)))
			continue
		}

		s.current = &next
		s.state = StatePlaying
		s.replacePanel()
		return
	}

	if s.autoplay && len(s.history) > 0 && failed == 0 {
		s.startAutoplay()
		return
	}
	s.enterCountdown()
}

// finishCurrent убирает текущий трек в историю и применяет режим повтора.
func (s *Session) finishCurrent() {
	if s.current == nil {
		return
	}
	finished := *s.current
	s.current = nil

	switch s.loop {
	case LoopTrack:
		s.queue = prepend(s.queue, finished)
	case LoopQueue:
		s.queue = append(s.queue, finished)
	}
	s.pushHistory(finished)
}

func (s *Session) pushHistory(t Track) {
	s.history = append(s.history, t)
	if over := len(s.history) - s.opts.HistorySize; over > 0 {
		s.history = append([]Track(nil), s.history[over:]...)
	}
}

// trackEnded приходит от голосового транспорта. Колбэк от уже остановленного
// трека (skip, stop, previous) имеет старый номер и игнорируется.
func (s *Session) trackEnded(gen uint64, err error) {
	if gen != s.playGen || s.current == nil {
		return
	}
	if err != nil {
		s.logger().WithError(err).WithField("track", s.current.Title).Warn("Трек оборвался")
		s.notify(fmt.Sprintf("⚠️ Трек «%s» оборвался, играю следующий", common.Truncate(s.current.Title, 80)))
	}
	s.state = StateTransitioning
	s.advance()
}

func (s *Session) stopPlayback() {
	s.playGen++
	s.autoplaySeq++
	s.voice.Stop()
	s.current = nil
	s.queue = nil
	s.loop = LoopOff
	s.autoplay = false
	s.stopCountdown()
}

// ---- Автоплей ----

func (s *Session) startAutoplay() {
	s.state = StateAutoplaySearch
	s.autoplaySeq++
	seq := s.autoplaySeq

	last := s.history[len(s.history)-1]
	query := strings.TrimSpace(last.Title + " " + s.opts.AutoplaySuffix)
	played := make(map[string]bool, len(s.history))
	for _, t := range s.history {
		played[trackKey(t)] = true
	}

	s.logger().WithField("query", query).Debug("Автоплей: ищем продолжение")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), autoplayTimeout)
		defer cancel()
		tracks, err := s.resolver.Search(ctx, query, autoplayCandidates)
		s.post(func() { s.autoplayResult(seq, tracks, err, played) })
	}()
}

func (s *Session) autoplayResult(seq uint64, tracks []Track, err error, played map[string]bool) {
	if seq != s.autoplaySeq || s.state != StateAutoplaySearch {
		return
	}
	if err != nil {
		s.logger().WithError(err).Warn("Автоплей: поиск не удался")
	}
	for _, t := range tracks {
		if played[trackKey(t)] {
			continue
		}
		t.RequesterID = 0
		s.queue = append(s.queue, t)
		s.state = StateTransitioning
		s.advance()
		return
	}
	s.notify("🔎 Автоплей не нашёл, что включить дальше")
	s.enterCountdown()
}

func trackKey(t Track) string {
	if t.URL != "" {
		return t.URL
	}
	return t.Locator
}

// ---- Таймер простоя ----

func (s *Session) enterCountdown() {
	s.current = nil
	s.state = StateInactiveCountdown
	s.armIdleTimer()
	s.updatePanel()
}

func (s *Session) armIdleTimer() {
	s.stopCountdown()
	s.countdownSeq++
	seq := s.countdownSeq
	s.countdown = time.AfterFunc(s.opts.IdleTimeout, func() {
		s.post(func() { s.idleCheck(seq) })
	})
}

func (s *Session) stopCountdown() {
	if s.countdown != nil {
		s.countdown.Stop()
		s.countdown = nil
	}
}

// idleCheck смотрит на состояние в момент срабатывания таймера,
// а не на то, что было при его запуске.
func (s *Session) idleCheck(seq uint64) {
	if seq != s.countdownSeq {
		return
	}
	s.countdown = nil
	if s.state != StateInactiveCountdown && s.state != StateIdle {
		return
	}
	if s.current != nil || len(s.queue) > 0 || s.voice.IsPlaying() || s.voice.IsPaused() {
		return
	}

	s.logger().Info("Плеер простаивает, отключаемся")
	s.disconnect()
	s.deletePanel()
	s.state = StateIdle
}

// teardown вызывается при закрытии сессии.
func (s *Session) teardown() {
	defer func() {
		if r := recover(); r != nil {
			s.logger().WithField("panic", r).Error("Паника при закрытии сессии плеера")
		}
	}()
	s.stopPlayback()
	s.disconnect()
	s.deletePanel()
	s.state = StateIdle
}

// ---- Панель ----

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		GuildID:        s.guildID,
		State:          s.state,
		Queue:          append([]Track(nil), s.queue...),
		History:        append([]Track(nil), s.history...),
		Loop:           s.loop,
		Autoplay:       s.autoplay,
		Volume:         s.volume,
		Connected:      s.voice.Connected(),
		VoiceChannelID: s.voice.ChannelID(),
		TextChannelID:  s.textChannelID,
	}
	if s.current != nil {
		cur := *s.current
		snap.Current = &cur
	}
	return snap
}

// replacePanel удаляет старую панель и отправляет новую.
// Живой остаётся максимум одна панель на гильдию.
func (s *Session) replacePanel() {
	if s.textChannelID == 0 {
		return
	}
	s.deletePanel()

	ctx, cancel := context.WithTimeout(context.Background(), panelTimeout)
	defer cancel()
	ref, err := s.panel.Show(ctx, s.textChannelID, s.snapshot())
	if err != nil {
		s.logger().WithError(err).Warn("Не удалось отправить панель")
		return
	}
	s.panelRef = &ref
}

func (s *Session) updatePanel() {
	if s.panelRef == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), panelTimeout)
	defer cancel()
	if err := s.panel.Update(ctx, *s.panelRef, s.snapshot()); err != nil {
		s.logger().WithError(err).Debug("Не удалось обновить панель")
	}
}

func (s *Session) deletePanel() {
	if s.panelRef == nil {
		return
	}
	ref := *s.panelRef
	s.panelRef = nil

	ctx, cancel := context.WithTimeout(context.Background(), panelTimeout)
	defer cancel()
	if err := s.panel.Delete(ctx, ref); err != nil {
		s.logger().WithError(err).Debug("Не удалось удалить панель")
	}
}

func (s *Session) notify(text string) {
	if s.textChannelID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), panelTimeout)
	defer cancel()
	s.panel.Notify(ctx, s.textChannelID, text)
}

func prepend(q []Track, t Track) []Track {
	return append([]Track{t}, q...)
}

func insertAt(q []Track, i int, t Track) []Track {
	q = append(q, Track{})
	copy(q[i+1:], q[i:])
	q[i] = t
	return q
}
