package music

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/guild-bot/internal/common"
)

const (
	testGuild = int64(1)
	testVoice = int64(10)
	testText  = int64(20)
	waitFor   = 2 * time.Second
	tick      = 5 * time.Millisecond
)

func track(name string) Track {
	return Track{
		Title:       name,
		Locator:     "stream://" + name,
		URL:         "https://example.com/" + name,
		Duration:    3 * time.Minute,
		RequesterID: 42,
	}
}

type harness struct {
	s        *Session
	voice    *fakeVoice
	panel    *fakePanel
	resolver *fakeResolver
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		voice:    newFakeVoice(),
		panel:    newFakePanel(),
		resolver: &fakeResolver{},
	}
	h.s = NewSession(testGuild, opts, h.voice, h.resolver, h.panel)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.s.Close(ctx)
	})
	require.NoError(t, h.s.Join(context.Background(), testVoice, testText))
	return h
}

func (h *harness) snap(t *testing.T) Snapshot {
	t.Helper()
	snap, err := h.s.Snapshot(context.Background())
	require.NoError(t, err)
	return snap
}

// currentTitle безопасно вызывать из require.Eventually.
func (h *harness) currentTitle() string {
	snap, err := h.s.Snapshot(context.Background())
	if err != nil || snap.Current == nil {
		return ""
	}
	return snap.Current.Title
}

func (h *harness) state() State {
	snap, err := h.s.Snapshot(context.Background())
	if err != nil {
		return -1
	}
	return snap.State
}

func (h *harness) waitCurrent(t *testing.T, title string) {
	t.Helper()
	require.Eventually(t, func() bool { return h.currentTitle() == title }, waitFor, tick, "ждали трек %s", title)
}

func (h *harness) waitState(t *testing.T, st State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.state() == st }, waitFor, tick, "ждали состояние %s", st)
}

func titles(tracks []Track) []string {
	out := make([]string, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, t.Title)
	}
	return out
}

func TestEnqueue_PlaysFirstAndKeepsOrder(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	ctx := context.Background()

	pos, err := h.s.Enqueue(ctx, track("A"))
	require.NoError(t, err)
	assert.Equal(t, 0, pos)

	pos, err = h.s.Enqueue(ctx, track("B"), track("C"))
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	pos, err = h.s.Enqueue(ctx, track("D"))
	require.NoError(t, err)
	assert.Equal(t, 3, pos)

	snap := h.snap(t)
	assert.Equal(t, StatePlaying, snap.State)
	require.NotNil(t, snap.Current)
	assert.Equal(t, "A", snap.Current.Title)
	assert.Equal(t, []string{"B", "C", "D"}, titles(snap.Queue))
	assert.Equal(t, []string{"A"}, h.voice.playTitles())
}

func TestEnqueue_Empty(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	_, err := h.s.Enqueue(context.Background())
	assert.ErrorIs(t, err, common.ErrNothingFound)
	assert.Equal(t, StateIdle, h.snap(t).State)
}

func TestHistory_BoundedOldestEvicted(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	ctx := context.Background()

	var tracks []Track
	for i := 0; i < 25; i++ {
		tracks = append(tracks, track(fmt.Sprintf("t%02d", i)))
	}
	_, err := h.s.Enqueue(ctx, tracks...)
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		h.waitCurrent(t, fmt.Sprintf("t%02d", i))
		require.True(t, h.voice.finish())
	}
	h.waitState(t, StateInactiveCountdown)

	snap := h.snap(t)
	require.Len(t, snap.History, 20)
	assert.Equal(t, "t05", snap.History[0].Title)
	assert.Equal(t, "t24", snap.History[19].Title)
	assert.Nil(t, snap.Current)
	assert.Empty(t, snap.Queue)
}

func TestPauseResume_Idempotent(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	ctx := context.Background()

	_, err := h.s.Enqueue(ctx, track("A"), track("B"))
	require.NoError(t, err)

	require.NoError(t, h.s.Pause(ctx))
	before := h.snap(t)
	assert.Equal(t, StatePaused, before.State)

	require.NoError(t, h.s.Pause(ctx))
	after := h.snap(t)
	assert.Equal(t, before.Current, after.Current)
	assert.Equal(t, before.Queue, after.Queue)
	assert.Equal(t, before.History, after.History)
	assert.Equal(t, StatePaused, after.State)

	require.NoError(t, h.s.Resume(ctx))
	require.NoError(t, h.s.Resume(ctx))
	assert.Equal(t, StatePlaying, h.snap(t).State)

	h.voice.mu.Lock()
	assert.Equal(t, 1, h.voice.pauses)
	h.voice.mu.Unlock()
}

func TestPause_NothingPlaying(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	assert.ErrorIs(t, h.s.Pause(context.Background()), common.ErrNothingPlaying)
	assert.ErrorIs(t, h.s.Resume(context.Background()), common.ErrNothingPlaying)
}

func TestLoopTrack_ReplaysSameTrack(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	ctx := context.Background()

	_, err := h.s.Enqueue(ctx, track("A"), track("B"))
	require.NoError(t, err)
	require.NoError(t, h.s.SetLoop(ctx, LoopTrack))

	for i := 0; i < 3; i++ {
		require.True(t, h.voice.finish())
		want := i + 2
		require.Eventually(t, func() bool { return h.voice.playCount() == want }, waitFor, tick)

		snap := h.snap(t)
		require.NotNil(t, snap.Current)
		assert.Equal(t, "A", snap.Current.Title)
		assert.Equal(t, []string{"B"}, titles(snap.Queue))
	}
	assert.Equal(t, []string{"A", "A", "A", "A"}, h.voice.playTitles())
}

func TestLoopQueue_Cycles(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	ctx := context.Background()

	advance := func() Snapshot {
		var snap Snapshot
		require.NoError(t, h.s.do(ctx, func() error {
			s := h.s
			if len(s.queue) == 0 && s.current == nil {
				s.queue = []Track{track("A"), track("B")}
				s.loop = LoopQueue
			}
			s.advance()
			snap = s.snapshot()
			return nil
		}))
		return snap
	}

	steps := []struct {
		current string
		queue   []string
	}{
		{"A", []string{"B"}},
		{"B", []string{"A"}},
		{"A", []string{"B"}},
	}
	for i, step := range steps {
		snap := advance()
		require.NotNil(t, snap.Current, "шаг %d", i)
		assert.Equal(t, step.current, snap.Current.Title, "шаг %d", i)
		assert.Equal(t, step.queue, titles(snap.Queue), "шаг %d", i)
	}
}

func TestIdleCountdown_DisconnectsOnce(t *testing.T) {
	h := newHarness(t, Options{IdleTimeout: 30 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, h.s.do(ctx, func() error {
		h.s.advance()
		return nil
	}))
	assert.Equal(t, StateInactiveCountdown, h.snap(t).State)

	require.Eventually(t, func() bool { return h.voice.disconnectCount() == 1 }, waitFor, tick)
	h.waitState(t, StateIdle)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, h.voice.disconnectCount())
	assert.False(t, h.snap(t).Connected)
}

func TestIdleCountdown_CancelledByEnqueue(t *testing.T) {
	h := newHarness(t, Options{IdleTimeout: 80 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, h.s.do(ctx, func() error {
		h.s.advance()
		return nil
	}))
	_, err := h.s.Enqueue(ctx, track("A"))
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, h.voice.disconnectCount())
	assert.Equal(t, StatePlaying, h.snap(t).State)
}

func TestSkip_ConcurrentCallsAreSerialized(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	ctx := context.Background()

	_, err := h.s.Enqueue(ctx, track("A"), track("B"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = h.s.Skip(ctx)
		}(i)
	}
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])

	// устаревшие колбэки от Stop не должны запустить ещё один advance
	time.Sleep(50 * time.Millisecond)
	snap := h.snap(t)
	assert.Equal(t, []string{"A", "B"}, h.voice.playTitles())
	assert.Equal(t, []string{"A", "B"}, titles(snap.History))
	assert.Equal(t, StateInactiveCountdown, snap.State)
	assert.Nil(t, snap.Current)

	assert.ErrorIs(t, h.s.Skip(ctx), common.ErrNothingPlaying)
}

func TestSkip_AppliesLoopMode(t *testing.T) {
	t.Run("track loop restarts the same track", func(t *testing.T) {
		h := newHarness(t, DefaultOptions())
		ctx := context.Background()

		_, err := h.s.Enqueue(ctx, track("A"), track("B"))
		require.NoError(t, err)
		require.NoError(t, h.s.SetLoop(ctx, LoopTrack))
		require.NoError(t, h.s.Skip(ctx))

		snap := h.snap(t)
		assert.Equal(t, "A", h.currentTitle())
		assert.Equal(t, []string{"B"}, titles(snap.Queue))
		assert.Equal(t, []string{"A"}, titles(snap.History))
	})

	t.Run("queue loop moves the track to the tail", func(t *testing.T) {
		h := newHarness(t, DefaultOptions())
		ctx := context.Background()

		_, err := h.s.Enqueue(ctx, track("A"), track("B"))
		require.NoError(t, err)
		require.NoError(t, h.s.SetLoop(ctx, LoopQueue))
		require.NoError(t, h.s.Skip(ctx))

		assert.Equal(t, "B", h.currentTitle())
		assert.Equal(t, []string{"A"}, titles(h.snap(t).Queue))
	})
}

func TestPrevious(t *testing.T) {
	t.Run("one history entry is rejected", func(t *testing.T) {
		h := newHarness(t, DefaultOptions())
		ctx := context.Background()

		_, err := h.s.Enqueue(ctx, track("A"), track("B"))
		require.NoError(t, err)
		require.True(t, h.voice.finish())
		h.waitCurrent(t, "B")

		before := h.snap(t)
		assert.ErrorIs(t, h.s.Previous(ctx), common.ErrNotEnoughHistory)
		after := h.snap(t)
		assert.Equal(t, before.Current, after.Current)
		assert.Equal(t, before.Queue, after.Queue)
		assert.Equal(t, []string{"A"}, titles(after.History))
	})

	t.Run("restores prior track at queue head", func(t *testing.T) {
		h := newHarness(t, DefaultOptions())
		ctx := context.Background()

		_, err := h.s.Enqueue(ctx, track("A"), track("B"), track("C"))
		require.NoError(t, err)
		require.True(t, h.voice.finish())
		h.waitCurrent(t, "B")
		require.True(t, h.voice.finish())
		h.waitCurrent(t, "C")

		require.NoError(t, h.s.Previous(ctx))

		snap := h.snap(t)
		require.NotNil(t, snap.Current)
		assert.Equal(t, "B", snap.Current.Title)
		assert.Equal(t, []string{"C"}, titles(snap.Queue))
		assert.Equal(t, []string{"A"}, titles(snap.History))
		assert.Equal(t, []string{"A", "B", "C", "B"}, h.voice.playTitles())
	})
}

func TestBindFailure_SkipsToNext(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	ctx := context.Background()
	h.voice.failing["stream://bad1"] = true
	h.voice.failing["stream://bad2"] = true

	_, err := h.s.Enqueue(ctx, track("bad1"), track("bad2"), track("good"))
	require.NoError(t, err)

	snap := h.snap(t)
	require.NotNil(t, snap.Current)
	assert.Equal(t, "good", snap.Current.Title)
	assert.Empty(t, snap.Queue)
	assert.Len(t, h.panel.notesCopy(), 2)
}

func TestBindFailure_AllTracksFail(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	ctx := context.Background()
	h.voice.failing["stream://bad1"] = true
	h.voice.failing["stream://bad2"] = true
	require.NoError(t, h.s.SetAutoplay(ctx, true))

	_, err := h.s.Enqueue(ctx, track("bad1"), track("bad2"))
	require.NoError(t, err)

	snap := h.snap(t)
	assert.Equal(t, StateInactiveCountdown, snap.State)
	assert.Nil(t, snap.Current)
	assert.Empty(t, snap.Queue)
	assert.Empty(t, h.resolver.queriesCopy())
}

func TestAutoplay_EnqueuesDerivedSearch(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	ctx := context.Background()
	h.resolver.results = []Track{track("A"), track("X"), track("Y")}

	require.NoError(t, h.s.SetAutoplay(ctx, true))
	_, err := h.s.Enqueue(ctx, track("A"))
	require.NoError(t, err)
	require.True(t, h.voice.finish())

	h.waitCurrent(t, "X")
	assert.Equal(t, []string{"A mix"}, h.resolver.queriesCopy())

	snap := h.snap(t)
	assert.Equal(t, StatePlaying, snap.State)
	assert.Equal(t, int64(0), snap.Current.RequesterID)
}

func TestAutoplay_NothingFoundFallsBackToCountdown(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	ctx := context.Background()

	require.NoError(t, h.s.SetAutoplay(ctx, true))
	_, err := h.s.Enqueue(ctx, track("A"))
	require.NoError(t, err)
	require.True(t, h.voice.finish())

	h.waitState(t, StateInactiveCountdown)
	notes := h.panel.notesCopy()
	require.NotEmpty(t, notes)
	assert.True(t, strings.Contains(notes[len(notes)-1], "Автоплей"))
}

func TestStop_ResetsModesKeepsHistory(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	ctx := context.Background()

	_, err := h.s.Enqueue(ctx, track("A"), track("B"), track("C"))
	require.NoError(t, err)
	require.NoError(t, h.s.SetLoop(ctx, LoopQueue))
	require.True(t, h.voice.finish())
	h.waitCurrent(t, "B")
	require.NoError(t, h.s.SetAutoplay(ctx, true))

	require.NoError(t, h.s.Stop(ctx))

	snap := h.snap(t)
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Current)
	assert.Empty(t, snap.Queue)
	assert.Equal(t, LoopOff, snap.Loop)
	assert.False(t, snap.Autoplay)
	assert.Equal(t, []string{"A"}, titles(snap.History))
	assert.Equal(t, 0, h.panel.liveCount())
}

func TestStop_DisconnectsAfterIdleTimeout(t *testing.T) {
	h := newHarness(t, Options{IdleTimeout: 30 * time.Millisecond})
	ctx := context.Background()

	_, err := h.s.Enqueue(ctx, track("A"))
	require.NoError(t, err)
	require.NoError(t, h.s.Stop(ctx))

	require.Eventually(t, func() bool { return h.voice.disconnectCount() == 1 }, waitFor, tick)
}

func TestPanel_AtMostOneLive(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	ctx := context.Background()

	_, err := h.s.Enqueue(ctx, track("A"), track("B"), track("C"))
	require.NoError(t, err)
	require.True(t, h.voice.finish())
	h.waitCurrent(t, "B")
	require.True(t, h.voice.finish())
	h.waitCurrent(t, "C")

	assert.Equal(t, 1, h.panel.liveCount())
	h.panel.mu.Lock()
	assert.Equal(t, 3, h.panel.shows)
	h.panel.mu.Unlock()

	require.NoError(t, h.s.Leave(ctx))
	assert.Equal(t, 0, h.panel.liveCount())
	assert.Equal(t, 1, h.voice.disconnectCount())
	assert.Equal(t, StateIdle, h.snap(t).State)
}

func TestPanic_FallsBackToCountdown(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	ctx := context.Background()
	h.panel.panicOnShow = true

	_, err := h.s.Enqueue(ctx, track("A"))
	assert.ErrorIs(t, err, errSessionPanic)

	snap := h.snap(t)
	assert.Equal(t, StateInactiveCountdown, snap.State)
	assert.Nil(t, snap.Current)
	assert.False(t, h.voice.IsPlaying())

	// сессия продолжает принимать команды
	h.panel.mu.Lock()
	h.panel.panicOnShow = false
	h.panel.mu.Unlock()
	_, err = h.s.Enqueue(ctx, track("B"))
	require.NoError(t, err)
	assert.Equal(t, "B", h.currentTitle())
}

func TestQueueEditing(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	ctx := context.Background()

	_, err := h.s.Enqueue(ctx, track("A"), track("B"), track("C"), track("D"))
	require.NoError(t, err)

	require.NoError(t, h.s.Move(ctx, 3, 1))
	assert.Equal(t, []string{"D", "B", "C"}, titles(h.snap(t).Queue))

	removed, err := h.s.Remove(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "B", removed.Title)
	assert.Equal(t, []string{"D", "C"}, titles(h.snap(t).Queue))

	assert.ErrorIs(t, h.s.Move(ctx, 0, 1), common.ErrBadPosition)
	_, err = h.s.Remove(ctx, 5)
	assert.ErrorIs(t, err, common.ErrBadPosition)

	_, err = h.s.Enqueue(ctx, track("E"), track("F"))
	require.NoError(t, err)
	require.NoError(t, h.s.Shuffle(ctx))
	assert.ElementsMatch(t, []string{"D", "C", "E", "F"}, titles(h.snap(t).Queue))

	n, err := h.s.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	snap := h.snap(t)
	assert.Empty(t, snap.Queue)
	assert.Equal(t, "A", snap.Current.Title)
}

func TestSetVolume(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	ctx := context.Background()

	assert.ErrorIs(t, h.s.SetVolume(ctx, 250), common.ErrInvalidVolume)
	require.NoError(t, h.s.SetVolume(ctx, 50))
	assert.Equal(t, 0.5, h.snap(t).Volume)

	_, err := h.s.Enqueue(ctx, track("A"))
	require.NoError(t, err)
	h.voice.mu.Lock()
	assert.Equal(t, []float64{0.5}, h.voice.volumes)
	h.voice.mu.Unlock()
}

func TestJoin_MovesBetweenChannels(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	ctx := context.Background()

	require.NoError(t, h.s.Join(ctx, testVoice, testText))
	require.NoError(t, h.s.Join(ctx, 99, testText))

	h.voice.mu.Lock()
	assert.Equal(t, 1, h.voice.connects)
	assert.Equal(t, 1, h.voice.moves)
	h.voice.mu.Unlock()
	assert.Equal(t, int64(99), h.snap(t).VoiceChannelID)
}

func TestLoopMode(t *testing.T) {
	assert.Equal(t, LoopTrack, LoopOff.Next())
	assert.Equal(t, LoopQueue, LoopTrack.Next())
	assert.Equal(t, LoopOff, LoopQueue.Next())

	m, err := ParseLoopMode("очередь")
	require.NoError(t, err)
	assert.Equal(t, LoopQueue, m)
	_, err = ParseLoopMode("sometimes")
	assert.Error(t, err)
}

func TestClosedSession(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	ctx := context.Background()

	_, err := h.s.Enqueue(ctx, track("A"))
	require.NoError(t, err)
	require.NoError(t, h.s.Close(ctx))

	assert.Equal(t, 1, h.voice.disconnectCount())
	assert.Equal(t, 0, h.panel.liveCount())
	assert.ErrorIs(t, h.s.Pause(ctx), common.ErrSessionClosed)
}
