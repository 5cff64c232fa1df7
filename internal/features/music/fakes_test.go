package music

import (
	"context"
	"errors"
	"sync"
)

type fakeVoice struct {
	mu          sync.Mutex
	connected   bool
	channelID   int64
	playing     bool
	paused      bool
	failing     map[string]bool
	plays       []string
	volumes     []float64
	onComplete  func(error)
	connects    int
	moves       int
	disconnects int
	stops       int
	pauses      int
}

func newFakeVoice() *fakeVoice {
	return &fakeVoice{failing: make(map[string]bool)}
}

func (v *fakeVoice) Connect(_ context.Context, channelID int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.connects++
	v.connected = true
	v.channelID = channelID
	return nil
}

func (v *fakeVoice) Move(_ context.Context, channelID int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.moves++
	v.channelID = channelID
	return nil
}

func (v *fakeVoice) Disconnect() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.disconnects++
	v.connected = false
	v.channelID = 0
	return nil
}

func (v *fakeVoice) Connected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.connected
}

func (v *fakeVoice) ChannelID() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.channelID
}

func (v *fakeVoice) Play(track Track, volume float64, onComplete func(error)) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.connected {
		return errors.New("not connected")
	}
	if v.failing[track.Locator] {
		return errors.New("source unavailable")
	}
	v.plays = append(v.plays, track.Title)
	v.volumes = append(v.volumes, volume)
	v.playing = true
	v.paused = false
	v.onComplete = onComplete
	return nil
}

func (v *fakeVoice) Pause() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pauses++
	v.paused = true
}

func (v *fakeVoice) Resume() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.paused = false
}

// Stop ведёт себя как настоящий транспорт: колбэк прилетает из другой горутины.
func (v *fakeVoice) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stops++
	v.playing = false
	v.paused = false
	if cb := v.onComplete; cb != nil {
		v.onComplete = nil
		go cb(nil)
	}
}

func (v *fakeVoice) IsPlaying() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.playing && !v.paused
}

func (v *fakeVoice) IsPaused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paused
}

// finish имитирует естественный конец трека.
func (v *fakeVoice) finish() bool {
	v.mu.Lock()
	cb := v.onComplete
	v.onComplete = nil
	v.playing = false
	v.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(nil)
	return true
}

func (v *fakeVoice) playCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.plays)
}

func (v *fakeVoice) playTitles() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.plays...)
}

func (v *fakeVoice) disconnectCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.disconnects
}

type fakePanel struct {
	mu          sync.Mutex
	nextID      int64
	live        map[int64]bool
	shows       int
	updates     int
	notes       []string
	panicOnShow bool
}

func newFakePanel() *fakePanel {
	return &fakePanel{live: make(map[int64]bool)}
}

func (p *fakePanel) Show(_ context.Context, channelID int64, _ Snapshot) (PanelRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.panicOnShow {
		panic("panel exploded")
	}
	p.nextID++
	p.shows++
	p.live[p.nextID] = true
	return PanelRef{ChannelID: channelID, MessageID: p.nextID}, nil
}

func (p *fakePanel) Update(_ context.Context, _ PanelRef, _ Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates++
	return nil
}

func (p *fakePanel) Delete(_ context.Context, ref PanelRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.live, ref.MessageID)
	return nil
}

func (p *fakePanel) Notify(_ context.Context, _ int64, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notes = append(p.notes, text)
}

func (p *fakePanel) liveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

func (p *fakePanel) notesCopy() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.notes...)
}

type fakeResolver struct {
	mu      sync.Mutex
	results []Track
	err     error
	queries []string
}

func (r *fakeResolver) Resolve(ctx context.Context, query string) ([]Track, error) {
	return r.Search(ctx, query, 1)
}

func (r *fakeResolver) Search(_ context.Context, query string, _ int) ([]Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, query)
	return append([]Track(nil), r.results...), r.err
}

func (r *fakeResolver) queriesCopy() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.queries...)
}
