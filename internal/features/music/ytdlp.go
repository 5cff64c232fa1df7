package music

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"serotonyl.ru/guild-bot/internal/common"
)

const (
	resolveTimeout   = 45 * time.Second
	playlistWorkers  = 4
	searchLimitMax   = 10
	youtubeWatchBase = "https://www.youtube.com/watch?v="
)

// YTDLPResolver ищет треки через yt-dlp. Locator трека — ссылка на страницу:
// сам аудиопоток достаётся уже при воспроизведении, поэтому ссылки
// в длинной очереди не протухают.
type YTDLPResolver struct {
	path          string
	playlistLimit int
	workers       int
}

// NewYTDLPResolver создаёт резолвер. playlistLimit ограничивает число треков из плейлиста.
func NewYTDLPResolver(path string, playlistLimit int) *YTDLPResolver {
	if playlistLimit <= 0 {
		playlistLimit = 50
	}
	return &YTDLPResolver{path: path, playlistLimit: playlistLimit, workers: playlistWorkers}
}

// ytdlpInfo — то, что нам нужно из JSON yt-dlp. Для плейлиста и поиска
// заполнено Entries.
type ytdlpInfo struct {
	Type       string       `json:"_type"`
	ID         string       `json:"id"`
	Title      string       `json:"title"`
	URL        string       `json:"url"`
	WebpageURL string       `json:"webpage_url"`
	Thumbnail  string       `json:"thumbnail"`
	Thumbnails []ytdlpThumb `json:"thumbnails"`
	Duration   float64      `json:"duration"`
	IsLive     bool         `json:"is_live"`
	Entries    []ytdlpInfo  `json:"entries"`
}

type ytdlpThumb struct {
	URL string `json:"url"`
}

// Resolve принимает ссылку на трек, ссылку на плейлист или текст для поиска.
func (r *YTDLPResolver) Resolve(ctx context.Context, query string) ([]Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, common.ErrNothingFound
	}
	if !isURL(query) {
		return r.Search(ctx, query, 1)
	}
	if isPlaylistURL(query) {
		return r.playlist(ctx, query)
	}

	out, err := r.run(ctx, "-j", "--no-playlist", "--skip-download", query)
	if err != nil {
		return nil, err
	}
	info, err := decodeInfo(out)
	if err != nil {
		return nil, err
	}
	t, ok := info.track()
	if !ok {
		return nil, common.ErrNothingFound
	}
	return []Track{t}, nil
}

// Search ищет на YouTube до limit треков.
func (r *YTDLPResolver) Search(ctx context.Context, query string, limit int) ([]Track, error) {
	if limit <= 0 {
		limit = 1
	}
	if limit > searchLimitMax {
		limit = searchLimitMax
	}
	out, err := r.run(ctx, "-J", "--flat-playlist", fmt.Sprintf("ytsearch%d:%s", limit, query))
	if err != nil {
		return nil, err
	}
	info, err := decodeInfo(out)
	if err != nil {
		return nil, err
	}
	tracks := info.tracks()
	if len(tracks) == 0 {
		return nil, common.ErrNothingFound
	}
	return tracks, nil
}

// playlist читает плоский список и дорезолвливает записи без названия.
// Запись, которую не удалось разобрать, пропускается.
func (r *YTDLPResolver) playlist(ctx context.Context, link string) ([]Track, error) {
	out, err := r.run(ctx, "-J", "--flat-playlist", "--playlist-end", fmt.Sprint(r.playlistLimit), link)
	if err != nil {
		return nil, err
	}
	info, err := decodeInfo(out)
	if err != nil {
		return nil, err
	}

	entries := info.Entries
	if len(entries) > r.playlistLimit {
		entries = entries[:r.playlistLimit]
	}

	results := make([]*Track, len(entries))
	p := pool.New().WithMaxGoroutines(r.workers)
	for i, e := range entries {
		p.Go(func() {
			if t, ok := e.track(); ok && t.Title != "" {
				results[i] = &t
				return
			}
			link := e.pageURL()
			if link == "" {
				return
			}
			ts, err := r.Resolve(ctx, link)
			if err != nil || len(ts) == 0 {
				log.WithError(err).WithField("entry", link).Debug("Запись плейлиста пропущена")
				return
			}
			results[i] = &ts[0]
		})
	}
	p.Wait()

	tracks := make([]Track, 0, len(results))
	for _, t := range results {
		if t != nil {
			tracks = append(tracks, *t)
		}
	}
	if len(tracks) == 0 {
		return nil, common.ErrNothingFound
	}
	return tracks, nil
}

func (r *YTDLPResolver) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	args = append([]string{"--no-warnings", "--ignore-config"}, args...)
	cmd := exec.CommandContext(ctx, r.path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("yt-dlp: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("yt-dlp завершился с кодом %d: %s", exitErr.ExitCode(), common.Truncate(strings.TrimSpace(stderr.String()), 300))
		}
		return nil, fmt.Errorf("yt-dlp: %w", err)
	}
	return out, nil
}

func decodeInfo(data []byte) (*ytdlpInfo, error) {
	var info ytdlpInfo
	if err := sonic.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("разбор ответа yt-dlp: %w", err)
	}
	return &info, nil
}

func (i *ytdlpInfo) tracks() []Track {
	if len(i.Entries) == 0 {
		if t, ok := i.track(); ok {
			return []Track{t}
		}
		return nil
	}
	out := make([]Track, 0, len(i.Entries))
	for _, e := range i.Entries {
		if t, ok := e.track(); ok {
			out = append(out, t)
		}
	}
	return out
}

func (i *ytdlpInfo) track() (Track, bool) {
	page := i.pageURL()
	if page == "" {
		return Track{}, false
	}
	t := Track{
		Title:     i.Title,
		Locator:   page,
		URL:       page,
		Thumbnail: i.Thumbnail,
	}
	if t.Thumbnail == "" && len(i.Thumbnails) > 0 {
		t.Thumbnail = i.Thumbnails[len(i.Thumbnails)-1].URL
	}
	if !i.IsLive && i.Duration > 0 {
		t.Duration = time.Duration(i.Duration * float64(time.Second))
	}
	return t, true
}

func (i *ytdlpInfo) pageURL() string {
	switch {
	case i.WebpageURL != "":
		return i.WebpageURL
	case isURL(i.URL):
		return i.URL
	case i.ID != "":
		return youtubeWatchBase + i.ID
	}
	return ""
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func isPlaylistURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	if u.Query().Get("list") != "" && u.Query().Get("v") == "" {
		return true
	}
	return strings.Contains(u.Path, "/playlist") || strings.Contains(u.Path, "/sets/") || strings.Contains(u.Path, "/album/")
}
