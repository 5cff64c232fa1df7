package music

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/guild-bot/internal/common"
)

const (
	stopWaitTimeout = 3 * time.Second
	opusBitrate     = "96k"
)

var errNotConnected = errors.New("бот не подключён к голосовому каналу")

// DiscordVoice — голосовой транспорт одной гильдии поверх discordgo.
// Поток: yt-dlp (страница → аудио) → ffmpeg (Ogg/Opus, страница на 20 мс)
// → oggreader → VoiceConnection.OpusSend.
type DiscordVoice struct {
	dg         *discordgo.Session
	guildID    string
	ytdlpPath  string
	ffmpegPath string

	mu        sync.Mutex
	vc        *discordgo.VoiceConnection
	channelID int64

	playID   uint64
	cancel   context.CancelFunc
	finished chan struct{}
	playing  bool
	paused   bool
	resumeCh chan struct{}
}

// NewDiscordVoice создаёт транспорт для гильдии.
func NewDiscordVoice(dg *discordgo.Session, guildID int64, ytdlpPath, ffmpegPath string) *DiscordVoice {
	return &DiscordVoice{
		dg:         dg,
		guildID:    common.FormatID(guildID),
		ytdlpPath:  ytdlpPath,
		ffmpegPath: ffmpegPath,
	}
}

func (v *DiscordVoice) Connect(ctx context.Context, channelID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	vc, err := v.dg.ChannelVoiceJoin(v.guildID, common.FormatID(channelID), false, true)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.vc = vc
	v.channelID = channelID
	v.mu.Unlock()
	return nil
}

func (v *DiscordVoice) Move(ctx context.Context, channelID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	vc := v.vc
	v.mu.Unlock()
	if vc == nil {
		return errNotConnected
	}
	if err := vc.ChangeChannel(common.FormatID(channelID), false, true); err != nil {
		return err
	}
	v.mu.Lock()
	v.channelID = channelID
	v.mu.Unlock()
	return nil
}

func (v *DiscordVoice) Disconnect() error {
	v.Stop()
	v.mu.Lock()
	vc := v.vc
	v.vc = nil
	v.channelID = 0
	v.mu.Unlock()
	if vc == nil {
		return nil
	}
	return vc.Disconnect()
}

func (v *DiscordVoice) Connected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.vc != nil
}

func (v *DiscordVoice) ChannelID() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.channelID
}

// Play запускает трек. Ошибка возвращается, только если поток не удалось
// поднять; всё, что случилось позже, приходит в onComplete.
func (v *DiscordVoice) Play(track Track, volume float64, onComplete func(err error)) error {
	v.Stop()
	v.waitFinished()

	v.mu.Lock()
	vc := v.vc
	v.mu.Unlock()
	if vc == nil {
		return errNotConnected
	}

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := v.openStream(ctx, track.Locator, volume)
	if err != nil {
		cancel()
		return err
	}

	finished := make(chan struct{})
	v.mu.Lock()
	v.playID++
	id := v.playID
	v.cancel = cancel
	v.finished = finished
	v.playing = true
	v.paused = false
	v.resumeCh = nil
	v.mu.Unlock()

	go func() {
		defer close(finished)
		sendErr := v.send(ctx, vc, stream)
		closeErr := stream.Close()

		v.mu.Lock()
		if v.playID == id {
			v.playing = false
			v.paused = false
			v.cancel = nil
		}
		v.mu.Unlock()

		stopped := ctx.Err() != nil
		cancel()
		switch {
		case stopped:
			onComplete(nil)
		case sendErr != nil:
			onComplete(sendErr)
		case closeErr != nil:
			onComplete(closeErr)
		default:
			onComplete(nil)
		}
	}()
	return nil
}

// send читает Ogg-страницы и отдаёт Opus-кадры в голосовое соединение.
func (v *DiscordVoice) send(ctx context.Context, vc *discordgo.VoiceConnection, r io.Reader) error {
	ogg, _, err := oggreader.NewWith(r)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("поток не открылся: %w", err)
	}

	if err := vc.Speaking(true); err != nil {
		log.WithError(err).WithField("guild_id", v.guildID).Debug("Speaking(true) не прошёл")
	}
	defer vc.Speaking(false)

	for {
		payload, _, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("чтение потока: %w", err)
		}
		if bytes.HasPrefix(payload, []byte("OpusTags")) {
			continue
		}

		if ch := v.pauseGate(); ch != nil {
			_ = vc.Speaking(false)
			select {
			case <-ch:
				_ = vc.Speaking(true)
			case <-ctx.Done():
				return nil
			}
		}

		select {
		case vc.OpusSend <- payload:
		case <-ctx.Done():
			return nil
		}
	}
}

func (v *DiscordVoice) pauseGate() chan struct{} {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.paused {
		return v.resumeCh
	}
	return nil
}

func (v *DiscordVoice) Pause() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.playing || v.paused {
		return
	}
	v.paused = true
	v.resumeCh = make(chan struct{})
}

func (v *DiscordVoice) Resume() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.paused {
		return
	}
	v.paused = false
	close(v.resumeCh)
	v.resumeCh = nil
}

// Stop прерывает текущий трек и не ждёт завершения процессов.
func (v *DiscordVoice) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	if v.paused {
		close(v.resumeCh)
		v.resumeCh = nil
	}
	v.playing = false
	v.paused = false
}

func (v *DiscordVoice) IsPlaying() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.playing && !v.paused
}

func (v *DiscordVoice) IsPaused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paused
}

// waitFinished ждёт, пока горутина предыдущего трека отпустит соединение.
func (v *DiscordVoice) waitFinished() {
	v.mu.Lock()
	ch := v.finished
	v.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case <-ch:
	case <-time.After(stopWaitTimeout):
		log.WithField("guild_id", v.guildID).Warn("Предыдущий трек не остановился вовремя")
	}
}

// ---- Процессы ----

type audioPipeline struct {
	out    io.ReadCloser
	procs  []*exec.Cmd
	stderr *bytes.Buffer
}

func (p *audioPipeline) Read(b []byte) (int, error) { return p.out.Read(b) }

// Close закрывает выход и ждёт оба процесса. Ошибку возвращает только ffmpeg:
// yt-dlp после закрытия трубы нормально падает по SIGPIPE.
func (p *audioPipeline) Close() error {
	_ = p.out.Close()
	var ffErr error
	for i := len(p.procs) - 1; i >= 0; i-- {
		err := p.procs[i].Wait()
		if i == len(p.procs)-1 && err != nil {
			ffErr = fmt.Errorf("ffmpeg: %w: %s", err, common.Truncate(strings.TrimSpace(p.stderr.String()), 300))
		}
	}
	return ffErr
}

func (v *DiscordVoice) openStream(ctx context.Context, locator string, volume float64) (*audioPipeline, error) {
	ytdlp := exec.CommandContext(ctx, v.ytdlpPath,
		"--no-warnings", "--ignore-config", "--no-playlist", "-q",
		"-f", "bestaudio/best", "-o", "-", locator,
	)
	ffmpeg := exec.CommandContext(ctx, v.ffmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-vn",
		"-filter:a", fmt.Sprintf("volume=%.2f", volume),
		"-c:a", "libopus", "-b:a", opusBitrate,
		"-ar", "48000", "-ac", "2",
		"-frame_duration", "20", "-page_duration", "20000",
		"-f", "ogg", "pipe:1",
	)

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	ytdlp.Stdout = pw
	ffmpeg.Stdin = pr
	var stderr bytes.Buffer
	ffmpeg.Stderr = &stderr

	out, err := ffmpeg.StdoutPipe()
	if err != nil {
		pr.Close()
		pw.Close()
		return nil, err
	}

	if err := ytdlp.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("запуск yt-dlp: %w", err)
	}
	if err := ffmpeg.Start(); err != nil {
		pr.Close()
		pw.Close()
		_ = ytdlp.Process.Kill()
		_ = ytdlp.Wait()
		return nil, fmt.Errorf("запуск ffmpeg: %w", err)
	}
	// копии концов трубы остались у дочерних процессов
	pr.Close()
	pw.Close()

	return &audioPipeline{
		out:    out,
		procs:  []*exec.Cmd{ytdlp, ffmpeg},
		stderr: &stderr,
	}, nil
}
