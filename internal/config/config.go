// Package config загружает конфигурацию бота из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Discord ---
	DiscordToken string `envconfig:"DISCORD_TOKEN" required:"true"`
	// Владельцы бота (Discord user ID через запятую) — доступ к админ-панели в личке
	AdminIDsRaw string  `envconfig:"ADMIN_IDS" default:""`
	AdminIDs    []int64 `envconfig:"-"` // заполним вручную

	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	// Дефолт ставим "postgres" (имя сервиса в docker-compose), а для локалки переопределяй DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"botuser"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"guild_bot"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	// Адрес health-сервера. Пустая строка — не запускать.
	HealthAddr string `envconfig:"HEALTH_ADDR" default:":8080"`

	// --- Bot runtime ---
	// Сколько событий обрабатываем параллельно. Иначе "go на каждое событие" = утечка памяти при флуде.
	BotMaxInflight int    `envconfig:"BOT_MAX_INFLIGHT" default:"64"`
	BotPrefix      string `envconfig:"BOT_PREFIX" default:"!"`

	// --- Admin ---
	AdminPasswordHash string `envconfig:"ADMIN_PASSWORD_HASH" default:""`

	// --- Music ---
	MusicIdleTimeout    time.Duration `envconfig:"MUSIC_IDLE_TIMEOUT" default:"120s"`
	MusicHistorySize    int           `envconfig:"MUSIC_HISTORY_SIZE" default:"20"`
	MusicAutoplaySuffix string        `envconfig:"MUSIC_AUTOPLAY_SUFFIX" default:"mix"`
	MusicSessionTTL     time.Duration `envconfig:"MUSIC_SESSION_TTL" default:"6h"`
	MusicPlaylistLimit  int           `envconfig:"MUSIC_PLAYLIST_LIMIT" default:"50"`
	YTDLPPath           string        `envconfig:"YTDLP_PATH" default:"yt-dlp"`
	FFmpegPath          string        `envconfig:"FFMPEG_PATH" default:"ffmpeg"`

	// --- Leveling ---
	LevelingXPMin    int           `envconfig:"LEVELING_XP_MIN" default:"15"`
	LevelingXPMax    int           `envconfig:"LEVELING_XP_MAX" default:"25"`
	LevelingCooldown time.Duration `envconfig:"LEVELING_COOLDOWN" default:"60s"`

	// --- Casino ---
	CasinoMinBet int64 `envconfig:"CASINO_MIN_BET" default:"10"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"10"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	// --- Feature Flags ---
	FeatureMusicEnabled      bool `envconfig:"FEATURE_MUSIC_ENABLED" default:"true"`
	FeatureEconomyEnabled    bool `envconfig:"FEATURE_ECONOMY_ENABLED" default:"true"`
	FeatureCasinoEnabled     bool `envconfig:"FEATURE_CASINO_ENABLED" default:"true"`
	FeatureLevelingEnabled   bool `envconfig:"FEATURE_LEVELING_ENABLED" default:"true"`
	FeatureModerationEnabled bool `envconfig:"FEATURE_MODERATION_ENABLED" default:"true"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// IsAdmin проверяет, входит ли пользователь в список владельцев бота.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (c *Config) Validate() error {
	if c.BotMaxInflight <= 0 {
		return fmt.Errorf("BOT_MAX_INFLIGHT должен быть > 0")
	}
	if strings.TrimSpace(c.BotPrefix) == "" {
		return fmt.Errorf("BOT_PREFIX не может быть пустым")
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.MusicIdleTimeout <= 0 {
		return fmt.Errorf("MUSIC_IDLE_TIMEOUT должен быть > 0")
	}
	if c.MusicHistorySize <= 0 {
		return fmt.Errorf("MUSIC_HISTORY_SIZE должен быть > 0")
	}
	if c.LevelingXPMin <= 0 || c.LevelingXPMax < c.LevelingXPMin {
		return fmt.Errorf("некорректные LEVELING_XP_MIN/LEVELING_XP_MAX")
	}
	if c.CasinoMinBet <= 0 {
		return fmt.Errorf("CASINO_MIN_BET должен быть > 0")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("некорректные RATE_LIMIT_REQUESTS/RATE_LIMIT_WINDOW")
	}
	if len(c.AdminIDs) > 0 && c.AdminPasswordHash == "" {
		return fmt.Errorf("ADMIN_IDS задан, но ADMIN_PASSWORD_HASH пуст")
	}
	return nil
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	ids, err := parseInt64CSV(cfg.AdminIDsRaw)
	if err != nil {
		return nil, fmt.Errorf("ADMIN_IDS parse: %w", err)
	}
	cfg.AdminIDs = ids

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseInt64CSV(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad int64 %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}
