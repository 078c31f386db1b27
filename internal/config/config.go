package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/pauljones0/tender-watch/internal/util"
)

const (
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"

	AIBackendOllama = "ollama"
	AIBackendGemini = "gemini"
)

type Config struct {
	StorageBackend           string
	ProjectID                string
	FirestoreCredentialsFile string
	DatabaseURL              string
	DBMaxOpenConns           int

	Port      string
	LogLevel  string
	LogFormat string

	Timezone           string
	ScrapeInterval     time.Duration
	ScrapeInitialDelay time.Duration
	PurgeInterval      time.Duration
	PurgeInitialDelay  time.Duration
	MisfireGrace       time.Duration
	LinkSyncThrottle   time.Duration

	Filter FilterConfig
	AI     AIConfig
	PDF    PDFConfig
	Scrape ScrapeConfig

	DiscordWebhookURL string
	DefaultKeywords   []string

	Profile Profile
}

// FilterConfig holds the strict stage toggles.
type FilterConfig struct {
	DeadlineRequired     bool
	GeoFilterEnabled     bool
	TenderContextEnabled bool
	FocusEnabled         bool
}

type AIConfig struct {
	Enabled   bool
	Backend   string
	OllamaURL string
	Model     string
	APIKey    string
	Timeout   time.Duration
	MinScore  int
}

type PDFConfig struct {
	Timeout  time.Duration
	MaxBytes int64
	MaxChars int
	MaxPages int
}

type ScrapeConfig struct {
	Timeout           time.Duration
	UserAgent         string
	RatePerSecond     float64
	DetailConcurrency int
	RendererEnabled   bool
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) tender-watch/1.0"

func Load() (*Config, error) {
	cfg := &Config{
		StorageBackend:           strings.ToLower(envOr("STORAGE_BACKEND", BackendFirestore)),
		ProjectID:                os.Getenv("GOOGLE_CLOUD_PROJECT"),
		FirestoreCredentialsFile: os.Getenv("FIRESTORE_CREDENTIALS_FILE"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		Port:                     envOr("PORT", "8080"),
		LogLevel:                 envOr("LOG_LEVEL", "info"),
		LogFormat:                envOr("LOG_FORMAT", "console"),
		Timezone:                 envOr("SCHEDULER_TIMEZONE", "Africa/Abidjan"),
		DiscordWebhookURL:        os.Getenv("DISCORD_WEBHOOK_URL"),
		DefaultKeywords:          util.SplitList(os.Getenv("DEFAULT_KEYWORDS")),
	}

	switch cfg.StorageBackend {
	case BackendFirestore:
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("GOOGLE_CLOUD_PROJECT environment variable is required for the firestore backend")
		}
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL environment variable is required for the postgres backend")
		}
	default:
		return nil, fmt.Errorf("invalid STORAGE_BACKEND %q: want %s or %s", cfg.StorageBackend, BackendFirestore, BackendPostgres)
	}

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_TIMEZONE %q: %w", cfg.Timezone, err)
	}

	if cfg.DiscordWebhookURL == "" {
		slog.Warn("DISCORD_WEBHOOK_URL not set, Discord notifications will be skipped")
	}

	var err error
	p := &parser{}
	cfg.DBMaxOpenConns = p.intVar("DB_MAX_OPEN_CONNS", 10)
	cfg.ScrapeInterval = p.durationVar("SCRAPE_INTERVAL", time.Hour)
	cfg.ScrapeInitialDelay = p.durationVar("SCRAPE_INITIAL_DELAY", 20*time.Second)
	cfg.PurgeInterval = p.durationVar("PURGE_INTERVAL", time.Hour)
	cfg.PurgeInitialDelay = p.durationVar("PURGE_INITIAL_DELAY", 5*time.Minute)
	cfg.MisfireGrace = p.durationVar("MISFIRE_GRACE", 20*time.Minute)
	cfg.LinkSyncThrottle = p.durationVar("LINK_SYNC_THROTTLE", 6*time.Hour)

	cfg.Filter = FilterConfig{
		DeadlineRequired:     p.boolVar("DEADLINE_REQUIRED", false),
		GeoFilterEnabled:     p.boolVar("GEO_FILTER_ENABLED", true),
		TenderContextEnabled: p.boolVar("TENDER_CONTEXT_ENABLED", true),
		FocusEnabled:         p.boolVar("FOCUS_FILTER_ENABLED", true),
	}

	cfg.AI = AIConfig{
		// Hosted deployments (Render) have no local model runtime.
		Enabled:   p.boolVar("AI_FILTER_ENABLED", os.Getenv("RENDER") == ""),
		Backend:   strings.ToLower(envOr("AI_BACKEND", AIBackendOllama)),
		OllamaURL: strings.TrimRight(envOr("OLLAMA_URL", "http://127.0.0.1:11434"), "/"),
		Model:     envOr("AI_MODEL", "llama3.1:8b"),
		APIKey:    os.Getenv("GEMINI_API_KEY"),
		Timeout:   p.durationVar("AI_TIMEOUT", 25*time.Second),
		MinScore:  p.intVar("AI_MIN_SCORE", 60),
	}
	if cfg.AI.Backend != AIBackendOllama && cfg.AI.Backend != AIBackendGemini {
		return nil, fmt.Errorf("invalid AI_BACKEND %q", cfg.AI.Backend)
	}

	cfg.PDF = PDFConfig{
		Timeout:  p.durationVar("PDF_TIMEOUT", 15*time.Second),
		MaxBytes: int64(p.intVar("PDF_MAX_BYTES", 5*1024*1024)),
		MaxChars: p.intVar("PDF_MAX_CHARS", 4000),
		MaxPages: p.intVar("PDF_MAX_PAGES", 10),
	}

	cfg.Scrape = ScrapeConfig{
		Timeout:           p.durationVar("SCRAPE_TIMEOUT", 30*time.Second),
		UserAgent:         envOr("SCRAPE_USER_AGENT", defaultUserAgent),
		RatePerSecond:     p.floatVar("SCRAPE_RATE_PER_SEC", 2),
		DetailConcurrency: p.intVar("SCRAPE_DETAIL_CONCURRENCY", 4),
		RendererEnabled:   p.boolVar("RENDERER_ENABLED", false),
	}

	if p.err != nil {
		return nil, p.err
	}

	cfg.Profile, err = LoadProfile(os.Getenv("FILTER_PROFILE_PATH"))
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func envOr(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

// parser collects the first malformed variable so Load reports one clear error.
type parser struct {
	err error
}

func (p *parser) fail(name, v string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
}

func (p *parser) durationVar(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(name, v, err)
		return def
	}
	return d
}

func (p *parser) intVar(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		p.fail(name, v, err)
		return def
	}
	return n
}

func (p *parser) floatVar(name string, def float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		p.fail(name, v, err)
		return def
	}
	return f
}

func (p *parser) boolVar(name string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	switch v {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	p.fail(name, v, fmt.Errorf("not a boolean"))
	return def
}
