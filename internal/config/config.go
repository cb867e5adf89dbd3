package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the application's configuration model.
// It captures the three services' credentials and the workflow shape.
type Config struct {
	Telegram    TelegramConfig    `yaml:"telegram"`
	Credentials CredentialsConfig `yaml:"credentials"`
	LLM         LLMConfig         `yaml:"llm"`
	Workflow    WorkflowConfig    `yaml:"workflow"`
	Publish     PublishConfig     `yaml:"publish"`
	Storage     StorageConfig     `yaml:"storage"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`

	// unparsable TELEGRAM_USER_ID, reported by Validate
	badUserID string
}

type TelegramConfig struct {
	// Bot token. If empty, read from env TELEGRAM_BOT_TOKEN
	Token string `yaml:"token"`
	// The only user allowed to drive the bot. If 0, read TELEGRAM_USER_ID
	AuthorizedUserID int64 `yaml:"authorizedUserID"`
	PollTimeoutSec   int   `yaml:"pollTimeoutSec"`
}

type CredentialsConfig struct {
	// OAuth1.0a user-context credentials used to publish
	ConsumerKey    string `yaml:"consumerKey"`
	ConsumerSecret string `yaml:"consumerSecret"`
	AccessToken    string `yaml:"accessToken"`
	AccessSecret   string `yaml:"accessSecret"`
	// App-only token for recent search; only needed when workflow.source is "x"
	BearerToken string `yaml:"bearerToken"`
}

type LLMConfig struct {
	Host       string `yaml:"host"`
	Model      string `yaml:"model"`
	TimeoutSec int    `yaml:"timeoutSec"`
}

type WorkflowConfig struct {
	// "research" (discover, research, propose) or "direct" (discover, propose)
	Variant string `yaml:"variant"`
	// "reddit" or "x"
	Source          string `yaml:"source"`
	MaxResults      int    `yaml:"maxResults"`
	ResearchResults int    `yaml:"researchResults"`
	MaxChars        int    `yaml:"maxChars"`
}

type PublishConfig struct {
	// 0 picks the default, a negative value disables the limit.
	// X's free tier allows about 500 posts a month.
	MaxPerDay   int `yaml:"maxPerDay"`
	MaxPerMonth int `yaml:"maxPerMonth"`
}

type StorageConfig struct {
	// ":memory:" keeps the ledger for the life of the process only
	DBPath string `yaml:"dbPath"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

const (
	VariantResearch = "research"
	VariantDirect   = "direct"
	SourceReddit    = "reddit"
	SourceX         = "x"
)

// Default returns a sensible default configuration.
func Default() Config {
	return Config{
		Telegram: TelegramConfig{PollTimeoutSec: 60},
		LLM:      LLMConfig{Host: "http://localhost:11434", Model: "mistral", TimeoutSec: 120},
		Workflow: WorkflowConfig{
			Variant:         VariantResearch,
			Source:          SourceReddit,
			MaxResults:      10,
			ResearchResults: 5,
			MaxChars:        280,
		},
		Publish: PublishConfig{MaxPerDay: 17, MaxPerMonth: 500},
		Storage: StorageConfig{DBPath: ":memory:"},
		Log:     LogConfig{Level: "info"},
	}
}

// ResolveEnv fills in config fields from environment variables if not set.
func (c *Config) ResolveEnv() {
	setString(&c.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	if c.Telegram.AuthorizedUserID == 0 {
		if v := strings.TrimSpace(os.Getenv("TELEGRAM_USER_ID")); v != "" {
			if id, err := strconv.ParseInt(v, 10, 64); err == nil {
				c.Telegram.AuthorizedUserID = id
			} else {
				c.badUserID = v
			}
		}
	}
	setString(&c.Credentials.ConsumerKey, "X_API_KEY")
	setString(&c.Credentials.ConsumerSecret, "X_API_SECRET")
	setString(&c.Credentials.AccessToken, "X_ACCESS_TOKEN")
	setString(&c.Credentials.AccessSecret, "X_ACCESS_TOKEN_SECRET")
	setString(&c.Credentials.BearerToken, "X_BEARER_TOKEN")
	setString(&c.LLM.Host, "OLLAMA_HOST")
	setString(&c.LLM.Model, "OLLAMA_MODEL")
	setString(&c.Workflow.Variant, "TRENDPOST_VARIANT")
	setString(&c.Workflow.Source, "TRENDPOST_SOURCE")
	setString(&c.Metrics.Addr, "METRICS_ADDR")
	setString(&c.Log.Level, "LOG_LEVEL")
}

func setString(dst *string, env string) {
	if *dst == "" {
		*dst = strings.TrimSpace(os.Getenv(env))
	}
}

// MissingError lists every required setting that has no value.
type MissingError struct {
	Vars []string
}

func (e *MissingError) Error() string {
	return "missing required configuration: " + strings.Join(e.Vars, ", ")
}

// Validate fails fast on absent credentials and unknown enum values.
func (c Config) Validate() error {
	var missing []string
	check := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	check("TELEGRAM_BOT_TOKEN", c.Telegram.Token)
	var invalid error
	if c.badUserID != "" {
		invalid = fmt.Errorf("TELEGRAM_USER_ID must be a numeric user id, got %q", c.badUserID)
	} else if c.Telegram.AuthorizedUserID == 0 {
		missing = append(missing, "TELEGRAM_USER_ID")
	}
	check("X_API_KEY", c.Credentials.ConsumerKey)
	check("X_API_SECRET", c.Credentials.ConsumerSecret)
	check("X_ACCESS_TOKEN", c.Credentials.AccessToken)
	check("X_ACCESS_TOKEN_SECRET", c.Credentials.AccessSecret)
	check("OLLAMA_HOST", c.LLM.Host)
	check("OLLAMA_MODEL", c.LLM.Model)
	if c.Workflow.Source == SourceX {
		check("X_BEARER_TOKEN", c.Credentials.BearerToken)
	}
	if len(missing) > 0 {
		return errors.Join(&MissingError{Vars: missing}, invalid)
	}
	if invalid != nil {
		return invalid
	}
	switch c.Workflow.Variant {
	case VariantResearch, VariantDirect:
	default:
		return fmt.Errorf("workflow.variant must be %q or %q, got %q", VariantResearch, VariantDirect, c.Workflow.Variant)
	}
	switch c.Workflow.Source {
	case SourceReddit, SourceX:
	default:
		return fmt.Errorf("workflow.source must be %q or %q, got %q", SourceReddit, SourceX, c.Workflow.Source)
	}
	if c.Workflow.MaxResults <= 0 {
		return errors.New("workflow.maxResults must be positive")
	}
	if c.Workflow.MaxChars <= 0 || c.Workflow.MaxChars > 280 {
		return errors.New("workflow.maxChars must be within 1..280")
	}
	return nil
}

// LoadDotEnv loads .env files from the working directory without
// overriding variables that are already set. It returns the files loaded.
func LoadDotEnv(files ...string) []string {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var loaded []string
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			continue
		}
		loaded = append(loaded, f)
	}
	return loaded
}

// applyDefaults fills every zero field from Default.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Telegram.PollTimeoutSec <= 0 {
		c.Telegram.PollTimeoutSec = d.Telegram.PollTimeoutSec
	}
	if c.LLM.Host == "" {
		c.LLM.Host = d.LLM.Host
	}
	if c.LLM.Model == "" {
		c.LLM.Model = d.LLM.Model
	}
	if c.LLM.TimeoutSec <= 0 {
		c.LLM.TimeoutSec = d.LLM.TimeoutSec
	}
	if c.Workflow.Variant == "" {
		c.Workflow.Variant = d.Workflow.Variant
	}
	if c.Workflow.Source == "" {
		c.Workflow.Source = d.Workflow.Source
	}
	if c.Workflow.MaxResults == 0 {
		c.Workflow.MaxResults = d.Workflow.MaxResults
	}
	if c.Workflow.ResearchResults <= 0 {
		c.Workflow.ResearchResults = d.Workflow.ResearchResults
	}
	if c.Workflow.MaxChars == 0 {
		c.Workflow.MaxChars = d.Workflow.MaxChars
	}
	if c.Publish.MaxPerDay == 0 {
		c.Publish.MaxPerDay = d.Publish.MaxPerDay
	}
	if c.Publish.MaxPerMonth == 0 {
		c.Publish.MaxPerMonth = d.Publish.MaxPerMonth
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = d.Storage.DBPath
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

// Load reads YAML config from path, resolves env for empty fields and then
// applies defaults. A missing file is not an error: the bot is usually
// configured by env only.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, err
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	cfg.ResolveEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
