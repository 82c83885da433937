// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Session modes.
const (
	SessionModeCredentials = "credentials"
	SessionModeManual      = "manual"
)

// Content sources.
const (
	ContentSourceFile     = "file"
	ContentSourceGemini   = "gemini"
	ContentSourceTemplate = "template"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Locator LocatorConfig `mapstructure:"locator" yaml:"locator"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
	Search  SearchConfig  `mapstructure:"search" yaml:"search"`
	Ranking RankingConfig `mapstructure:"ranking" yaml:"ranking"`
	Inject  InjectConfig  `mapstructure:"inject" yaml:"inject"`
	Content ContentConfig `mapstructure:"content" yaml:"content"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Profile ProfileConfig `mapstructure:"profile" yaml:"profile"`
	// Run gets its marching orders from CLI flags, not the config file.
	Run RunConfig `mapstructure:"-" yaml:"-"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the controlled browser.
type BrowserConfig struct {
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	UserDataDir       string         `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	Viewport          ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	Persona           PersonaConfig  `mapstructure:"persona" yaml:"persona"`
	Humanoid          HumanoidConfig `mapstructure:"humanoid" yaml:"humanoid"`
}

// ViewportConfig is the emulated window size.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// PersonaConfig defines the browser characteristics to emulate.
type PersonaConfig struct {
	UserAgent string   `mapstructure:"user_agent" yaml:"user_agent"`
	Platform  string   `mapstructure:"platform" yaml:"platform"`
	Languages []string `mapstructure:"languages" yaml:"languages"`
	Timezone  string   `mapstructure:"timezone" yaml:"timezone"`
	Locale    string   `mapstructure:"locale" yaml:"locale"`
}

// LocatorConfig bounds every strategy chain evaluation.
type LocatorConfig struct {
	PerStrategyTimeout time.Duration `mapstructure:"per_strategy_timeout" yaml:"per_strategy_timeout"`
	PollInterval       time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// SessionConfig drives the login state machine. Credentials are opaque and
// never validated.
type SessionConfig struct {
	LoginURL   string        `mapstructure:"login_url" yaml:"login_url"`
	Mode       string        `mapstructure:"mode" yaml:"mode"`
	SubmitWait time.Duration `mapstructure:"submit_wait" yaml:"submit_wait"`
	Username   string        `mapstructure:"username" yaml:"-"`
	Password   string        `mapstructure:"password" yaml:"-"`
}

// SearchConfig describes where candidates come from.
type SearchConfig struct {
	URLTemplate   string   `mapstructure:"url_template" yaml:"url_template"`
	Queries       []string `mapstructure:"queries" yaml:"queries"`
	HotListURL    string   `mapstructure:"hot_list_url" yaml:"hot_list_url"`
	UseHotList    bool     `mapstructure:"use_hot_list" yaml:"use_hot_list"`
	ResultLimit   int      `mapstructure:"result_limit" yaml:"result_limit"`
	RatePerMinute float64  `mapstructure:"rate_per_minute" yaml:"rate_per_minute"`
}

// RangeFilter is an inclusive numeric range over one counter.
type RangeFilter struct {
	Field string  `mapstructure:"field" yaml:"field"`
	Min   float64 `mapstructure:"min" yaml:"min"`
	Max   float64 `mapstructure:"max" yaml:"max"`
}

// RankingConfig holds the scoring weights and inclusion filters.
type RankingConfig struct {
	Weights map[string]float64 `mapstructure:"weights" yaml:"weights"`
	Filters []RangeFilter      `mapstructure:"filters" yaml:"filters"`

	// HeatWeight scores hot-list entries, which carry only a heat counter.
	// It applies when Weights does not name "heat" itself.
	HeatWeight float64 `mapstructure:"heat_weight" yaml:"heat_weight"`
}

// InjectConfig tunes the content injector.
type InjectConfig struct {
	Publish     bool          `mapstructure:"publish" yaml:"publish"`
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
}

// GeminiConfig configures the Gemini content generator.
type GeminiConfig struct {
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Model       string        `mapstructure:"model" yaml:"model"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// ContentConfig selects where answer documents come from.
type ContentConfig struct {
	Source       string       `mapstructure:"source" yaml:"source"`
	DocumentPath string       `mapstructure:"document_path" yaml:"document_path"`
	SystemPrompt string       `mapstructure:"system_prompt" yaml:"system_prompt"`
	Gemini       GeminiConfig `mapstructure:"gemini" yaml:"gemini"`
}

// StoreConfig holds the output locations.
type StoreConfig struct {
	OutputDir   string `mapstructure:"output_dir" yaml:"output_dir"`
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
}

// ProfileConfig points at an optional YAML file overriding the site profile.
type ProfileConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// RunConfig holds settings populated from CLI flags for a single run.
type RunConfig struct {
	Target       string
	DocumentPath string
	DraftOnly    bool
	ManualAssist bool
	Static       bool
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "quill")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.viewport.width", 1920)
	v.SetDefault("browser.viewport.height", 1080)
	v.SetDefault("browser.persona.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	v.SetDefault("browser.persona.platform", "Win32")
	v.SetDefault("browser.persona.languages", []string{"zh-CN", "zh"})
	v.SetDefault("browser.persona.timezone", "Asia/Shanghai")
	v.SetDefault("browser.persona.locale", "zh-CN")
	setHumanoidDefaults(v)

	// -- Locator --
	v.SetDefault("locator.per_strategy_timeout", "3s")
	v.SetDefault("locator.poll_interval", "250ms")

	// -- Session --
	v.SetDefault("session.login_url", "https://www.zhihu.com/signin")
	v.SetDefault("session.mode", SessionModeCredentials)
	v.SetDefault("session.submit_wait", "15s")

	// -- Search --
	v.SetDefault("search.url_template", "https://www.zhihu.com/search?type=content&q=%s")
	v.SetDefault("search.hot_list_url", "https://www.zhihu.com/hot")
	v.SetDefault("search.use_hot_list", false)
	v.SetDefault("search.result_limit", 20)
	v.SetDefault("search.rate_per_minute", 12.0)

	// -- Ranking --
	v.SetDefault("ranking.weights", map[string]float64{"followers": 2, "answers": 5})
	v.SetDefault("ranking.filters", []map[string]any{
		{"field": "followers", "min": 100, "max": 10000},
		{"field": "answers", "min": 5, "max": 200},
	})
	v.SetDefault("ranking.heat_weight", 0.0001)

	// -- Inject --
	v.SetDefault("inject.publish", true)
	v.SetDefault("inject.settle_delay", "1s")

	// -- Content --
	v.SetDefault("content.source", ContentSourceFile)
	v.SetDefault("content.document_path", "answer.md")
	v.SetDefault("content.gemini.model", "gemini-2.5-flash")
	v.SetDefault("content.gemini.api_timeout", "90s")
	v.SetDefault("content.gemini.temperature", 0.7)
	v.SetDefault("content.gemini.max_tokens", 4096)

	// -- Store --
	v.SetDefault("store.output_dir", "~/quill-output")
	v.SetDefault("store.database_url", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("session.username", "QUILL_SESSION_USERNAME")
	_ = v.BindEnv("session.password", "QUILL_SESSION_PASSWORD")
	_ = v.BindEnv("content.gemini.api_key", "QUILL_GEMINI_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("store.database_url", "QUILL_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Store.OutputDir, &c.Browser.UserDataDir, &c.Profile.Path, &c.Content.DocumentPath, &c.Logger.LogFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Locator.PerStrategyTimeout <= 0 {
		return fmt.Errorf("locator.per_strategy_timeout must be a positive duration")
	}
	if c.Locator.PollInterval <= 0 || c.Locator.PollInterval > c.Locator.PerStrategyTimeout {
		return fmt.Errorf("locator.poll_interval must be positive and no longer than locator.per_strategy_timeout")
	}
	switch c.Session.Mode {
	case SessionModeCredentials, SessionModeManual:
	default:
		return fmt.Errorf("session.mode must be %q or %q, got %q", SessionModeCredentials, SessionModeManual, c.Session.Mode)
	}
	if c.Session.SubmitWait <= 0 {
		return fmt.Errorf("session.submit_wait must be a positive duration")
	}
	if c.Search.ResultLimit <= 0 {
		return fmt.Errorf("search.result_limit must be a positive integer")
	}
	if err := c.Ranking.Validate(); err != nil {
		return fmt.Errorf("ranking configuration invalid: %w", err)
	}
	if err := c.Content.Validate(); err != nil {
		return fmt.Errorf("content configuration invalid: %w", err)
	}
	if c.Store.OutputDir == "" {
		return fmt.Errorf("store.output_dir is a required configuration field")
	}
	return nil
}

// Validate checks the ranking weights and filters.
func (r *RankingConfig) Validate() error {
	if len(r.Weights) == 0 {
		return fmt.Errorf("at least one weight is required")
	}
	if r.HeatWeight < 0 {
		return fmt.Errorf("heat_weight must not be negative")
	}
	for _, f := range r.Filters {
		if f.Field == "" {
			return fmt.Errorf("filter field must be set")
		}
		if f.Min > f.Max {
			return fmt.Errorf("filter %q has min %v greater than max %v", f.Field, f.Min, f.Max)
		}
	}
	return nil
}

// Validate checks the content source settings.
func (c *ContentConfig) Validate() error {
	switch c.Source {
	case ContentSourceFile:
		if c.DocumentPath == "" {
			return fmt.Errorf("document_path is required for the file source")
		}
	case ContentSourceGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("Gemini API key is required but not found. Ensure QUILL_GEMINI_API_KEY is set")
		}
	case ContentSourceTemplate:
	default:
		return fmt.Errorf("unknown content source %q", c.Source)
	}
	return nil
}
