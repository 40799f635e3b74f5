// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	Loop    LoopConfig    `mapstructure:"loop" yaml:"loop"`
	Engine  EngineConfig  `mapstructure:"engine" yaml:"engine"`
	Profile ProfileConfig `mapstructure:"profile" yaml:"profile"`
	History HistoryConfig `mapstructure:"history" yaml:"history"`
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

// ColorConfig defines the console color per log level.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the headless browser sessions.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// StabilizeWait is the quiet period after load before a capture is taken.
	StabilizeWait time.Duration `mapstructure:"stabilize_wait" yaml:"stabilize_wait"`
	// ApplySelector locates the Easy Apply trigger on a freshly loaded job
	// page. Matched by CSS selector first, visible label as fallback.
	ApplySelector string `mapstructure:"apply_selector" yaml:"apply_selector"`
	ApplyLabel    string `mapstructure:"apply_label" yaml:"apply_label"`
}

// LLMProvider defines the supported model providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderOllama LLMProvider = "ollama"
)

// LLMConfig configures the tiered model routing.
type LLMConfig struct {
	// FastModel and PowerfulModel name entries of Models. Fast serves routine
	// planning; Powerful serves recovery escalation.
	FastModel     string                 `mapstructure:"fast_model" yaml:"fast_model"`
	PowerfulModel string                 `mapstructure:"powerful_model" yaml:"powerful_model"`
	Models        map[string]ModelConfig `mapstructure:"models" yaml:"models"`
	// AllowCloudFallback disables the powerful tier entirely when false; a
	// stalled attempt then fails without escalation.
	AllowCloudFallback bool `mapstructure:"allow_cloud_fallback" yaml:"allow_cloud_fallback"`
}

// ModelConfig defines the configuration for a single model.
type ModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// LoopConfig tunes the interaction loop state machine.
type LoopConfig struct {
	// MaxBatchSize caps the number of actions accepted from one plan.
	MaxBatchSize int `mapstructure:"max_batch_size" yaml:"max_batch_size"`
	// HistoryTail bounds how many prior outcomes routine planning sees.
	// Recovery always receives the full history.
	HistoryTail int `mapstructure:"history_tail" yaml:"history_tail"`
	// StallThreshold is the count of consecutive non-progressing iterations
	// that triggers recovery escalation.
	StallThreshold int `mapstructure:"stall_threshold" yaml:"stall_threshold"`
	// GiveUpThreshold is the larger count that ends the attempt even after
	// recovery has been tried.
	GiveUpThreshold int `mapstructure:"give_up_threshold" yaml:"give_up_threshold"`
	// MaxIterations is the global per-attempt iteration cap.
	MaxIterations int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	PlanTimeout   time.Duration `mapstructure:"plan_timeout" yaml:"plan_timeout"`
	// PlanRetries caps planner retries per iteration: transport errors are
	// retried with backoff, malformed responses with a corrective note. Once
	// spent, the failure counts as a non-progressing iteration.
	PlanRetries int `mapstructure:"plan_retries" yaml:"plan_retries"`
	// ConfirmationPhrases are matched (case-insensitively) against the
	// normalized visible text to recognize a submitted application.
	ConfirmationPhrases []string `mapstructure:"confirmation_phrases" yaml:"confirmation_phrases"`
}

// EngineConfig configures the batch-of-jobs worker pool and the shared
// outbound throttle.
type EngineConfig struct {
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
	// MinRequestDelay is the floor between outbound requests (model calls and
	// navigations) across all attempts; JitterMs is added randomly on top.
	MinRequestDelay time.Duration `mapstructure:"min_request_delay" yaml:"min_request_delay"`
	JitterMs        int           `mapstructure:"jitter_ms" yaml:"jitter_ms"`
	// MaxAttemptsPerHour is a hard ceiling on attempts started per hour.
	MaxAttemptsPerHour int `mapstructure:"max_attempts_per_hour" yaml:"max_attempts_per_hour"`
}

// ProfileConfig locates the applicant profile.
type ProfileConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// HistoryConfig locates the append-only application history.
type HistoryConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "applyloop")
	v.SetDefault("logger.log_file", "applyloop.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.stabilize_wait", "1500ms")
	v.SetDefault("browser.apply_selector", "button.jobs-apply-button")
	v.SetDefault("browser.apply_label", "Easy Apply")

	// -- LLM --
	v.SetDefault("llm.fast_model", "local")
	v.SetDefault("llm.powerful_model", "cloud")
	v.SetDefault("llm.allow_cloud_fallback", true)
	v.SetDefault("llm.models.local.provider", "ollama")
	v.SetDefault("llm.models.local.model", "llama3")
	v.SetDefault("llm.models.local.endpoint", "http://localhost:11434")
	v.SetDefault("llm.models.local.api_timeout", "60s")
	v.SetDefault("llm.models.local.temperature", 0.2)
	v.SetDefault("llm.models.cloud.provider", "gemini")
	v.SetDefault("llm.models.cloud.model", "gemini-2.5-pro")
	v.SetDefault("llm.models.cloud.api_timeout", "90s")
	v.SetDefault("llm.models.cloud.temperature", 0.2)
	v.SetDefault("llm.models.cloud.max_tokens", 4096)

	// -- Loop --
	v.SetDefault("loop.max_batch_size", 5)
	v.SetDefault("loop.history_tail", 10)
	v.SetDefault("loop.stall_threshold", 3)
	v.SetDefault("loop.give_up_threshold", 6)
	v.SetDefault("loop.max_iterations", 40)
	v.SetDefault("loop.action_timeout", "15s")
	v.SetDefault("loop.plan_timeout", "90s")
	v.SetDefault("loop.plan_retries", 2)
	v.SetDefault("loop.confirmation_phrases", []string{
		"application sent",
		"application submitted",
		"your application was sent",
	})

	// -- Engine --
	v.SetDefault("engine.concurrency", 2)
	v.SetDefault("engine.min_request_delay", "2s")
	v.SetDefault("engine.jitter_ms", 750)
	v.SetDefault("engine.max_attempts_per_hour", 20)

	// -- Profile / History --
	v.SetDefault("profile.path", "data/user_profile.yaml")
	v.SetDefault("history.path", "data/applied_jobs.jsonl")
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Unreachable with defaults, but fail loudly rather than run half-configured.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object,
// binding sensitive values from the environment.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("llm.models.cloud.api_key", "APPLYLOOP_CLOUD_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Loop.MaxBatchSize <= 0 {
		return fmt.Errorf("loop.max_batch_size must be a positive integer")
	}
	if c.Loop.StallThreshold <= 0 {
		return fmt.Errorf("loop.stall_threshold must be a positive integer")
	}
	if c.Loop.GiveUpThreshold < c.Loop.StallThreshold {
		return fmt.Errorf("loop.give_up_threshold must be >= loop.stall_threshold")
	}
	if c.Loop.MaxIterations <= 0 {
		return fmt.Errorf("loop.max_iterations must be a positive integer")
	}
	if c.Engine.Concurrency <= 0 {
		return fmt.Errorf("engine.concurrency must be a positive integer")
	}
	if c.LLM.FastModel == "" {
		return fmt.Errorf("llm.fast_model is required")
	}
	if _, ok := c.LLM.Models[c.LLM.FastModel]; !ok {
		return fmt.Errorf("llm.fast_model %q has no entry under llm.models", c.LLM.FastModel)
	}
	if c.LLM.AllowCloudFallback {
		if _, ok := c.LLM.Models[c.LLM.PowerfulModel]; !ok {
			return fmt.Errorf("llm.powerful_model %q has no entry under llm.models", c.LLM.PowerfulModel)
		}
	}
	if c.Profile.Path == "" {
		return fmt.Errorf("profile.path is required")
	}
	return nil
}
