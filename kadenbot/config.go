package kadenbot

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DefaultOpenAIModel                = "gpt-4o"
	DefaultOpenAIMaxOutputTokens      = 450
	DefaultOpenAIRequestTimeout       = 90 * time.Second
	DefaultOpenAIMaxRequestsPerSecond = 1
	DefaultOpenAISystemPrompt         = "You are KadenBot, a helpful Discord " +
		"assistant. Answer concisely."

	DefaultDiscordGatewayIntents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildPresences
	DefaultDiscordCustomStatus   = "@mention me with a question!"
	DefaultDiscordStartupMessage = "KadenBot is online."

	DefaultDiscordLogLevel   = slog.LevelWarn
	DefaultDiscordgoLogLevel = slog.LevelWarn
	DefaultOpenAILogLevel    = slog.LevelInfo
	DefaultAPILogLevel       = slog.LevelInfo

	DefaultAPIListen        = "127.0.0.1:5000"
	DefaultReadTimeout      = 5 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultIdleTimeout      = 30 * time.Second
	defaultTypingInterval   = 8 * time.Second
	discordMaxMessageLength = 2000
)

// Config is the top-level KadenBot configuration, normally populated
// by viper in the cmd package.
type Config struct {
	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout limits the time the bot has to connect to the
	// Discord gateway before startup is aborted
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After
	// this elapses, remaining connections are force-closed.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// Discord configures the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// OpenAI configures the completion API integration
	OpenAI *OpenAIConfig `yaml:"openai" mapstructure:"openai" json:"openai"`

	// API configures the optional status/health HTTP server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	HTTPClient *http.Client `json:"-" yaml:"-" mapstructure:"-"`
}

// DiscordConfig configures the discord bot itself.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"-"`

	// NotificationChannelID, if set, receives StartupMessage whenever
	// the bot connects to the gateway
	NotificationChannelID string `yaml:"notification_channel_id" mapstructure:"notification_channel_id" json:"notification_channel_id"`

	// StartupMessage is sent to NotificationChannelID on connect
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// CustomStatus is the bot user's custom status string
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// GatewayIntents for the discord gateway connection. The presence
	// query needs guild members and presences in addition to messages.
	// See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	httpClient *http.Client
}

// OpenAIConfig configures OpenAI API integration and completion parameters
type OpenAIConfig struct {
	// OpenAI API token
	Token string `yaml:"token" mapstructure:"token" json:"-"`

	// Model is the completion model identifier
	Model string `yaml:"model" mapstructure:"model" json:"model"`

	// SystemPrompt is sent as the system turn on every completion request
	SystemPrompt string `yaml:"system_prompt" mapstructure:"system_prompt" json:"system_prompt"`

	// MaxOutputTokens bounds the completion response length, so replies
	// generally fit within the discord message size limit
	MaxOutputTokens int `yaml:"max_output_tokens" mapstructure:"max_output_tokens" json:"max_output_tokens"`

	// RequestTimeout bounds a single completion call, including any
	// time spent waiting on the request limiter
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" json:"request_timeout"`

	// MaxRequestsPerSecond limits the rate of completion API requests
	MaxRequestsPerSecond int `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second"`

	// OpenAI base log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// APIConfig configures the optional status/health HTTP server
type APIConfig struct {
	// Enabled determines whether the status server is started
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000")
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen"`

	// The logging level for the API server
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Maximum duration for reading the entire request, including the body
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`

	// Maximum duration before timing out writes of the response
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`
}

// Validate checks for required settings. Both secrets are required at
// startup - a missing token is fatal, not a runtime error.
func (c *Config) Validate() error {
	var errs []error
	if c.Discord == nil || c.Discord.Token == "" {
		errs = append(errs, errors.New("discord token is required"))
	}
	if c.OpenAI == nil || c.OpenAI.Token == "" {
		errs = append(errs, errors.New("openai token is required"))
	}
	if c.OpenAI != nil && c.OpenAI.Model == "" {
		errs = append(errs, errors.New("openai model is required"))
	}
	if c.OpenAI != nil && c.OpenAI.MaxOutputTokens <= 0 {
		errs = append(errs, errors.New("openai max_output_tokens must be > 0"))
	}
	if c.API != nil && c.API.Enabled && c.API.Listen == "" {
		errs = append(errs, errors.New("api listen address is required"))
	}
	return errors.Join(errs...)
}

func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("log_level", c.LogLevel),
		slog.Duration("startup_timeout", c.StartupTimeout),
		slog.Duration("shutdown_timeout", c.ShutdownTimeout),
		slog.Any("discord", c.Discord),
		slog.Any("openai", c.OpenAI),
		slog.Any("api", c.API),
	)
}

func (c DiscordConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("token", "[redacted]"),
		slog.String("notification_channel_id", c.NotificationChannelID),
		slog.String("custom_status", c.CustomStatus),
		slog.Int("gateway_intents", int(c.GatewayIntents)),
		slog.Any("log_level", c.LogLevel),
		slog.Any("discordgo_log_level", c.DiscordGoLogLevel),
	)
}

func (c OpenAIConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("token", "[redacted]"),
		slog.String("model", c.Model),
		slog.Int("max_output_tokens", c.MaxOutputTokens),
		slog.Duration("request_timeout", c.RequestTimeout),
		slog.Int("max_requests_per_second", c.MaxRequestsPerSecond),
		slog.Any("log_level", c.LogLevel),
	)
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	openaiLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	openaiLogLevel.Set(DefaultOpenAILogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		LogLevel:        mainLogLevel,
		StartupTimeout:  DefaultStartupTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			StartupMessage:    DefaultDiscordStartupMessage,
			CustomStatus:      DefaultDiscordCustomStatus,
			GatewayIntents:    DefaultDiscordGatewayIntents,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
		},
		OpenAI: &OpenAIConfig{
			Model:                DefaultOpenAIModel,
			SystemPrompt:         DefaultOpenAISystemPrompt,
			MaxOutputTokens:      DefaultOpenAIMaxOutputTokens,
			RequestTimeout:       DefaultOpenAIRequestTimeout,
			MaxRequestsPerSecond: DefaultOpenAIMaxRequestsPerSecond,
			LogLevel:             openaiLogLevel,
		},
		API: &APIConfig{
			Enabled:      false,
			Listen:       DefaultAPIListen,
			LogLevel:     apiLogLevel,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
		},
	}
}
