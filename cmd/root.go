package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/pliedpiper/KadenBot/kadenbot"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "KADENBOT"

var (
	cfg     = kadenbot.DefaultConfig()
	envFile string
)

var rootCmd = &cobra.Command{
	Use: "kadenbot [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc decodes strings like "INFO" into *slog.LevelVar
// fields during viper unmarshaling.
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if envFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		if err := godotenv.Load(envFile); err != nil {
			log.Printf("unable to load env file %s: %s", envFile, err)
		}
	}

	viper.SetDefault("log_level", kadenbot.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", kadenbot.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", kadenbot.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.notification_channel_id", "")
	viper.SetDefault(
		"discord.startup_message",
		kadenbot.DefaultDiscordStartupMessage,
	)
	viper.SetDefault("discord.custom_status", kadenbot.DefaultDiscordCustomStatus)
	viper.SetDefault(
		"discord.gateway_intents",
		kadenbot.DefaultDiscordGatewayIntents,
	)
	viper.SetDefault(
		"discord.log_level",
		kadenbot.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		kadenbot.DefaultDiscordgoLogLevel.String(),
	)

	// OpenAI config
	viper.SetDefault("openai.token", "")
	viper.SetDefault("openai.model", kadenbot.DefaultOpenAIModel)
	viper.SetDefault("openai.system_prompt", kadenbot.DefaultOpenAISystemPrompt)
	viper.SetDefault(
		"openai.max_output_tokens",
		kadenbot.DefaultOpenAIMaxOutputTokens,
	)
	viper.SetDefault(
		"openai.request_timeout",
		kadenbot.DefaultOpenAIRequestTimeout,
	)
	viper.SetDefault(
		"openai.max_requests_per_second",
		kadenbot.DefaultOpenAIMaxRequestsPerSecond,
	)
	viper.SetDefault("openai.log_level", kadenbot.DefaultOpenAILogLevel.String())

	// Status API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", kadenbot.DefaultAPIListen)
	viper.SetDefault("api.log_level", kadenbot.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", kadenbot.DefaultReadTimeout)
	viper.SetDefault("api.write_timeout", kadenbot.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", kadenbot.DefaultIdleTimeout)

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

//goland:noinspection GoLinter
func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(
		&envFile,
		"env-file",
		"",
		"load environment variables from this file instead of .env",
	)
}
