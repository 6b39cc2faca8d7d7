// Package kadenbot implements a minimal Discord message-relay bot: it
// listens for messages that mention the bot, forwards the question text
// to the OpenAI chat-completion API, and posts the answer back to the
// originating channel as a reply.
//
// There's no conversation memory and no persistence - each message is
// handled independently, start to finish, by a single relay cycle.
package kadenbot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/pliedpiper/KadenBot/kadenbot.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var (
	defaultLogWriter io.Writer = os.Stdout
)

// KadenBot is the main application struct, tying together the Discord
// and OpenAI integrations and the optional status API.
type KadenBot struct {
	config *Config

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	// Handler to use for the above
	logHandler slog.Handler

	// Handles discord integration, sessions
	discord *Discord

	// Handles OpenAI API integration
	openai *OpenAI

	// Provides the status/health API, if enabled
	api *API

	// A signal is sent on this channel when shutdown finishes
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// The time Run was called
	startedAt time.Time

	// relaysInProgress is the number of relay cycles currently running
	relaysInProgress atomic.Int64

	metricMessagesSeen     atomic.Int64
	metricRepliesSent      atomic.Int64
	metricCompletionErrors atomic.Int64
}

// New validates the given config and returns a new KadenBot instance
func New(config *Config) (*KadenBot, error) {
	if config == nil {
		return nil, errors.New("nil config")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	k := &KadenBot{
		config:        config,
		eventShutdown: make(chan struct{}, 1),
	}

	k.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     config.LogLevel,
			AddSource: true,
		},
	)
	k.logger = slog.New(k.logHandler)
	slog.SetDefault(k.logger)

	k.openai = newOpenAI(
		config.OpenAI,
		slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     config.OpenAI.LogLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "openai"),
		config.HTTPClient,
	)

	config.Discord.httpClient = config.HTTPClient
	disc := newDiscord(config.Discord)
	disc.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord")
	disc.bot = k
	k.discord = disc

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	if config.API != nil && config.API.Enabled {
		k.api = newAPI(
			k,
			config.API,
			slog.New(
				tint.NewHandler(
					defaultLogWriter, &tint.Options{
						Level:     config.API.LogLevel,
						AddSource: true,
					},
				),
			).With(loggerNameKey, "api"),
		)
	}

	return k, nil
}

func (k *KadenBot) getLogger(ctx context.Context) (
	context.Context,
	*slog.Logger,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = k.logger
		ctx = WithLogger(ctx, logger)
	}
	return ctx, logger
}

// Run opens the discord gateway connection, registers the relay handler,
// optionally starts the status API, and blocks until ctx is cancelled.
// In-flight relay cycles are given until the shutdown timeout to finish.
func (k *KadenBot) Run(ctx context.Context) error {
	k.runMu.Lock()
	defer k.runMu.Unlock()

	k.startedAt = time.Now()

	session, err := k.discord.newSession()
	if err != nil {
		return fmt.Errorf("error initializing discord session: %w", err)
	}
	k.discord.session = session

	identify := discordgo.Identify{
		Token:   k.config.Discord.Token,
		Intents: k.config.Discord.GatewayIntents,
	}
	if k.config.Discord.CustomStatus != "" {
		identify.Presence = discordgo.GatewayStatusUpdate{
			Game: discordgo.Activity{
				Type: discordgo.ActivityTypeCustom,
				Name: k.config.Discord.CustomStatus,
			},
			Status: string(discordgo.StatusOnline),
		}
	}
	session.SetIdentify(identify)

	runtimeWG := &sync.WaitGroup{}

	k.discord.discordgoRemoveHandlerFuncs = []func(){
		session.AddHandler(k.discord.handlerConnect()),
		session.AddHandler(k.discord.handlerDisconnect()),
		session.AddHandler(k.discord.handlerReady()),
		session.AddHandler(
			func(
				_ *discordgo.Session,
				m *discordgo.MessageCreate,
			) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					k.handleDiscordMessage(ctx, m)
				}()
			},
		),
	}

	openCh := make(chan error, 1)
	go func() {
		openCh <- session.Open()
	}()
	select {
	case err = <-openCh:
		if err != nil {
			return fmt.Errorf("error opening discord connection: %w", err)
		}
	case <-time.After(k.config.StartupTimeout):
		return errors.New("timed out waiting for discord connection")
	case <-ctx.Done():
		return ctx.Err()
	}

	var apiErrCh chan error
	if k.api != nil {
		apiErrCh = make(chan error, 1)
		go func() {
			apiErrCh <- k.api.Serve(ctx)
		}()
	}

	k.logger.Info(
		"kadenbot running",
		"version", Version,
		"config", k.config,
	)

	select {
	case <-ctx.Done():
		k.logger.Info("shutting down")
	case err = <-apiErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			k.logger.Error("api server failed", tint.Err(err))
		}
	}

	k.shutdown(runtimeWG)
	return nil
}

// shutdown removes gateway handlers, waits (up to the shutdown timeout)
// for in-flight relay cycles, and closes the discord session and API
// server.
func (k *KadenBot) shutdown(runtimeWG *sync.WaitGroup) {
	defer func() {
		k.eventShutdown <- struct{}{}
	}()

	for _, removeHandler := range k.discord.discordgoRemoveHandlerFuncs {
		removeHandler()
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		k.config.ShutdownTimeout,
	)
	defer cancel()

	finished := make(chan struct{})
	go func() {
		runtimeWG.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		//
	case <-shutdownCtx.Done():
		k.logger.Warn(
			"shutdown timeout elapsed with relay cycles in progress",
			"in_progress", k.relaysInProgress.Load(),
		)
	}

	if k.api != nil {
		if err := k.api.Shutdown(shutdownCtx); err != nil {
			k.logger.Error("error stopping api server", tint.Err(err))
		}
	}

	if err := k.discord.session.Close(); err != nil {
		k.logger.Error("error closing discord session", tint.Err(err))
	}
	k.logger.Info("shutdown complete")
}
