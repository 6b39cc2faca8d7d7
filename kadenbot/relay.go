package kadenbot

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// EmptyQuestionMessage is the reply sent for a bare mention, so an API
// call isn't wasted on an empty question.
const EmptyQuestionMessage = "You mentioned me, but didn't ask a question!"

// onlineQueryKeywords are the phrases that trigger the local "who's
// online" reply instead of a completion request.
var onlineQueryKeywords = []string{
	"who's online",
	"who is online",
	"online members",
	"members online",
	"list online",
}

// handleDiscordMessage runs one relay cycle for an incoming discord
// message. This method is called as a goroutine for each new message
// received through the gateway.
//
// Messages from the bot itself (or any bot), messages that don't mention
// the bot, @everyone mentions, and messages with no resolvable author are
// all discarded silently. Everything else gets exactly one reply: the
// (possibly truncated) answer, a prompt to ask an actual question, or a
// short fixed failure message. Raw errors are never sent to the channel.
func (k *KadenBot) handleDiscordMessage(
	ctx context.Context,
	m *discordgo.MessageCreate,
) {
	ctx, logger := k.getLogger(ctx)
	k.metricMessagesSeen.Add(1)
	k.relaysInProgress.Add(1)
	defer k.relaysInProgress.Add(-1)

	defer func() {
		if rc := recover(); rc != nil {
			logger.ErrorContext(
				ctx,
				"panic in relay cycle",
				"recovered", rc,
				"stack", string(debug.Stack()),
			)
			k.sendReply(ctx, m, InternalErrorMessage)
		}
	}()

	botUser := k.discord.session.BotUser()
	if botUser == nil {
		logger.WarnContext(ctx, "bot user not available, ignoring message")
		return
	}

	author := messageAuthor(m.Message)
	if author == nil {
		logger.WarnContext(ctx, "couldn't find author in discord message")
		return
	}
	if author.Bot || author.ID == botUser.ID {
		return
	}

	if m.MentionEveryone || !messageMentionsUser(m.Message, botUser.ID) {
		return
	}

	logger = logger.With(
		slog.Group(
			"message",
			"id", m.ID,
			"channel_id", m.ChannelID,
			"guild_id", m.GuildID,
			"author_id", author.ID,
			"author_username", author.Username,
		),
	)
	ctx = WithLogger(ctx, logger)
	logger.InfoContext(ctx, "bot mentioned")

	question := stripMention(m.Content, botUser.ID)
	if question == "" {
		logger.InfoContext(ctx, "empty question after stripping mention")
		k.sendReply(ctx, m, EmptyQuestionMessage)
		return
	}

	if isOnlineQuery(question) {
		logger.InfoContext(ctx, "handling online-members query")
		k.sendReply(
			ctx,
			m,
			shapeReply(k.onlineMembersReply(m.GuildID), discordMaxMessageLength),
		)
		return
	}

	// The typing indicator is held for the duration of the completion
	// call and released on every exit path, including panics.
	answer, err := func() (string, error) {
		stopTyping := k.discord.startTyping(ctx, m.ChannelID)
		defer stopTyping()
		return k.openai.Complete(ctx, question)
	}()
	if err != nil {
		k.metricCompletionErrors.Add(1)
		k.sendReply(ctx, m, CompletionErrorMessage(err))
		return
	}

	k.sendReply(ctx, m, shapeReply(answer, discordMaxMessageLength))
}

// sendReply sends text to the originating channel as a reply to the
// triggering message. Send failures are logged and swallowed - they must
// never crash the relay cycle.
func (k *KadenBot) sendReply(
	ctx context.Context,
	m *discordgo.MessageCreate,
	text string,
) {
	_, logger := k.getLogger(ctx)
	_, err := k.discord.session.ChannelMessageSendReply(
		m.ChannelID,
		text,
		m.Reference(),
	)
	if err != nil {
		logger.ErrorContext(ctx, "unable to send reply", tint.Err(err))
		return
	}
	k.metricRepliesSent.Add(1)
}

// isOnlineQuery reports whether the question is asking who's currently
// online, which is answered from guild state without an API call.
func isOnlineQuery(question string) bool {
	question = strings.ToLower(question)
	for _, keyword := range onlineQueryKeywords {
		if strings.Contains(question, keyword) {
			return true
		}
	}
	return false
}

// onlineMembersReply lists the display names of non-bot guild members
// whose presence is online, idle or do-not-disturb, from the cached
// guild state.
func (k *KadenBot) onlineMembersReply(guildID string) string {
	if guildID == "" {
		return "I can only check who's online from inside a server."
	}

	guild, err := k.discord.session.Guild(guildID)
	if err != nil || guild == nil {
		k.logger.Warn(
			"unable to load guild state",
			tint.Err(err),
			"guild_id", guildID,
		)
		return "It seems no users are currently online (or I couldn't see them)."
	}

	onlineStatus := map[discordgo.Status]bool{
		discordgo.StatusOnline:       true,
		discordgo.StatusIdle:         true,
		discordgo.StatusDoNotDisturb: true,
	}
	presences := make(map[string]discordgo.Status, len(guild.Presences))
	for _, presence := range guild.Presences {
		if presence.User != nil {
			presences[presence.User.ID] = presence.Status
		}
	}

	var names []string
	for _, member := range guild.Members {
		if member.User == nil || member.User.Bot {
			continue
		}
		if onlineStatus[presences[member.User.ID]] {
			names = append(names, memberDisplayName(member))
		}
	}

	if len(names) == 0 {
		return "It seems no users are currently online (or I couldn't see them)."
	}
	return "Here are the members currently online:\n- " +
		strings.Join(names, "\n- ")
}
