// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aiku/slack-zulip-bridge/pkg/bridgedb"
)

// BridgeStore is the persistence the engine needs. *bridgedb.BridgeQuery
// implements it.
type BridgeStore interface {
	Insert(ctx context.Context, slackChannelID, stream, topic string) (*bridgedb.Bridge, error)
	GetBySlackChannel(ctx context.Context, channelID string) (*bridgedb.Bridge, error)
	GetByZulipTarget(ctx context.Context, stream, topic string) (*bridgedb.Bridge, error)
	DeleteBySlackChannel(ctx context.Context, channelID string) (int64, error)
}

// SlackPost is one outbound Slack message.
type SlackPost struct {
	ChannelID string
	Text      string
	// ThreadTS makes the message a thread reply when set.
	ThreadTS string
	// Username overrides the bot's display name when set.
	Username string
}

// SlackSender posts messages to Slack.
type SlackSender interface {
	PostMessage(ctx context.Context, post SlackPost) error
}

// ZulipSender posts messages to a Zulip stream and topic.
type ZulipSender interface {
	SendStreamMessage(ctx context.Context, stream, topic, content string) error
}

// SlackFile is a file shared in a Slack message.
type SlackFile struct {
	Name string
	URL  string
}

// SlackMessage is an inbound Slack message.
type SlackMessage struct {
	ChannelID string
	UserID    string
	BotID     string
	Text      string
	Timestamp string
	Files     []SlackFile
}

// ZulipMessage is an inbound Zulip stream message.
type ZulipMessage struct {
	Stream      string
	Topic       string
	Text        string
	SenderEmail string
	SenderName  string
}

// LinkResult is the outcome of a link command.
type LinkResult struct {
	OK     bool
	Bridge *bridgedb.Bridge
	// Target is the normalized "<stream>[:<topic>]" that was linked.
	Target string
}

// Engine forwards messages between linked Slack channels and Zulip topics
// and executes link commands.
//
// Send failures are logged and counted but never returned: forwarding is
// best-effort. The only errors the engine returns come from the store.
type Engine struct {
	Store BridgeStore
	Slack SlackSender
	Zulip ZulipSender
	Self  Identity

	// ConvertFormatting translates markup between Slack mrkdwn and Zulip
	// markdown. When false, text is forwarded verbatim.
	ConvertFormatting bool
	// SenderNames shows the Zulip sender's name as the Slack display name.
	SenderNames bool

	Metrics *Metrics
	Log     zerolog.Logger
}

// ForwardToZulip forwards a Slack message to the Zulip topic its channel is
// linked to. Shared files are sent as links first, in order, followed by the
// text body. It reports whether a bridge matched.
func (e *Engine) ForwardToZulip(ctx context.Context, msg *SlackMessage) (bool, error) {
	if e.Self.IsSlackSelf(msg.UserID, msg.BotID) {
		e.Metrics.countDropped(directionToZulip, "own_message")
		return false, nil
	}
	bridge, err := e.Store.GetBySlackChannel(ctx, msg.ChannelID)
	if err != nil {
		return false, fmt.Errorf("failed to look up bridge for Slack channel %s: %w", msg.ChannelID, err)
	}
	if bridge == nil {
		e.Log.Debug().Str("slack_channel_id", msg.ChannelID).Msg("No bridge for Slack channel, not forwarding")
		e.Metrics.countDropped(directionToZulip, "no_bridge")
		return false, nil
	}

	log := e.Log.With().
		Str("slack_channel_id", msg.ChannelID).
		Str("zulip_stream", bridge.ZulipStream).
		Str("zulip_topic", bridge.ZulipTopic).
		Logger()
	for _, file := range msg.Files {
		e.sendToZulip(ctx, &log, bridge, formatFileLink(file.Name, file.URL))
	}
	if text := e.toZulipText(msg.Text); text != "" {
		e.sendToZulip(ctx, &log, bridge, text)
	}
	log.Debug().
		Str("slack_user_id", msg.UserID).
		Int("files", len(msg.Files)).
		Msg("Forwarded Slack message to Zulip")
	e.Metrics.countForwarded(directionToZulip)
	return true, nil
}

func (e *Engine) sendToZulip(ctx context.Context, log *zerolog.Logger, bridge *bridgedb.Bridge, content string) {
	if err := e.Zulip.SendStreamMessage(ctx, bridge.ZulipStream, bridge.ZulipTopic, content); err != nil {
		log.Err(err).Msg("Failed to send message to Zulip")
		e.Metrics.countSendFailure(directionToZulip)
	}
}

// ForwardToSlack forwards a Zulip stream message to the Slack channel linked
// to its stream and topic. It reports whether a bridge matched.
func (e *Engine) ForwardToSlack(ctx context.Context, msg *ZulipMessage) (bool, error) {
	if e.Self.IsZulipSelf(msg.SenderEmail) {
		e.Metrics.countDropped(directionToSlack, "own_message")
		return false, nil
	}
	bridge, err := e.Store.GetByZulipTarget(ctx, msg.Stream, msg.Topic)
	if err != nil {
		return false, fmt.Errorf("failed to look up bridge for Zulip target %s: %w", FormatTarget(msg.Stream, msg.Topic), err)
	}
	if bridge == nil {
		e.Log.Debug().
			Str("zulip_stream", msg.Stream).
			Str("zulip_topic", msg.Topic).
			Msg("No bridge for Zulip topic, not forwarding")
		e.Metrics.countDropped(directionToSlack, "no_bridge")
		return false, nil
	}

	post := SlackPost{
		ChannelID: bridge.SlackChannelID,
		Text:      e.toSlackText(msg.Text),
	}
	if e.SenderNames {
		post.Username = msg.SenderName
	}
	log := e.Log.With().
		Str("slack_channel_id", bridge.SlackChannelID).
		Str("zulip_stream", msg.Stream).
		Str("zulip_topic", msg.Topic).
		Logger()
	if err = e.Slack.PostMessage(ctx, post); err != nil {
		log.Err(err).Msg("Failed to send message to Slack")
		e.Metrics.countSendFailure(directionToSlack)
	} else {
		log.Debug().Str("zulip_sender", msg.SenderEmail).Msg("Forwarded Zulip message to Slack")
	}
	e.Metrics.countForwarded(directionToSlack)
	return true, nil
}

// HandleLink links a Slack channel to the Zulip target in arg. An argument
// without a stream produces a failed result and no record.
func (e *Engine) HandleLink(ctx context.Context, channelID, arg string) (LinkResult, error) {
	stream, topic, ok := ParseLinkArgument(arg)
	if !ok {
		e.Metrics.countCommand("link", "invalid")
		return LinkResult{}, nil
	}
	bridge, err := e.Store.Insert(ctx, channelID, stream, topic)
	if err != nil {
		e.Metrics.countCommand("link", "error")
		return LinkResult{}, fmt.Errorf("failed to create bridge for Slack channel %s: %w", channelID, err)
	}
	e.Log.Info().
		Int64("bridge_id", bridge.ID).
		Str("slack_channel_id", channelID).
		Str("zulip_stream", stream).
		Str("zulip_topic", topic).
		Msg("Linked Slack channel to Zulip")
	e.Metrics.countCommand("link", "ok")
	return LinkResult{OK: true, Bridge: bridge, Target: FormatTarget(stream, topic)}, nil
}

// HandleUnlink removes every bridge of a Slack channel and returns how many
// there were. Unlinking a channel without bridges is a no-op.
func (e *Engine) HandleUnlink(ctx context.Context, channelID string) (int64, error) {
	count, err := e.Store.DeleteBySlackChannel(ctx, channelID)
	if err != nil {
		e.Metrics.countCommand("unlink", "error")
		return 0, fmt.Errorf("failed to delete bridges for Slack channel %s: %w", channelID, err)
	}
	e.Log.Info().
		Str("slack_channel_id", channelID).
		Int64("deleted", count).
		Msg("Unlinked Slack channel")
	e.Metrics.countCommand("unlink", "ok")
	return count, nil
}

func (e *Engine) toZulipText(text string) string {
	if e.ConvertFormatting {
		return slackfmtParse(text)
	}
	return text
}

func (e *Engine) toSlackText(text string) string {
	if e.ConvertFormatting {
		return zulipfmtParse(text)
	}
	return text
}
