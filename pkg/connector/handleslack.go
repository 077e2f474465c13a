// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

// Chat commands recognized in linked and unlinked Slack channels.
const (
	linkCommandPrefix = "zulip/link "
	unlinkCommand     = "zulip/unlink"
)

// Command replies.
const (
	linkFailedReply = "Error linking channel, please try again"
	unlinkReply     = "Deleted bridges for this channel"
)

// slackEventSource delivers Slack message events. *SlackClient implements it.
type slackEventSource interface {
	Listen(ctx context.Context, fn func(*slackevents.MessageEvent)) error
}

// SlackListener receives Slack messages over Socket Mode, runs link and
// unlink commands and hands everything else to the engine.
type SlackListener struct {
	source   slackEventSource
	engine   *Engine
	dispatch *dispatcher
	log      zerolog.Logger
}

// NewSlackListener creates a listener. onFatal receives storage errors raised
// while handling events.
func NewSlackListener(source slackEventSource, engine *Engine, log zerolog.Logger, onFatal func(error)) *SlackListener {
	log = log.With().Str("component", "slack_listener").Logger()
	return &SlackListener{
		source:   source,
		engine:   engine,
		dispatch: newDispatcher(log, onFatal),
		log:      log,
	}
}

// Run listens until ctx is cancelled or the connection fails. In-flight
// handlers are awaited before it returns.
func (l *SlackListener) Run(ctx context.Context) error {
	defer l.dispatch.Wait()
	hctx := context.WithoutCancel(ctx)
	return l.source.Listen(ctx, func(evt *slackevents.MessageEvent) {
		l.dispatch.Go("slack_message", func() error {
			return l.handleMessageEvent(hctx, evt)
		})
	})
}

// convertMessageEvent extracts the bridgeable parts of a message event.
// It returns nil for events that must not be bridged: edits, deletions, joins
// and other subtypes, and the bridge's own messages.
func (l *SlackListener) convertMessageEvent(evt *slackevents.MessageEvent) *SlackMessage {
	// Uploads arrive with the file_share subtype and are bridged like plain
	// messages.
	if evt.SubType != "" && evt.SubType != slack.MsgSubTypeFileShare {
		return nil
	}
	// Echo prevention: skip the bridge's own posts.
	if l.engine.Self.IsSlackSelf(evt.User, evt.BotID) {
		return nil
	}
	msg := &SlackMessage{
		ChannelID: evt.Channel,
		UserID:    evt.User,
		BotID:     evt.BotID,
		Text:      evt.Text,
		Timestamp: evt.TimeStamp,
	}
	if evt.Message != nil {
		for _, f := range evt.Message.Files {
			msg.Files = append(msg.Files, SlackFile{Name: f.Name, URL: f.URLPrivate})
		}
	}
	return msg
}

func (l *SlackListener) handleMessageEvent(ctx context.Context, evt *slackevents.MessageEvent) error {
	msg := l.convertMessageEvent(evt)
	if msg == nil {
		return nil
	}
	switch {
	case strings.HasPrefix(msg.Text, linkCommandPrefix):
		return l.handleLink(ctx, msg, strings.TrimPrefix(msg.Text, linkCommandPrefix))
	case strings.HasPrefix(msg.Text, unlinkCommand):
		return l.handleUnlink(ctx, msg)
	default:
		_, err := l.engine.ForwardToZulip(ctx, msg)
		return err
	}
}

func (l *SlackListener) handleLink(ctx context.Context, msg *SlackMessage, arg string) error {
	res, err := l.engine.HandleLink(ctx, msg.ChannelID, arg)
	if err != nil {
		l.reply(ctx, msg, linkFailedReply)
		return err
	}
	if !res.OK {
		l.log.Debug().Str("slack_channel_id", msg.ChannelID).Str("argument", arg).Msg("Rejected invalid link command")
		l.reply(ctx, msg, linkFailedReply)
		return nil
	}
	l.reply(ctx, msg, "Linked this channel to "+res.Target+" on Zulip")
	notice := "This topic was linked to the #" + msg.ChannelID + " channel on Slack"
	err = l.engine.Zulip.SendStreamMessage(ctx, res.Bridge.ZulipStream, res.Bridge.ZulipTopic, notice)
	if err != nil {
		l.log.Err(err).Str("zulip_target", res.Target).Msg("Failed to send link notice to Zulip")
		l.engine.Metrics.countSendFailure(directionToZulip)
	}
	return nil
}

func (l *SlackListener) handleUnlink(ctx context.Context, msg *SlackMessage) error {
	if _, err := l.engine.HandleUnlink(ctx, msg.ChannelID); err != nil {
		return err
	}
	l.reply(ctx, msg, unlinkReply)
	return nil
}

// reply answers a command in a thread under the command message.
func (l *SlackListener) reply(ctx context.Context, msg *SlackMessage, text string) {
	err := l.engine.Slack.PostMessage(ctx, SlackPost{
		ChannelID: msg.ChannelID,
		Text:      text,
		ThreadTS:  msg.Timestamp,
	})
	if err != nil {
		l.log.Err(err).Str("slack_channel_id", msg.ChannelID).Msg("Failed to reply to command")
		l.engine.Metrics.countSendFailure(directionToSlack)
	}
}
