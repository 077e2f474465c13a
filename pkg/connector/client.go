// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// SlackClient is the bridge's Slack connection: Web API calls with the bot
// token and a Socket Mode connection with the app-level token.
type SlackClient struct {
	api    *slack.Client
	socket *socketmode.Client
	log    zerolog.Logger
}

var _ SlackSender = (*SlackClient)(nil)

// NewSlackClient creates a Slack client. Extra options are passed to the Web
// API client; tests use slack.OptionAPIURL to point it at a fake server.
func NewSlackClient(botToken, appToken string, log zerolog.Logger, opts ...slack.Option) *SlackClient {
	log = log.With().Str("component", "slack_client").Logger()
	sl := slackLogger{log: log}
	opts = append([]slack.Option{
		slack.OptionAppLevelToken(appToken),
		slack.OptionLog(sl),
	}, opts...)
	api := slack.New(botToken, opts...)
	return &SlackClient{
		api:    api,
		socket: socketmode.New(api, socketmode.OptionLog(sl)),
		log:    log,
	}
}

// Identify verifies the bot token and returns the bot's own user and bot IDs.
func (c *SlackClient) Identify(ctx context.Context) (userID, botID string, err error) {
	resp, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to verify Slack bot token: %w", err)
	}
	c.log.Info().
		Str("user_id", resp.UserID).
		Str("bot_id", resp.BotID).
		Str("team", resp.Team).
		Msg("Authenticated to Slack")
	return resp.UserID, resp.BotID, nil
}

// PostMessage implements SlackSender.
func (c *SlackClient) PostMessage(ctx context.Context, post SlackPost) error {
	opts := []slack.MsgOption{slack.MsgOptionText(post.Text, false)}
	if post.ThreadTS != "" {
		opts = append(opts, slack.MsgOptionTS(post.ThreadTS))
	}
	if post.Username != "" {
		opts = append(opts, slack.MsgOptionUsername(post.Username))
	}
	_, _, err := c.api.PostMessageContext(ctx, post.ChannelID, opts...)
	if err != nil {
		return fmt.Errorf("failed to post to Slack channel %s: %w", post.ChannelID, err)
	}
	return nil
}

// Listen runs the Socket Mode connection until ctx is cancelled and calls fn
// for every message event. Events are acknowledged before fn is called.
func (c *SlackClient) Listen(ctx context.Context, fn func(*slackevents.MessageEvent)) error {
	handler := socketmode.NewSocketmodeHandler(c.socket)
	handler.Handle(socketmode.EventTypeConnecting, func(*socketmode.Event, *socketmode.Client) {
		c.log.Debug().Msg("Connecting to Slack Socket Mode")
	})
	handler.Handle(socketmode.EventTypeConnected, func(*socketmode.Event, *socketmode.Client) {
		c.log.Info().Msg("Connected to Slack Socket Mode")
	})
	handler.Handle(socketmode.EventTypeConnectionError, func(evt *socketmode.Event, _ *socketmode.Client) {
		c.log.Warn().Any("data", evt.Data).Msg("Slack Socket Mode connection error")
	})
	handler.HandleEvents(slackevents.Message, func(evt *socketmode.Event, client *socketmode.Client) {
		if evt.Request != nil {
			client.Ack(*evt.Request)
		}
		apiEvt, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		msg, ok := apiEvt.InnerEvent.Data.(*slackevents.MessageEvent)
		if !ok {
			return
		}
		fn(msg)
	})
	handler.HandleDefault(func(evt *socketmode.Event, client *socketmode.Client) {
		if evt.Request != nil {
			client.Ack(*evt.Request)
		}
		c.log.Trace().Str("event_type", string(evt.Type)).Msg("Unhandled Socket Mode event")
	})
	err := handler.RunEventLoopContext(ctx)
	if ctx.Err() != nil {
		return nil
	} else if err != nil {
		return fmt.Errorf("slack socket mode connection failed: %w", err)
	}
	return nil
}

// slackLogger routes slack-go's internal logging to zerolog.
type slackLogger struct {
	log zerolog.Logger
}

func (l slackLogger) Output(_ int, s string) error {
	l.log.Debug().Msg(strings.TrimSpace(s))
	return nil
}
