// Copyright 2024-2026 Aiku AI

package connector

import (
	"github.com/aiku/slack-zulip-bridge/pkg/connector/slackfmt"
	"github.com/aiku/slack-zulip-bridge/pkg/connector/zulipfmt"
)

// slackfmtParse converts Slack mrkdwn to Zulip markdown.
func slackfmtParse(text string) string {
	return slackfmt.Parse(text)
}

// zulipfmtParse converts Zulip markdown to Slack mrkdwn.
func zulipfmtParse(text string) string {
	return zulipfmt.Parse(text)
}

// formatFileLink renders a shared Slack file as a Zulip markdown link.
func formatFileLink(name, url string) string {
	if name == "" {
		name = url
	}
	return "[" + name + "](" + url + ")"
}
