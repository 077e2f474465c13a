// Copyright 2024-2026 Aiku AI

package connector

import (
	"strings"
)

// Identity is the bridge's own account on both platforms. Anything sent by
// these accounts is an echo of a forwarded message and must not be bridged
// again.
type Identity struct {
	SlackUserID string
	SlackBotID  string
	ZulipEmail  string
}

// IsSlackSelf reports whether a Slack message was posted by the bridge.
func (id Identity) IsSlackSelf(userID, botID string) bool {
	if userID != "" && userID == id.SlackUserID {
		return true
	}
	return botID != "" && botID == id.SlackBotID
}

// IsZulipSelf reports whether a Zulip message was sent by the bridge bot.
// Zulip treats email addresses case-insensitively.
func (id Identity) IsZulipSelf(senderEmail string) bool {
	return id.ZulipEmail != "" && strings.EqualFold(senderEmail, id.ZulipEmail)
}

// ParseLinkArgument splits a link command argument of the form
// "<stream>[:<topic>]". Only the first colon separates the two, so topics may
// contain colons. ok is false when no stream was given.
func ParseLinkArgument(arg string) (stream, topic string, ok bool) {
	stream, topic, _ = strings.Cut(arg, ":")
	stream = strings.TrimSpace(stream)
	topic = strings.TrimSpace(topic)
	return stream, topic, stream != ""
}

// FormatTarget renders a stream and topic the way users type them in link
// commands.
func FormatTarget(stream, topic string) string {
	if topic == "" {
		return stream
	}
	return stream + ":" + topic
}
