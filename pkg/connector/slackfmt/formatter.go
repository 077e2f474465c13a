// Copyright 2024-2026 Aiku AI

// Package slackfmt converts Slack mrkdwn to Zulip markdown.
package slackfmt

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

var (
	codeBlockRe   = regexp.MustCompile("(?s)```\\n?(.*?)\\n?```")
	codeRe        = regexp.MustCompile("`([^`\\n]+)`")
	angleRe       = regexp.MustCompile(`<([^<>\n]+)>`)
	boldRe        = regexp.MustCompile(`(^|[^\w*])\*([^*\s][^*\n]*?)\*`)
	italicRe      = regexp.MustCompile(`(^|[^\w_])_([^_\s][^_\n]*?)_`)
	strikeRe      = regexp.MustCompile(`(^|[^\w~])~([^~\s][^~\n]*?)~`)
	placeholderRe = regexp.MustCompile("\x00P(\\d+)\x00")
)

// Parse converts a Slack message text to Zulip markdown. Plain text without
// any Slack markup is returned unchanged.
func Parse(text string) string {
	if text == "" {
		return ""
	}

	var protected []string
	protect := func(s string) string {
		idx := len(protected)
		protected = append(protected, s)
		return "\x00P" + strconv.Itoa(idx) + "\x00"
	}

	// Step 1: Code is copied verbatim, only entities are decoded.
	text = codeBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		content := codeBlockRe.FindStringSubmatch(match)[1]
		return protect("```\n" + html.UnescapeString(content) + "\n```")
	})
	text = codeRe.ReplaceAllStringFunc(text, func(match string) string {
		return protect(html.UnescapeString(match))
	})

	// Step 2: Angle-bracket tokens (links, mentions, broadcasts).
	text = angleRe.ReplaceAllStringFunc(text, func(match string) string {
		return protect(convertAngle(angleRe.FindStringSubmatch(match)[1]))
	})

	// Step 3: Inline formatting.
	text = boldRe.ReplaceAllString(text, "$1**$2**")
	text = italicRe.ReplaceAllString(text, "$1*$2*")
	text = strikeRe.ReplaceAllString(text, "$1~~$2~~")

	// Step 4: Slack escapes &, < and > in message text.
	text = html.UnescapeString(text)

	// Step 5: Restore protected segments.
	return placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		idx, err := strconv.Atoi(placeholderRe.FindStringSubmatch(match)[1])
		if err != nil || idx >= len(protected) {
			return match
		}
		return protected[idx]
	})
}

// convertAngle renders the inside of a <...> token.
func convertAngle(token string) string {
	target, label, _ := strings.Cut(token, "|")
	label = html.UnescapeString(label)
	switch {
	case strings.HasPrefix(target, "@"):
		if label != "" {
			return "@" + label
		}
		return target
	case strings.HasPrefix(target, "#"):
		if label != "" {
			return "#" + label
		}
		return target
	case strings.HasPrefix(target, "!"):
		// <!here>, <!channel>, <!subteam^ID|@team>
		if label != "" {
			return label
		}
		name, _, _ := strings.Cut(target[1:], "^")
		return "@" + name
	}
	target = html.UnescapeString(target)
	if label == "" || label == target {
		return target
	}
	return "[" + label + "](" + target + ")"
}
