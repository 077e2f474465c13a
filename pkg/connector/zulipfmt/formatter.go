// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package zulipfmt converts Zulip markdown to Slack mrkdwn.
package zulipfmt

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	codeBlockRe   = regexp.MustCompile("(?s)```[^\\n`]*\\n(.*?)\\n?```")
	codeRe        = regexp.MustCompile("`([^`\\n]+)`")
	linkRe        = regexp.MustCompile(`\[([^\]\n]+)\]\(([^)\s]+)\)`)
	mentionRe     = regexp.MustCompile(`@_?\*\*([^*\n|]+)(?:\|\d+)?\*\*`)
	streamLinkRe  = regexp.MustCompile(`#\*\*([^*\n]+)\*\*`)
	strongRe      = regexp.MustCompile(`\*\*([^*\n]+?)\*\*`)
	emRe          = regexp.MustCompile(`(^|[^\w*])\*([^*\s][^*\n]*?)\*`)
	delRe         = regexp.MustCompile(`~~([^~\n]+?)~~`)
	headingRe     = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	placeholderRe = regexp.MustCompile("\x00P(\\d+)\x00")
)

// boldMarker stands in for Slack's "*" until italics have been converted.
const boldMarker = "\x01"

var slackEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Parse converts Zulip message markdown to Slack mrkdwn.
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

	// Code blocks first (preserve content inside, drop the language hint).
	text = codeBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		content := codeBlockRe.FindStringSubmatch(match)[1]
		return protect("```" + slackEscaper.Replace(content) + "```")
	})
	text = codeRe.ReplaceAllStringFunc(text, func(match string) string {
		return protect(slackEscaper.Replace(match))
	})

	// Links.
	text = linkRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		return protect("<" + parts[2] + "|" + slackEscaper.Replace(parts[1]) + ">")
	})

	// Everything else is plain text for Slack.
	text = slackEscaper.Replace(text)

	// Mentions and stream links.
	text = mentionRe.ReplaceAllString(text, "@$1")
	text = streamLinkRe.ReplaceAllString(text, "#$1")

	// Headings become bold lines.
	text = headingRe.ReplaceAllString(text, boldMarker+"$1"+boldMarker)

	// Inline formatting.
	text = strongRe.ReplaceAllString(text, boldMarker+"$1"+boldMarker)
	text = emRe.ReplaceAllString(text, "${1}_${2}_")
	text = delRe.ReplaceAllString(text, "~$1~")
	text = strings.ReplaceAll(text, boldMarker, "*")

	return placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		idx, err := strconv.Atoi(placeholderRe.FindStringSubmatch(match)[1])
		if err != nil || idx >= len(protected) {
			return match
		}
		return protected[idx]
	})
}
