// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector implements a Slack-Zulip bridge.
//
// A bridge links one Slack channel to one Zulip stream and topic. Users
// create links from Slack by posting "zulip/link <stream>[:<topic>]" in a
// channel and remove every link of the channel with "zulip/unlink". Messages
// posted in a linked channel are forwarded to the linked topic, and messages
// posted in a linked topic are forwarded back to the channel. Forwarding is
// best-effort: failed sends are logged and counted, never retried.
//
// # Core Types
//
// [Engine] looks up bridges and forwards messages in both directions. It
// depends on [BridgeStore], [SlackSender] and [ZulipSender] so that each can
// be replaced by a fake in tests.
//
// [ZulipPoller] long-polls a Zulip event queue. It is an explicit state
// machine (unregistered, polling, stopped) that advances its cursor after
// every non-empty batch.
//
// [SlackListener] receives Slack messages over Socket Mode and handles the
// link commands.
//
// [Bridge] wires the clients, the database and both loops together and runs
// them under one errgroup, alongside the admin API.
//
// # Echo Prevention
//
// Messages sent by the bridge's own Slack user or bot and by its Zulip bot
// are dropped before any lookup, so a forwarded message is never forwarded
// back.
//
// # Isolation
//
// Every inbound event is handled in its own goroutine. A panic or send
// failure in one handler does not affect other handlers or the loop. Storage
// errors are the exception: they stop the bridge.
//
// # Sub-packages
//
//   - slackfmt converts Slack mrkdwn to Zulip markdown.
//   - zulipfmt converts Zulip markdown to Slack mrkdwn.
package connector
