// Copyright 2024-2026 Aiku AI

package zulip

import (
	"encoding/json"
)

// Event types delivered by GetEvents that the bridge cares about.
const (
	EventTypeMessage   = "message"
	EventTypeHeartbeat = "heartbeat"
)

// Message types.
const (
	MessageTypeStream  = "stream"
	MessageTypePrivate = "private"
)

// Event is one entry from an event queue. Message is only set for message
// events.
type Event struct {
	ID      int64    `json:"id"`
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"`
}

// Message is a Zulip message as delivered in a message event.
type Message struct {
	ID             int64  `json:"id"`
	Type           string `json:"type"`
	SenderID       int64  `json:"sender_id"`
	SenderEmail    string `json:"sender_email"`
	SenderFullName string `json:"sender_full_name"`
	Subject        string `json:"subject"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"`

	// DisplayRecipient is the stream name for stream messages and a list of
	// users for private messages.
	DisplayRecipient json.RawMessage `json:"display_recipient"`
}

// Stream returns the stream name of a stream message, or "" for anything
// else.
func (m *Message) Stream() string {
	if m.Type != MessageTypeStream {
		return ""
	}
	var name string
	if err := json.Unmarshal(m.DisplayRecipient, &name); err != nil {
		return ""
	}
	return name
}

// Topic returns the topic of a stream message.
func (m *Message) Topic() string {
	return m.Subject
}
