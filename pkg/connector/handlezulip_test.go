// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aiku/slack-zulip-bridge/pkg/zulip"
)

type getEventsCall struct {
	QueueID     string
	LastEventID int64
}

// scriptedSource replays a fixed sequence of GetEvents results. When the
// script runs out it cancels the poller's context.
type scriptedSource struct {
	mu sync.Mutex

	RegisterErr error
	Queues      []zulip.Queue
	registered  int

	Batches []scriptedBatch
	calls   []getEventsCall

	cancel context.CancelFunc
}

type scriptedBatch struct {
	Events []zulip.Event
	Err    error
}

func (s *scriptedSource) Register(_ context.Context, params zulip.RegisterParams) (*zulip.Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RegisterErr != nil {
		return nil, s.RegisterErr
	}
	if len(params.EventTypes) != 1 || params.EventTypes[0] != zulip.EventTypeMessage || !params.AllPublicStreams {
		return nil, fmt.Errorf("unexpected register params %+v", params)
	}
	q := s.Queues[s.registered%len(s.Queues)]
	s.registered++
	return &q, nil
}

func (s *scriptedSource) GetEvents(ctx context.Context, queueID string, lastEventID int64) ([]zulip.Event, error) {
	s.mu.Lock()
	s.calls = append(s.calls, getEventsCall{QueueID: queueID, LastEventID: lastEventID})
	if len(s.Batches) == 0 {
		s.mu.Unlock()
		s.cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	b := s.Batches[0]
	s.Batches = s.Batches[1:]
	s.mu.Unlock()
	return b.Events, b.Err
}

func (s *scriptedSource) Calls() []getEventsCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]getEventsCall, len(s.calls))
	copy(cp, s.calls)
	return cp
}

func streamEvent(id int64, stream, topic, sender, content string) zulip.Event {
	raw, _ := json.Marshal(stream)
	return zulip.Event{ID: id, Type: zulip.EventTypeMessage, Message: &zulip.Message{
		ID:               id * 100,
		Type:             zulip.MessageTypeStream,
		SenderEmail:      sender,
		SenderFullName:   "Someone",
		Subject:          topic,
		Content:          content,
		DisplayRecipient: raw,
	}}
}

func runPoller(t *testing.T, env *testEnv, src *scriptedSource) (*ZulipPoller, error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src.cancel = cancel
	p := NewZulipPoller(src, env.Engine, zerolog.Nop(), func(err error) {
		t.Errorf("unexpected fatal error: %v", err)
	})
	err := p.Run(ctx)
	return p, err
}

func TestZulipPollerForwardsStreamMessages(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	env.link(t, "C1", "general:intro")

	src := &scriptedSource{
		Queues: []zulip.Queue{{QueueID: "q1", LastEventID: -1}},
		Batches: []scriptedBatch{
			{Events: []zulip.Event{
				{ID: 0, Type: zulip.EventTypeHeartbeat},
				streamEvent(1, "general", "intro", "alice@example.com", "hello"),
			}},
		},
	}
	p, err := runPoller(t, env, src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.state != pollerStopped {
		t.Errorf("state: got %s, want stopped", p.state)
	}

	posts := env.Slack.Posts()
	if len(posts) != 1 || posts[0].ChannelID != "C1" || posts[0].Text != "hello" {
		t.Errorf("unexpected posts %+v", posts)
	}
	calls := src.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 GetEvents calls, got %d", len(calls))
	}
	if calls[0] != (getEventsCall{"q1", -1}) || calls[1] != (getEventsCall{"q1", 1}) {
		t.Errorf("cursor progression: got %+v", calls)
	}
}

func TestZulipPollerSkipsFilteredEvents(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	env.link(t, "C1", "general:intro")

	private := zulip.Event{ID: 3, Type: zulip.EventTypeMessage, Message: &zulip.Message{
		Type:             zulip.MessageTypePrivate,
		SenderEmail:      "alice@example.com",
		Content:          "psst",
		DisplayRecipient: json.RawMessage(`[{"email":"alice@example.com"}]`),
	}}
	src := &scriptedSource{
		Queues: []zulip.Queue{{QueueID: "q1", LastEventID: 10}},
		Batches: []scriptedBatch{
			{Events: []zulip.Event{
				{ID: 11, Type: zulip.EventTypeHeartbeat},
				{ID: 12, Type: "presence"},
				{ID: 13, Type: zulip.EventTypeMessage},
				private,
				streamEvent(15, "general", "intro", testIdentity.ZulipEmail, "my own echo"),
				streamEvent(16, "general", "other", "alice@example.com", "unlinked topic"),
			}},
		},
	}
	if _, err := runPoller(t, env, src); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if posts := env.Slack.Posts(); len(posts) != 0 {
		t.Errorf("expected no posts, got %+v", posts)
	}
	calls := src.Calls()
	if calls[len(calls)-1].LastEventID != 16 {
		t.Errorf("cursor should advance past skipped events, got %d", calls[len(calls)-1].LastEventID)
	}
}

func TestZulipPollerEmptyBatchKeepsCursor(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	src := &scriptedSource{
		Queues:  []zulip.Queue{{QueueID: "q1", LastEventID: 4}},
		Batches: []scriptedBatch{{}, {}},
	}
	if _, err := runPoller(t, env, src); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, c := range src.Calls() {
		if c.LastEventID != 4 {
			t.Errorf("cursor moved on empty batch: %+v", c)
		}
	}
}

func TestZulipPollerCursorAdvancesOnSendFailure(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	env.Slack.Fail = func(SlackPost) error { return errors.New("slack down") }
	env.link(t, "C1", "general")

	src := &scriptedSource{
		Queues: []zulip.Queue{{QueueID: "q1", LastEventID: -1}},
		Batches: []scriptedBatch{
			{Events: []zulip.Event{streamEvent(1, "general", "", "alice@example.com", "a")}},
			{Events: []zulip.Event{streamEvent(2, "general", "", "alice@example.com", "b")}},
		},
	}
	if _, err := runPoller(t, env, src); err != nil {
		t.Fatalf("Run: %v", err)
	}
	calls := src.Calls()
	if len(calls) != 3 || calls[1].LastEventID != 1 || calls[2].LastEventID != 2 {
		t.Errorf("cursor progression: got %+v", calls)
	}
}

func TestZulipPollerRegisterFailureIsTerminal(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	src := &scriptedSource{RegisterErr: &zulip.APIError{StatusCode: 401, Msg: "Invalid API key"}}

	p, err := runPoller(t, env, src)
	var apiErr *zulip.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected registration error, got %v", err)
	}
	if p.state != pollerStopped {
		t.Errorf("state: got %s, want stopped", p.state)
	}
	if len(src.Calls()) != 0 {
		t.Error("poller should not poll without a queue")
	}
}

func TestZulipPollerGetEventsFailureIsTerminal(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	src := &scriptedSource{
		Queues:  []zulip.Queue{{QueueID: "q1", LastEventID: -1}},
		Batches: []scriptedBatch{{Err: &zulip.APIError{StatusCode: 500, Msg: "boom"}}},
	}
	if _, err := runPoller(t, env, src); err == nil {
		t.Fatal("expected an error")
	}
	if len(src.Calls()) != 1 {
		t.Errorf("poller should stop after the failure, got %d calls", len(src.Calls()))
	}
}

func TestZulipPollerReregistersExpiredQueue(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	env.link(t, "C1", "general")

	src := &scriptedSource{
		Queues: []zulip.Queue{
			{QueueID: "q1", LastEventID: -1},
			{QueueID: "q2", LastEventID: 50},
		},
		Batches: []scriptedBatch{
			{Err: fmt.Errorf("%w: gone", zulip.ErrBadEventQueue)},
			{Events: []zulip.Event{streamEvent(51, "general", "", "alice@example.com", "after expiry")}},
		},
	}
	if _, err := runPoller(t, env, src); err != nil {
		t.Fatalf("Run: %v", err)
	}
	calls := src.Calls()
	want := []getEventsCall{{"q1", -1}, {"q2", 50}, {"q2", 51}}
	if len(calls) != len(want) {
		t.Fatalf("calls: got %+v, want %+v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d: got %+v, want %+v", i, calls[i], want[i])
		}
	}
	if posts := env.Slack.Posts(); len(posts) != 1 {
		t.Errorf("expected 1 post after re-register, got %d", len(posts))
	}
}

func TestZulipPollerStorageErrorIsFatal(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	env.Store.Err = errStorageDown

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &scriptedSource{
		Queues:  []zulip.Queue{{QueueID: "q1", LastEventID: -1}},
		Batches: []scriptedBatch{{Events: []zulip.Event{streamEvent(1, "general", "", "alice@example.com", "x")}}},
		cancel:  cancel,
	}
	var mu sync.Mutex
	var fatal error
	p := NewZulipPoller(src, env.Engine, zerolog.Nop(), func(err error) {
		mu.Lock()
		defer mu.Unlock()
		fatal = err
	})
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !errors.Is(fatal, errStorageDown) {
		t.Errorf("expected storage error to reach the supervisor, got %v", fatal)
	}
}

func TestPollerStateString(t *testing.T) {
	t.Parallel()
	if pollerPolling.String() != "polling" || pollerState(9).String() != "pollerState(9)" {
		t.Error("unexpected pollerState names")
	}
}
