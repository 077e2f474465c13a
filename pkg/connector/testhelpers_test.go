// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"

	"github.com/aiku/slack-zulip-bridge/pkg/bridgedb"
)

var errStorageDown = errors.New("storage unavailable")

// memStore is an in-memory BridgeStore with the same first-match ordering as
// the SQL store.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	bridges []*bridgedb.Bridge

	// Err makes every call fail.
	Err error
}

var _ BridgeStore = (*memStore)(nil)

func (s *memStore) Insert(_ context.Context, slackChannelID, stream, topic string) (*bridgedb.Bridge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	s.nextID++
	b := &bridgedb.Bridge{
		ID:             s.nextID,
		SlackChannelID: slackChannelID,
		ZulipStream:    stream,
		ZulipTopic:     topic,
		CreatedAt:      time.Now(),
	}
	s.bridges = append(s.bridges, b)
	return b, nil
}

func (s *memStore) GetBySlackChannel(_ context.Context, channelID string) (*bridgedb.Bridge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, b := range s.bridges {
		if b.SlackChannelID == channelID {
			return b, nil
		}
	}
	return nil, nil
}

func (s *memStore) GetByZulipTarget(_ context.Context, stream, topic string) (*bridgedb.Bridge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, b := range s.bridges {
		if b.ZulipStream == stream && b.ZulipTopic == topic {
			return b, nil
		}
	}
	return nil, nil
}

func (s *memStore) DeleteBySlackChannel(_ context.Context, channelID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var kept []*bridgedb.Bridge
	var deleted int64
	for _, b := range s.bridges {
		if b.SlackChannelID == channelID {
			deleted++
		} else {
			kept = append(kept, b)
		}
	}
	s.bridges = kept
	return deleted, nil
}

func (s *memStore) GetAll(_ context.Context) ([]*bridgedb.Bridge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	cp := make([]*bridgedb.Bridge, len(s.bridges))
	copy(cp, s.bridges)
	return cp, nil
}

func (s *memStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bridges)
}

// zulipSend is one recorded outbound Zulip message.
type zulipSend struct {
	Stream  string
	Topic   string
	Content string
}

// recordingZulip captures outbound Zulip messages. Fail, when set, decides
// per message whether the send fails.
type recordingZulip struct {
	mu    sync.Mutex
	sends []zulipSend
	Fail  func(zulipSend) error
}

func (z *recordingZulip) SendStreamMessage(_ context.Context, stream, topic, content string) error {
	s := zulipSend{Stream: stream, Topic: topic, Content: content}
	if z.Fail != nil {
		if err := z.Fail(s); err != nil {
			return err
		}
	}
	z.mu.Lock()
	defer z.mu.Unlock()
	z.sends = append(z.sends, s)
	return nil
}

func (z *recordingZulip) Sends() []zulipSend {
	z.mu.Lock()
	defer z.mu.Unlock()
	cp := make([]zulipSend, len(z.sends))
	copy(cp, z.sends)
	return cp
}

// recordingSlack captures outbound Slack messages.
type recordingSlack struct {
	mu    sync.Mutex
	posts []SlackPost
	Fail  func(SlackPost) error
}

func (s *recordingSlack) PostMessage(_ context.Context, post SlackPost) error {
	if s.Fail != nil {
		if err := s.Fail(post); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts = append(s.posts, post)
	return nil
}

func (s *recordingSlack) Posts() []SlackPost {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]SlackPost, len(s.posts))
	copy(cp, s.posts)
	return cp
}

var testIdentity = Identity{
	SlackUserID: "UBRIDGE",
	SlackBotID:  "BBRIDGE",
	ZulipEmail:  "bridge-bot@zulip.example.com",
}

type testEnv struct {
	Store  *memStore
	Slack  *recordingSlack
	Zulip  *recordingZulip
	Engine *Engine
}

func newTestEnv() *testEnv {
	env := &testEnv{
		Store: &memStore{},
		Slack: &recordingSlack{},
		Zulip: &recordingZulip{},
	}
	env.Engine = &Engine{
		Store: env.Store,
		Slack: env.Slack,
		Zulip: env.Zulip,
		Self:  testIdentity,
		Log:   zerolog.Nop(),
	}
	return env
}

func (env *testEnv) link(t *testing.T, channelID, arg string) {
	t.Helper()
	res, err := env.Engine.HandleLink(context.Background(), channelID, arg)
	if err != nil {
		t.Fatalf("HandleLink(%q, %q): %v", channelID, arg, err)
	}
	if !res.OK {
		t.Fatalf("HandleLink(%q, %q) was rejected", channelID, arg)
	}
}

// newSQLiteQuery opens a fresh SQLite bridge database in a temp dir.
func newSQLiteQuery(t *testing.T) *bridgedb.BridgeQuery {
	t.Helper()
	uri := "file:" + filepath.Join(t.TempDir(), "bridge.db") + "?_txlock=immediate&_busy_timeout=5000"
	db, err := bridgedb.Open(context.Background(), "test", dbutil.Config{
		PoolConfig: dbutil.PoolConfig{Type: "sqlite3", URI: uri, MaxOpenConns: 5, MaxIdleConns: 1},
	}, nil)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db.Bridge
}

// slackCall is one request received by fakeSlack.
type slackCall struct {
	Method string
	Form   url.Values
}

// fakeSlack simulates the Slack Web API methods the bridge calls.
type fakeSlack struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []slackCall

	// FailMethods makes the named API methods return ok=false.
	FailMethods map[string]string
}

func newFakeSlack() *fakeSlack {
	f := &fakeSlack{FailMethods: make(map[string]string)}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeSlack) Close() {
	f.Server.Close()
}

// APIURL is the value for slack.OptionAPIURL.
func (f *fakeSlack) APIURL() string {
	return f.Server.URL + "/api/"
}

func (f *fakeSlack) Calls() []slackCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]slackCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func (f *fakeSlack) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	form, _ := url.ParseQuery(string(body))
	method := r.URL.Path[len("/api/"):]
	f.mu.Lock()
	f.calls = append(f.calls, slackCall{Method: method, Form: form})
	fail, shouldFail := f.FailMethods[method]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if shouldFail {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": fail})
		return
	}
	switch method {
	case "auth.test":
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true, "url": "https://example.slack.com/", "team": "Example",
			"user": "bridge", "team_id": "T1", "user_id": "UBRIDGE", "bot_id": "BBRIDGE",
		})
	case "chat.postMessage":
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true, "channel": form.Get("channel"), "ts": "1700000000.000100",
		})
	default:
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "unknown_method"})
	}
}
