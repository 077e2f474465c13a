// Copyright 2024-2026 Aiku AI

// Package zulip is a small client for the parts of the Zulip REST API the
// bridge needs: event queues, sending stream messages and identifying the
// bot account.
package zulip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// ErrBadEventQueue is returned by GetEvents when the server has garbage
// collected the event queue. The caller must register a new one.
var ErrBadEventQueue = errors.New("zulip event queue expired")

const apiPrefix = "/api/v1"

// Credentials identifies the bot account and the server it lives on.
type Credentials struct {
	Email  string
	APIKey string
	Site   string
}

// LoadZuliprc reads credentials from a zuliprc file as downloaded from the
// Zulip bot settings page.
func LoadZuliprc(path string) (*Credentials, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read zuliprc: %w", err)
	}
	sec := f.Section("api")
	creds := &Credentials{
		Email:  strings.TrimSpace(sec.Key("email").String()),
		APIKey: strings.TrimSpace(sec.Key("key").String()),
		Site:   strings.TrimSpace(sec.Key("site").String()),
	}
	if creds.Email == "" || creds.APIKey == "" || creds.Site == "" {
		return nil, fmt.Errorf("zuliprc %s is missing email, key or site in [api]", path)
	}
	return creds, nil
}

// APIError is a non-success response from the Zulip API.
type APIError struct {
	StatusCode int
	Code       string
	Msg        string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("zulip API error %d (%s): %s", e.StatusCode, e.Code, e.Msg)
	}
	return fmt.Sprintf("zulip API error %d: %s", e.StatusCode, e.Msg)
}

// Client talks to one Zulip server as one account.
type Client struct {
	creds   Credentials
	baseURL string

	// http is used for regular calls, poll for long-polling GetEvents which
	// must outlive the server's heartbeat interval.
	http *http.Client
	poll *http.Client
}

// NewClient creates a client for the given credentials.
func NewClient(creds Credentials) *Client {
	return &Client{
		creds:   creds,
		baseURL: strings.TrimSuffix(creds.Site, "/") + apiPrefix,
		http:    &http.Client{Timeout: 30 * time.Second},
		poll:    &http.Client{},
	}
}

// Email returns the account email the client authenticates as.
func (c *Client) Email() string {
	return c.creds.Email
}

type baseResponse struct {
	Result string `json:"result"`
	Msg    string `json:"msg"`
	Code   string `json:"code"`
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, form url.Values, out any) error {
	var body io.Reader
	reqURL := c.baseURL + path
	if method == http.MethodGet {
		if len(form) > 0 {
			reqURL += "?" + form.Encode()
		}
	} else if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.SetBasicAuth(c.creds.Email, c.creds.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", path, err)
	}

	var base baseResponse
	if err = json.Unmarshal(data, &base); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Msg: strings.TrimSpace(string(data))}
	}
	if resp.StatusCode != http.StatusOK || base.Result != "success" {
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: base.Code, Msg: base.Msg}
		if base.Code == "BAD_EVENT_QUEUE_ID" {
			return fmt.Errorf("%w: %w", ErrBadEventQueue, apiErr)
		}
		return apiErr
	}
	if out != nil {
		if err = json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", path, err)
		}
	}
	return nil
}

// Profile is the subset of /users/me the bridge uses.
type Profile struct {
	UserID   int64  `json:"user_id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	IsBot    bool   `json:"is_bot"`
}

// GetProfile returns the authenticated account. It doubles as a credentials
// check at startup.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := c.do(ctx, c.http, http.MethodGet, "/users/me", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// RegisterParams selects which events a queue receives.
type RegisterParams struct {
	EventTypes       []string
	AllPublicStreams bool
	// ApplyMarkdown makes the server render message content to HTML. The
	// bridge leaves it off and converts the raw markdown itself.
	ApplyMarkdown bool
}

// Queue is a registered event queue and the id of the last event already
// reflected in the initial state.
type Queue struct {
	QueueID     string `json:"queue_id"`
	LastEventID int64  `json:"last_event_id"`
}

// Register creates an event queue on the server.
func (c *Client) Register(ctx context.Context, params RegisterParams) (*Queue, error) {
	eventTypes, err := json.Marshal(params.EventTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event types: %w", err)
	}
	form := url.Values{
		"event_types":        {string(eventTypes)},
		"all_public_streams": {strconv.FormatBool(params.AllPublicStreams)},
		"apply_markdown":     {strconv.FormatBool(params.ApplyMarkdown)},
	}
	var q Queue
	if err = c.do(ctx, c.http, http.MethodPost, "/register", form, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

type eventsResponse struct {
	Events []Event `json:"events"`
}

// GetEvents blocks until the queue has events newer than lastEventID or the
// server sends a heartbeat.
func (c *Client) GetEvents(ctx context.Context, queueID string, lastEventID int64) ([]Event, error) {
	form := url.Values{
		"queue_id":      {queueID},
		"last_event_id": {strconv.FormatInt(lastEventID, 10)},
		"dont_block":    {"false"},
	}
	var resp eventsResponse
	if err := c.do(ctx, c.poll, http.MethodGet, "/events", form, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// SendStreamMessage posts content to a stream and topic.
func (c *Client) SendStreamMessage(ctx context.Context, stream, topic, content string) error {
	form := url.Values{
		"type":    {"stream"},
		"to":      {stream},
		"topic":   {topic},
		"content": {content},
	}
	return c.do(ctx, c.http, http.MethodPost, "/messages", form, nil)
}
