// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"go.mau.fi/util/dbutil"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/slack-zulip-bridge/pkg/bridgedb"
	"github.com/aiku/slack-zulip-bridge/pkg/zulip"
)

// Bridge owns the connections to both platforms, the bridge database and the
// two event loops.
type Bridge struct {
	Config *Config
	Log    zerolog.Logger

	DB     *bridgedb.Database
	Slack  *SlackClient
	Zulip  *zulip.Client
	Engine *Engine

	Registry *prometheus.Registry
	Metrics  *Metrics

	// SlackOptions are passed to the Slack Web API client.
	SlackOptions []slack.Option
}

// NewBridge creates a bridge from a validated config. Nothing is connected
// until Init.
func NewBridge(cfg *Config, log zerolog.Logger) *Bridge {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &Bridge{
		Config:   cfg,
		Log:      log,
		Registry: reg,
		Metrics:  NewMetrics(reg),
	}
}

// Init opens the database and verifies the credentials of both platforms.
func (br *Bridge) Init(ctx context.Context) error {
	creds, err := zulip.LoadZuliprc(br.Config.Zulip.Zuliprc)
	if err != nil {
		return err
	}
	br.Zulip = zulip.NewClient(*creds)
	profile, err := br.Zulip.GetProfile(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify Zulip credentials: %w", err)
	}
	br.Log.Info().
		Str("email", profile.Email).
		Str("full_name", profile.FullName).
		Str("site", creds.Site).
		Msg("Authenticated to Zulip")

	br.Slack = NewSlackClient(br.Config.Slack.BotToken, br.Config.Slack.AppToken, br.Log, br.SlackOptions...)
	slackUserID, slackBotID, err := br.Slack.Identify(ctx)
	if err != nil {
		return err
	}

	dbLog := br.Log.With().Str("component", "database").Logger()
	br.DB, err = bridgedb.Open(ctx, "slack-zulip-bridge", br.Config.Database, dbutil.ZeroLogger(dbLog))
	if err != nil {
		return err
	}

	zulipEmail := br.Config.Zulip.BotEmail
	if zulipEmail == "" {
		zulipEmail = creds.Email
	}
	br.Engine = &Engine{
		Store: br.DB.Bridge,
		Slack: br.Slack,
		Zulip: br.Zulip,
		Self: Identity{
			SlackUserID: slackUserID,
			SlackBotID:  slackBotID,
			ZulipEmail:  zulipEmail,
		},
		ConvertFormatting: br.Config.Bridge.ConvertFormatting,
		SenderNames:       br.Config.Bridge.SenderNames,
		Metrics:           br.Metrics,
		Log:               br.Log.With().Str("component", "engine").Logger(),
	}
	return nil
}

// Run starts both event loops and the admin API and blocks until ctx is
// cancelled or one of them fails. A storage error in any event handler also
// stops the bridge. The first failure is returned.
func (br *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var fatalOnce sync.Once
	var fatalErr error
	onFatal := func(err error) {
		fatalOnce.Do(func() {
			fatalErr = err
			cancel(err)
		})
	}

	poller := NewZulipPoller(br.Zulip, br.Engine, br.Log, onFatal)
	listener := NewSlackListener(br.Slack, br.Engine, br.Log, onFatal)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return poller.Run(egCtx)
	})
	eg.Go(func() error {
		return listener.Run(egCtx)
	})
	if addr := br.Config.AdminAPI.Address; addr != "" {
		apiLog := br.Log.With().Str("component", "admin_api").Logger()
		eg.Go(func() error {
			return serveAdminAPI(egCtx, addr, newAdminRouter(br.DB.Bridge, br.Registry, apiLog), apiLog)
		})
	}
	err := eg.Wait()
	// Handlers have all returned once the loops have, so fatalErr is settled.
	if fatalErr != nil {
		return fmt.Errorf("bridge stopped: %w", fatalErr)
	}
	return err
}

// Close releases the database.
func (br *Bridge) Close() error {
	if br.DB == nil {
		return nil
	}
	return br.DB.Close()
}
