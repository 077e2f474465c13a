// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command slack-zulip-bridge relays messages between Slack channels and Zulip
// stream topics. Channels are linked from Slack with "zulip/link
// <stream>[:<topic>]" and unlinked with "zulip/unlink".
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/subosito/gotenv"
	"go.mau.fi/util/dbutil"
	_ "go.mau.fi/util/dbutil/litestream"

	"github.com/aiku/slack-zulip-bridge/pkg/bridgedb"
	"github.com/aiku/slack-zulip-bridge/pkg/connector"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

type options struct {
	configPath     string
	envFile        string
	generateConfig bool
	noUpdate       bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "slack-zulip-bridge",
		Short:         "A Slack-Zulip message bridge",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Tag, Commit, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadEnvFile(opts.envFile, cmd.Flags().Changed("env-file"))
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.generateConfig {
				return writeExampleConfig(cmd, opts.configPath)
			}
			return runBridge(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the config file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load before reading the config")
	root.Flags().BoolVarP(&opts.generateConfig, "generate-example-config", "e", false, "write the example config to --config and exit")
	root.Flags().BoolVarP(&opts.noUpdate, "no-update", "n", false, "don't write the upgraded config back to disk")
	root.AddCommand(newBridgesCommand(opts))
	return root
}

// loadEnvFile loads a dotenv file without overriding variables that are
// already set. A missing default file is not an error.
func loadEnvFile(path string, explicit bool) error {
	err := gotenv.Load(path)
	if err == nil || (!explicit && errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return fmt.Errorf("failed to load env file: %w", err)
}

func writeExampleConfig(cmd *cobra.Command, path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, not overwriting", path)
	}
	if err := os.WriteFile(path, []byte(connector.ExampleConfig), 0o600); err != nil {
		return fmt.Errorf("failed to write example config: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Wrote example config to", path)
	return nil
}

func runBridge(ctx context.Context, opts *options) error {
	cfg, err := connector.LoadConfig(opts.configPath, !opts.noUpdate)
	if err != nil {
		return err
	}
	if err = cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	log, err := cfg.Logging.Compile()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	zerolog.DefaultContextLogger = log

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("version", Tag).
		Str("commit", Commit).
		Str("built_at", BuildTime).
		Msg("Starting slack-zulip-bridge")

	br := connector.NewBridge(cfg, *log)
	defer func() {
		if closeErr := br.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close database")
		}
	}()
	if err = br.Init(ctx); err != nil {
		return err
	}
	if err = br.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Bridge stopped with an error")
		return err
	}
	log.Info().Msg("Bridge stopped")
	return nil
}

func newBridgesCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "bridges",
		Short: "List the stored Slack-Zulip bridges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := connector.LoadConfig(opts.configPath, false)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			dbLog := zerolog.New(cmd.ErrOrStderr()).Level(zerolog.WarnLevel).With().Timestamp().Logger()
			db, err := bridgedb.Open(ctx, "slack-zulip-bridge", cfg.Database, dbutil.ZeroLogger(dbLog))
			if err != nil {
				return err
			}
			defer db.Close()
			bridges, err := db.Bridge.GetAll(ctx)
			if err != nil {
				return fmt.Errorf("failed to list bridges: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSLACK CHANNEL\tZULIP TARGET\tCREATED")
			for _, b := range bridges {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", b.ID, b.SlackChannelID, b.Target(), b.CreatedAt.UTC().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}
