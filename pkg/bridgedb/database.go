// Copyright 2024-2026 Aiku AI

// Package bridgedb persists the mapping between Slack channels and Zulip
// stream/topic pairs.
package bridgedb

import (
	"context"
	"fmt"

	"go.mau.fi/util/dbutil"

	"github.com/aiku/slack-zulip-bridge/pkg/bridgedb/upgrades"
)

// Database wraps a dbutil database with the bridge table queries.
type Database struct {
	*dbutil.Database

	Bridge *BridgeQuery
}

// New attaches the bridge schema to db. Call Upgrade before issuing queries.
func New(db *dbutil.Database) *Database {
	db.UpgradeTable = upgrades.Table
	return &Database{
		Database: db,
		Bridge: &BridgeQuery{
			QueryHelper: dbutil.MakeQueryHelper(db, newBridge),
		},
	}
}

// Open creates a database from config, applies pending schema upgrades and
// returns it ready for use.
func Open(ctx context.Context, owner string, cfg dbutil.Config, log dbutil.DatabaseLogger) (*Database, error) {
	raw, err := dbutil.NewFromConfig(owner, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db := New(raw)
	if err = db.Upgrade(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("failed to upgrade database: %w", err)
	}
	return db, nil
}
