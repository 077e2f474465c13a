// Copyright 2024-2026 Aiku AI

package bridgedb

import (
	"context"
	"time"

	"go.mau.fi/util/dbutil"
)

// Bridge links one Slack channel to a Zulip stream and topic. The topic may be
// empty.
type Bridge struct {
	qh *dbutil.QueryHelper[*Bridge]

	ID             int64     `json:"id"`
	SlackChannelID string    `json:"slack_channel_id"`
	ZulipStream    string    `json:"zulip_stream"`
	ZulipTopic     string    `json:"zulip_topic"`
	CreatedAt      time.Time `json:"created_at"`
}

func newBridge(qh *dbutil.QueryHelper[*Bridge]) *Bridge {
	return &Bridge{qh: qh}
}

// Target renders the Zulip side as "stream" or "stream:topic".
func (b *Bridge) Target() string {
	if b.ZulipTopic == "" {
		return b.ZulipStream
	}
	return b.ZulipStream + ":" + b.ZulipTopic
}

func (b *Bridge) Scan(row dbutil.Scannable) (*Bridge, error) {
	var createdAt int64
	err := row.Scan(&b.ID, &b.SlackChannelID, &b.ZulipStream, &b.ZulipTopic, &createdAt)
	if err != nil {
		return nil, err
	}
	b.CreatedAt = time.UnixMilli(createdAt)
	return b, nil
}

// BridgeQuery holds the queries for the bridge table. Lookups that can match
// several rows return the oldest one.
type BridgeQuery struct {
	*dbutil.QueryHelper[*Bridge]
}

const (
	getBridgeBaseQuery = `
		SELECT id, slack_channel_id, zulip_stream, zulip_topic, created_at FROM bridge
	`
	getBridgeBySlackChannelQuery = getBridgeBaseQuery + `WHERE slack_channel_id=$1 ORDER BY id LIMIT 1`
	getBridgeByZulipTargetQuery  = getBridgeBaseQuery + `WHERE zulip_stream=$1 AND zulip_topic=$2 ORDER BY id LIMIT 1`
	getAllBridgesQuery           = getBridgeBaseQuery + `ORDER BY id`
	insertBridgeQuery            = `
		INSERT INTO bridge (slack_channel_id, zulip_stream, zulip_topic, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	deleteBridgesBySlackChannelQuery = `DELETE FROM bridge WHERE slack_channel_id=$1`
)

// Insert stores a new bridge. It does not check for existing bridges on the
// same channel.
func (bq *BridgeQuery) Insert(ctx context.Context, slackChannelID, stream, topic string) (*Bridge, error) {
	b := bq.New()
	b.SlackChannelID = slackChannelID
	b.ZulipStream = stream
	b.ZulipTopic = topic
	b.CreatedAt = time.UnixMilli(time.Now().UnixMilli())
	err := bq.GetDB().QueryRow(ctx, insertBridgeQuery,
		b.SlackChannelID, b.ZulipStream, b.ZulipTopic, b.CreatedAt.UnixMilli(),
	).Scan(&b.ID)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetBySlackChannel returns the first bridge for the channel, or nil.
func (bq *BridgeQuery) GetBySlackChannel(ctx context.Context, channelID string) (*Bridge, error) {
	return bq.QueryOne(ctx, getBridgeBySlackChannelQuery, channelID)
}

// GetByZulipTarget returns the first bridge whose stream and topic both match
// exactly, or nil.
func (bq *BridgeQuery) GetByZulipTarget(ctx context.Context, stream, topic string) (*Bridge, error) {
	return bq.QueryOne(ctx, getBridgeByZulipTargetQuery, stream, topic)
}

// GetAll returns every bridge in creation order.
func (bq *BridgeQuery) GetAll(ctx context.Context) ([]*Bridge, error) {
	return bq.QueryMany(ctx, getAllBridgesQuery)
}

// DeleteBySlackChannel removes all bridges for the channel and returns how
// many were removed.
func (bq *BridgeQuery) DeleteBySlackChannel(ctx context.Context, channelID string) (int64, error) {
	res, err := bq.GetDB().Exec(ctx, deleteBridgesBySlackChannelQuery, channelID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
