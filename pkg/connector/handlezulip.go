// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aiku/slack-zulip-bridge/pkg/zulip"
)

// zulipEventSource is the part of the Zulip API the poller consumes.
// *zulip.Client implements it.
type zulipEventSource interface {
	Register(ctx context.Context, params zulip.RegisterParams) (*zulip.Queue, error)
	GetEvents(ctx context.Context, queueID string, lastEventID int64) ([]zulip.Event, error)
}

type pollerState int

const (
	pollerUnregistered pollerState = iota
	pollerPolling
	pollerStopped
)

func (s pollerState) String() string {
	switch s {
	case pollerUnregistered:
		return "unregistered"
	case pollerPolling:
		return "polling"
	case pollerStopped:
		return "stopped"
	default:
		return fmt.Sprintf("pollerState(%d)", int(s))
	}
}

// ZulipPoller receives Zulip messages by long-polling an event queue and
// hands stream messages to the engine.
//
// The poller is a state machine. It starts unregistered, registers a queue
// and then polls it, advancing its cursor past every non-empty batch whether
// or not forwarding succeeded. An expired queue sends it back to
// unregistered. Any other API failure stops it for good and Run returns the
// error.
type ZulipPoller struct {
	source   zulipEventSource
	engine   *Engine
	dispatch *dispatcher
	log      zerolog.Logger

	state       pollerState
	queueID     string
	lastEventID int64
}

// NewZulipPoller creates a poller. onFatal receives storage errors raised
// while forwarding.
func NewZulipPoller(source zulipEventSource, engine *Engine, log zerolog.Logger, onFatal func(error)) *ZulipPoller {
	log = log.With().Str("component", "zulip_poller").Logger()
	return &ZulipPoller{
		source:   source,
		engine:   engine,
		dispatch: newDispatcher(log, onFatal),
		log:      log,
	}
}

// Run polls until ctx is cancelled or the poller stops on an error. In-flight
// handlers are awaited before it returns.
func (p *ZulipPoller) Run(ctx context.Context) error {
	defer p.dispatch.Wait()
	for {
		if err := p.step(ctx); err != nil {
			p.state = pollerStopped
			if ctx.Err() != nil {
				p.log.Info().Msg("Zulip poller stopped")
				return nil
			}
			return err
		}
	}
}

func (p *ZulipPoller) step(ctx context.Context) error {
	switch p.state {
	case pollerUnregistered:
		return p.register(ctx)
	case pollerPolling:
		return p.pollOnce(ctx)
	default:
		return fmt.Errorf("zulip poller is %s", p.state)
	}
}

func (p *ZulipPoller) register(ctx context.Context) error {
	queue, err := p.source.Register(ctx, zulip.RegisterParams{
		EventTypes:       []string{zulip.EventTypeMessage},
		AllPublicStreams: true,
	})
	if err != nil {
		return fmt.Errorf("failed to register Zulip event queue: %w", err)
	}
	p.queueID = queue.QueueID
	p.lastEventID = queue.LastEventID
	p.state = pollerPolling
	p.log.Info().
		Str("queue_id", p.queueID).
		Int64("last_event_id", p.lastEventID).
		Msg("Registered Zulip event queue")
	return nil
}

func (p *ZulipPoller) pollOnce(ctx context.Context) error {
	events, err := p.source.GetEvents(ctx, p.queueID, p.lastEventID)
	if errors.Is(err, zulip.ErrBadEventQueue) {
		p.log.Warn().Err(err).Str("queue_id", p.queueID).Msg("Zulip event queue expired, registering a new one")
		p.state = pollerUnregistered
		p.queueID = ""
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to get Zulip events: %w", err)
	}
	for i := range events {
		p.handleEvent(ctx, &events[i])
	}
	if len(events) > 0 {
		p.lastEventID = events[len(events)-1].ID
	}
	return nil
}

// handleEvent filters one event and dispatches message forwarding. It never
// blocks on forwarding.
func (p *ZulipPoller) handleEvent(ctx context.Context, evt *zulip.Event) {
	switch evt.Type {
	case zulip.EventTypeHeartbeat:
		return
	case zulip.EventTypeMessage:
	default:
		p.log.Trace().Str("event_type", evt.Type).Int64("event_id", evt.ID).Msg("Unhandled event type")
		return
	}

	msg := evt.Message
	if msg == nil {
		return
	}
	// Echo prevention: skip the bridge bot's own messages.
	if p.engine.Self.IsZulipSelf(msg.SenderEmail) {
		return
	}
	stream := msg.Stream()
	if stream == "" {
		// Private messages have no stream and cannot be bridged.
		return
	}

	zm := &ZulipMessage{
		Stream:      stream,
		Topic:       msg.Topic(),
		Text:        msg.Content,
		SenderEmail: msg.SenderEmail,
		SenderName:  msg.SenderFullName,
	}
	// Handlers outlive shutdown of the loop so that accepted events are
	// still delivered; Run waits for them.
	hctx := context.WithoutCancel(ctx)
	p.dispatch.Go("forward_to_slack", func() error {
		_, err := p.engine.ForwardToSlack(hctx, zm)
		return err
	})
}
