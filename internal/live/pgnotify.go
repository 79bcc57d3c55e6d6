package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DefaultChannel is the Postgres NOTIFY channel carrying scan events.
const DefaultChannel = "complylaw_live"

// maxNotifyPayload is the Postgres limit on a NOTIFY payload, minus the terminator.
const maxNotifyPayload = 7999

var ErrPayloadTooLarge = errors.New("event exceeds notify payload limit")

type envelope struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// PGNotify publishes events through pg_notify so that every process listening on the
// channel can hand them to its own websocket clients.
type PGNotify struct {
	Pool    *pgxpool.Pool
	Channel string
}

func (p PGNotify) channel() string {
	if p.Channel == "" {
		return DefaultChannel
	}
	return p.Channel
}

func (p PGNotify) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	payload, err := json.Marshal(envelope{Topic: topic, Data: data})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if len(payload) > maxNotifyPayload {
		return fmt.Errorf("%s: %w", topic, ErrPayloadTooLarge)
	}
	if _, err := p.Pool.Exec(ctx, `SELECT pg_notify($1, $2)`, p.channel(), string(payload)); err != nil {
		return fmt.Errorf("notify %s: %w", topic, err)
	}
	return nil
}

// Listen holds one pooled connection on LISTEN and delivers every notification to hub
// until ctx is done.
func Listen(ctx context.Context, pool *pgxpool.Pool, channel string, hub *Hub, log *zap.Logger) error {
	if channel == "" {
		channel = DefaultChannel
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", channel, err)
	}
	log.Info("listening for live events", zap.String("channel", channel))

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		var env envelope
		if err := json.Unmarshal([]byte(n.Payload), &env); err != nil || env.Topic == "" {
			log.Warn("discarding malformed live event", zap.String("payload", n.Payload))
			continue
		}
		hub.Deliver(env.Topic, env.Data)
	}
}
