package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"leo/internal/logging"
)

// DefaultRedisChannel is the pub/sub channel presenter updates go to.
const DefaultRedisChannel = "leo:broadcast"

// RedisRelay fans hub messages out through Redis pub/sub so several
// student-channel servers can mirror one presenter. Each relay tags what
// it publishes with its own origin id and ignores those messages when
// they come back on the channel, so a hub that both publishes and
// forwards never sees its own updates twice.
type RedisRelay struct {
	log     *logging.Logger
	rdb     *goredis.Client
	channel string
	origin  string
}

// envelope is the wire form of a relayed message.
type envelope struct {
	Origin string `json:"origin"`
	Message
}

// NewRedisRelay connects to url and checks the connection.
func NewRedisRelay(ctx context.Context, url, channel string, log *logging.Logger) (*RedisRelay, error) {
	if log == nil {
		log = logging.Component("broadcast")
	}
	opt, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opt.DialTimeout == 0 {
		opt.DialTimeout = 5 * time.Second
	}
	if channel == "" {
		channel = DefaultRedisChannel
	}

	rdb := goredis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisRelay{log: log, rdb: rdb, channel: channel, origin: uuid.NewString()}, nil
}

// Channel returns the pub/sub channel name.
func (r *RedisRelay) Channel() string { return r.channel }

// Publish sends msg to the channel. It has the signature Hub.SetRelay
// expects.
func (r *RedisRelay) Publish(ctx context.Context, msg Message) error {
	raw, err := r.encode(msg)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, raw).Err()
}

func (r *RedisRelay) encode(msg Message) ([]byte, error) {
	return json.Marshal(envelope{Origin: r.origin, Message: msg})
}

// decode unwraps a channel payload. ok is false for messages this relay
// published itself.
func (r *RedisRelay) decode(payload []byte) (msg Message, ok bool, err error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Message{}, false, err
	}
	if env.Origin == r.origin {
		return Message{}, false, nil
	}
	return env.Message, true, nil
}

// Forward subscribes to the channel and delivers every message to hub
// until ctx is done.
func (r *RedisRelay) Forward(ctx context.Context, hub *Hub) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				r.deliver(hub, []byte(m.Payload))
			}
		}
	}()
	return nil
}

// deliver hands a channel payload to hub unless this relay published it.
func (r *RedisRelay) deliver(hub *Hub, payload []byte) {
	msg, ok, err := r.decode(payload)
	switch {
	case err != nil:
		r.log.Warn("bad redis payload", "error", err)
	case ok:
		if err := hub.Deliver(msg); err != nil {
			r.log.Warn("failed to deliver relayed message", "type", msg.Type, "error", err)
		}
	}
}

// Close closes the Redis client.
func (r *RedisRelay) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}

// Ping checks the Redis connection.
func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
