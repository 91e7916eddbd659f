// Package stream feeds emails to the triage pipeline through a Redis
// stream consumed by a consumer group.
package stream

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	StreamEmails = "triage:emails"
	DefaultGroup = "triage-workers"
)

type RedisStream struct {
	client    *redis.Client
	group     string
	block     time.Duration
	// entries pending longer than claimIdle are taken over at start-up
	claimIdle time.Duration
	log       zerolog.Logger
}

func NewRedisStream(client *redis.Client, group string, log zerolog.Logger) *RedisStream {
	if group == "" {
		group = DefaultGroup
	}
	return &RedisStream{
		client:    client,
		group:     group,
		block:     5 * time.Second,
		claimIdle: 5 * time.Minute,
		log:       log.With().Str("component", "stream").Logger(),
	}
}

func (s *RedisStream) CreateGroup(ctx context.Context, stream string) error {
	err := s.client.XGroupCreateMkStream(ctx, stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (s *RedisStream) Publish(ctx context.Context, stream string, data any) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"data": jsonData},
	}).Result()
}

// Handler processes one entry's payload.
type Handler func(ctx context.Context, id string, data []byte) error

// Consume first takes over entries other consumers left pending for longer
// than claimIdle, then reads new entries until ctx ends. An entry is
// acknowledged when handler returns nil; otherwise it stays pending until a
// consumer starting later reclaims it. A handler error for which stop
// reports true ends consumption with that error.
func (s *RedisStream) Consume(ctx context.Context, stream, consumer string, handler Handler, stop func(error) bool) error {
	if err := s.reclaim(ctx, stream, consumer, handler, stop); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    10,
			Block:    s.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			s.log.Warn().Err(err).Str("stream", stream).Msg("stream read error")
			if sleepErr := sleep(ctx, time.Second); sleepErr != nil {
				return nil
			}
			continue
		}

		for _, st := range streams {
			if err := s.deliver(ctx, st.Stream, st.Messages, handler, stop); err != nil {
				return err
			}
		}
	}
}

// reclaim walks the pending list once with XAUTOCLAIM. Read errors are
// logged and leave the entries for the next start.
func (s *RedisStream) reclaim(ctx context.Context, stream, consumer string, handler Handler, stop func(error) bool) error {
	start := "0-0"
	claimed := 0
	for ctx.Err() == nil {
		msgs, next, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    s.group,
			Consumer: consumer,
			MinIdle:  s.claimIdle,
			Start:    start,
			Count:    10,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				s.log.Warn().Err(err).Str("stream", stream).Msg("reclaim failed")
			}
			break
		}
		claimed += len(msgs)
		if err := s.deliver(ctx, stream, msgs, handler, stop); err != nil {
			return err
		}
		if next == "0-0" || next == "" {
			break
		}
		start = next
	}
	if claimed > 0 {
		s.log.Info().Int("entries", claimed).Str("stream", stream).Msg("reclaimed idle entries")
	}
	return nil
}

func (s *RedisStream) deliver(ctx context.Context, stream string, msgs []redis.XMessage, handler Handler, stop func(error) bool) error {
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			s.log.Warn().Str("id", msg.ID).Msg("stream entry without data field, acknowledging")
			_ = s.Ack(ctx, stream, msg.ID)
			continue
		}

		if err := handler(ctx, msg.ID, []byte(data)); err != nil {
			if stop != nil && stop(err) {
				return err
			}
			s.log.Warn().Err(err).Str("id", msg.ID).Msg("entry left pending")
			continue
		}

		if err := s.Ack(ctx, stream, msg.ID); err != nil {
			s.log.Warn().Err(err).Str("id", msg.ID).Msg("ack failed")
		}
	}
	return nil
}

func (s *RedisStream) Ack(ctx context.Context, stream, id string) error {
	return s.client.XAck(ctx, stream, s.group, id).Err()
}

func (s *RedisStream) Pending(ctx context.Context, stream string) (int64, error) {
	info, err := s.client.XPending(ctx, stream, s.group).Result()
	if err != nil {
		return 0, err
	}
	return info.Count, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
