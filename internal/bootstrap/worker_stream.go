package bootstrap

import (
	"context"
	"fmt"
	"os"

	"triage_worker/adapter/in/eml"
	"triage_worker/config"
	"triage_worker/infra/database"
	"triage_worker/internal/stream"

	"github.com/rs/zerolog"
)

// RunStream consumes queued emails until ctx ends or a fatal error occurs.
func RunStream(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	if cfg.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required for stream mode")
	}
	deps, cleanup, err := NewDependencies(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()
	if deps.Redis == nil {
		return fmt.Errorf("redis unavailable")
	}

	name, _ := os.Hostname()
	if name == "" {
		name = "triage"
	}
	rs := stream.NewRedisStream(deps.Redis, stream.DefaultGroup, log)
	return stream.NewConsumer(rs, deps.Pipeline, fmt.Sprintf("%s-%d", name, os.Getpid()), log).Run(ctx)
}

// Enqueue publishes every readable .eml file in dir and returns how many
// were queued.
func Enqueue(ctx context.Context, cfg *config.Config, dir string, limit int, log zerolog.Logger) (int, error) {
	if cfg.RedisURL == "" {
		return 0, fmt.Errorf("REDIS_URL is required to enqueue")
	}
	client, err := database.NewRedis(ctx, cfg.RedisURL, database.DefaultRedisConfig(1))
	if err != nil {
		return 0, err
	}
	defer client.Close()

	emails, unreadable, err := eml.LoadDir(dir, limit)
	if err != nil {
		return 0, err
	}
	for _, u := range unreadable {
		log.Warn().Err(u.Err).Str("path", u.Path).Msg("skipping unreadable email file")
	}

	producer := stream.NewProducer(stream.NewRedisStream(client, stream.DefaultGroup, log))
	queued := 0
	for _, email := range emails {
		if ctx.Err() != nil {
			break
		}
		if _, err := producer.PublishEmail(ctx, email); err != nil {
			return queued, fmt.Errorf("enqueue %s: %w", email.MessageID, err)
		}
		queued++
	}
	log.Info().Int("queued", queued).Str("stream", stream.StreamEmails).Msg("emails enqueued")
	return queued, nil
}
