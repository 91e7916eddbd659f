package stream

import (
	"context"

	"triage_worker/core/domain"
	"triage_worker/core/service/triage"
	"triage_worker/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Processor runs one email through the triage pipeline.
type Processor interface {
	Process(ctx context.Context, email domain.Email) (triage.ItemReport, error)
}

// Consumer triages emails read from StreamEmails. Item failures are
// recorded and acknowledged like successes; a fatal error stops the
// consumer and leaves its entry pending.
type Consumer struct {
	stream    *RedisStream
	processor Processor
	name      string
	log       zerolog.Logger
}

func NewConsumer(stream *RedisStream, processor Processor, name string, log zerolog.Logger) *Consumer {
	return &Consumer{
		stream:    stream,
		processor: processor,
		name:      name,
		log:       log.With().Str("component", "stream_consumer").Str("consumer", name).Logger(),
	}
}

// Run blocks until ctx ends or a fatal error occurs.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.stream.CreateGroup(ctx, StreamEmails); err != nil {
		return err
	}
	c.log.Info().Str("stream", StreamEmails).Msg("consuming")
	return c.stream.Consume(ctx, StreamEmails, c.name, c.handle, apperr.IsFatal)
}

func (c *Consumer) handle(ctx context.Context, id string, data []byte) error {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		// acknowledged: redelivery cannot fix it
		c.log.Error().Err(err).Str("entry", id).Msg("dropping undecodable job")
		return nil
	}

	report, err := c.processor.Process(ctx, job.Email)
	if err != nil {
		return err
	}
	c.log.Debug().
		Str("entry", id).
		Str("message_id", report.MessageID).
		Str("outcome", report.Outcome).
		Msg("job done")
	return nil
}
