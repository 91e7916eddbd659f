package stream

import (
	"context"
	"time"

	"triage_worker/core/domain"

	"github.com/google/uuid"
)

type Producer struct {
	stream *RedisStream
}

func NewProducer(stream *RedisStream) *Producer {
	return &Producer{stream: stream}
}

// Job is one stream entry: an email to triage.
type Job struct {
	ID         string       `json:"id"`
	Email      domain.Email `json:"email"`
	EnqueuedAt time.Time    `json:"enqueued_at"`
}

// PublishEmail enqueues email and returns the stream entry ID.
func (p *Producer) PublishEmail(ctx context.Context, email domain.Email) (string, error) {
	job := &Job{
		ID:         uuid.New().String(),
		Email:      email,
		EnqueuedAt: time.Now().UTC(),
	}
	return p.stream.Publish(ctx, StreamEmails, job)
}
