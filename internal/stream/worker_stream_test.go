package stream

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"triage_worker/core/domain"
	"triage_worker/core/service/triage"
	"triage_worker/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProcessor struct {
	mu    sync.Mutex
	seen  []string
	fatal error
}

func (p *recordingProcessor) Process(ctx context.Context, email domain.Email) (triage.ItemReport, error) {
	p.mu.Lock()
	p.seen = append(p.seen, email.MessageID)
	p.mu.Unlock()
	if p.fatal != nil {
		return triage.ItemReport{MessageID: email.MessageID, Outcome: "failed"}, p.fatal
	}
	return triage.ItemReport{MessageID: email.MessageID, Outcome: "success"}, nil
}

func (p *recordingProcessor) ids() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

func TestConsumerHandle(t *testing.T) {
	proc := &recordingProcessor{}
	c := NewConsumer(nil, proc, "test", zerolog.Nop())

	data, err := json.Marshal(Job{ID: "j1", Email: domain.Email{MessageID: "m1", Subject: "hi"}})
	require.NoError(t, err)

	require.NoError(t, c.handle(context.Background(), "1-0", data))
	assert.Equal(t, []string{"m1"}, proc.ids())

	// undecodable payloads are dropped, not retried
	require.NoError(t, c.handle(context.Background(), "2-0", []byte("{not json")))
	assert.Len(t, proc.ids(), 1)
}

func TestConsumerHandleFatal(t *testing.T) {
	proc := &recordingProcessor{fatal: apperr.AuthConfig("invalid api key", errors.New("401"))}
	c := NewConsumer(nil, proc, "test", zerolog.Nop())

	data, err := json.Marshal(Job{ID: "j1", Email: domain.Email{MessageID: "m1", Subject: "hi"}})
	require.NoError(t, err)

	err = c.handle(context.Background(), "1-0", data)
	require.Error(t, err)
	assert.True(t, apperr.IsFatal(err))
}

// testRedis needs a disposable Redis: TRIAGE_TEST_REDIS_URL.
func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TRIAGE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("TRIAGE_TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opt)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestStreamRoundTrip(t *testing.T) {
	client := testRedis(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, client.Del(ctx, StreamEmails).Err())

	rs := NewRedisStream(client, "triage-test", zerolog.Nop())
	rs.block = 100 * time.Millisecond
	producer := NewProducer(rs)
	for _, id := range []string{"a", "b"} {
		_, err := producer.PublishEmail(ctx, domain.Email{MessageID: id, Subject: "hello"})
		require.NoError(t, err)
	}

	proc := &recordingProcessor{}
	consumer := NewConsumer(rs, proc, "c1", zerolog.Nop())

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- consumer.Run(runCtx) }()

	require.Eventually(t, func() bool { return len(proc.ids()) == 2 }, 5*time.Second, 50*time.Millisecond)
	stop()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"a", "b"}, proc.ids())
	pending, err := rs.Pending(ctx, StreamEmails)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestConsumerReclaimsIdleEntries(t *testing.T) {
	client := testRedis(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, client.Del(ctx, StreamEmails).Err())

	rs := NewRedisStream(client, "triage-reclaim-test", zerolog.Nop())
	rs.block = 100 * time.Millisecond
	rs.claimIdle = 0
	require.NoError(t, rs.CreateGroup(ctx, StreamEmails))

	_, err := NewProducer(rs).PublishEmail(ctx, domain.Email{MessageID: "orphan", Subject: "hello"})
	require.NoError(t, err)

	// a consumer that reads and dies before acknowledging
	read, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    "triage-reclaim-test",
		Consumer: "crashed",
		Streams:  []string{StreamEmails, ">"},
		Count:    10,
	}).Result()
	require.NoError(t, err)
	require.Len(t, read[0].Messages, 1)

	proc := &recordingProcessor{}
	consumer := NewConsumer(rs, proc, "c2", zerolog.Nop())
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- consumer.Run(runCtx) }()

	require.Eventually(t, func() bool { return len(proc.ids()) == 1 }, 5*time.Second, 50*time.Millisecond)
	stop()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"orphan"}, proc.ids())
	pending, err := rs.Pending(ctx, StreamEmails)
	require.NoError(t, err)
	assert.Zero(t, pending)
}
