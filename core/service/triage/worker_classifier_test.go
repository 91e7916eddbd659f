package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"triage_worker/core/agent/llm"
	"triage_worker/core/domain"
	"triage_worker/pkg/apperr"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInvoker(c *scriptedCompleter, attempts int) *Invoker {
	return NewInvoker(NewModelStrategy(c, fastPolicy(attempts), nil, nil, zerolog.Nop()),
		NewHeuristic(DefaultRules()), zerolog.Nop())
}

func TestInvokerFallsBackWhenClassifierUnreachable(t *testing.T) {
	c := &scriptedCompleter{always: apperr.Transient(llm.ServiceClassifier, errors.New("connection refused"))}
	inv := newInvoker(c, 3)

	v, err := inv.Classify(context.Background(), Request{
		MessageID: "m1",
		Mode:      domain.ModeEmailOnly,
		Subject:   "URGENT: Server down",
		Body:      "The API cluster is unreachable. Immediate action required.",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, c.Calls())
	assert.Equal(t, domain.QuadrantDo, v.Quadrant)
	assert.Equal(t, domain.SourceFallback, v.Source)
	assert.Equal(t, 0.5, v.Confidence)
}

func TestInvokerRetriesThenUsesModel(t *testing.T) {
	c := &scriptedCompleter{
		errs:  []error{apperr.RateLimited(llm.ServiceClassifier, errors.New("429"))},
		reply: modelReply("schedule", 0.82),
	}
	v, err := newInvoker(c, 3).Classify(context.Background(), Request{Mode: domain.ModeContextual, Subject: "s", Body: "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, c.Calls())
	assert.Equal(t, domain.QuadrantSchedule, v.Quadrant)
	assert.Equal(t, domain.SourceModel, v.Source)
	assert.Equal(t, domain.ModeContextual, v.Mode)
	assert.InDelta(t, 0.82, v.Confidence, 1e-9)
}

func TestInvokerRejectsInvalidReplies(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"unknown quadrant", modelReply("later", 0.9)},
		{"confidence above one", modelReply("do", 1.7)},
		{"missing confidence", `{"quadrant":"do","reasoning":"x"}`},
		{"not json", "I think this is urgent."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &scriptedCompleter{reply: tt.reply}
			v, err := newInvoker(c, 2).Classify(context.Background(),
				Request{Mode: domain.ModeEmailOnly, Subject: "Lunch?", Body: "Tacos on Friday"})
			require.NoError(t, err)
			assert.Equal(t, 2, c.Calls(), "malformed replies are retried")
			assert.Equal(t, domain.SourceFallback, v.Source)
			assert.NoError(t, v.Validate())
		})
	}
}

func TestInvokerPropagatesAuthErrors(t *testing.T) {
	c := &scriptedCompleter{always: apperr.AuthConfig("invalid api key", nil)}
	_, err := newInvoker(c, 5).Classify(context.Background(), Request{Mode: domain.ModeEmailOnly, Subject: "s"})
	require.Error(t, err)
	assert.True(t, apperr.IsFatal(err))
	assert.Equal(t, 1, c.Calls())
}

func TestInvokerFallsBackOnRejectedRequest(t *testing.T) {
	c := &scriptedCompleter{always: apperr.InvalidInput("prompt", "context length exceeded")}
	v, err := newInvoker(c, 5).Classify(context.Background(), Request{Mode: domain.ModeEmailOnly, Subject: "s"})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Calls())
	assert.Equal(t, domain.SourceFallback, v.Source)
}

func TestInvokerWithoutModelUsesHeuristic(t *testing.T) {
	var strategy *ModelStrategy
	inv := NewInvoker(strategy, nil, zerolog.Nop())
	v, err := inv.Classify(context.Background(), Request{Mode: domain.ModeEmailOnly, Subject: "Weekly digest"})
	require.NoError(t, err)
	assert.Equal(t, domain.SourceFallback, v.Source)
	assert.Equal(t, domain.QuadrantDelete, v.Quadrant)
}

type recordingClassifier struct {
	mu   sync.Mutex
	reqs []Request
	err  error
}

func (r *recordingClassifier) Classify(ctx context.Context, req Request) (domain.ClassificationVerdict, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	if r.err != nil {
		return domain.ClassificationVerdict{}, r.err
	}
	return NewHeuristic(DefaultRules()).Classify(req), nil
}

func TestOrchestratorRunsBothModesIndependently(t *testing.T) {
	rc := &recordingClassifier{}
	o := NewOrchestrator(rc, llm.NewEstimatingGuard(), 3000)
	profile := domain.SenderProfile{SenderAddress: "news@vendor.io", Relationship: domain.RelationshipVendor}

	res, err := o.Triage(context.Background(), domain.Email{
		MessageID: "m1",
		Subject:   "Thanks for subscribing",
		Body:      "Your subscription to our newsletter is confirmed.",
	}, profile)
	require.NoError(t, err)
	require.Len(t, rc.reqs, 2)

	byMode := map[domain.Mode]Request{}
	for _, r := range rc.reqs {
		byMode[r.Mode] = r
	}
	assert.Nil(t, byMode[domain.ModeEmailOnly].Profile)
	require.NotNil(t, byMode[domain.ModeContextual].Profile)
	assert.Equal(t, domain.RelationshipVendor, byMode[domain.ModeContextual].Profile.Relationship)

	eo, ok := res.EmailOnly()
	require.True(t, ok)
	cx, ok := res.Contextual()
	require.True(t, ok)
	assert.Equal(t, "m1", res.MessageID)
	assert.Equal(t, domain.QuadrantDelete, eo.Quadrant)
	assert.Equal(t, domain.QuadrantDelete, cx.Quadrant)
}

func TestOrchestratorFitsBudget(t *testing.T) {
	guard := llm.NewEstimatingGuard()
	o := NewOrchestrator(&recordingClassifier{}, guard, 100)

	subject, body := o.Fit(strings.Repeat("subject ", 100), strings.Repeat("body text ", 1000))
	assert.LessOrEqual(t, guard.Count(subject), 25)
	assert.LessOrEqual(t, guard.Count(subject)+guard.Count(body), 100)

	s2, b2 := o.Fit(subject, body)
	assert.Equal(t, subject, s2)
	assert.Equal(t, body, b2)
}

func TestOrchestratorReturnsFatal(t *testing.T) {
	rc := &recordingClassifier{err: apperr.AuthConfig("bad key", nil)}
	_, err := NewOrchestrator(rc, llm.NewEstimatingGuard(), 3000).
		Triage(context.Background(), sampleEmail("m1"), domain.EmptyProfile(""))
	assert.True(t, apperr.IsFatal(err))
}

func TestOrchestratorFitsProfileIntoBudget(t *testing.T) {
	guard := llm.NewEstimatingGuard()
	rc := &recordingClassifier{}
	o := NewOrchestrator(rc, guard, 200)

	tags := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		tags = append(tags, fmt.Sprintf("project-tag-%d", i))
	}
	profile := domain.SenderProfile{
		SenderAddress: "cto@example.com",
		Name:          strings.Repeat("Very Long Name ", 20),
		Relationship:  domain.RelationshipManager,
		Tags:          tags,
		Notes:         strings.Repeat("Prefers short replies and weekly summaries. ", 200),
	}

	_, err := o.Triage(context.Background(), domain.Email{
		MessageID: "m1",
		Subject:   strings.Repeat("subject ", 100),
		Body:      strings.Repeat("body text ", 1000),
	}, profile)
	require.NoError(t, err)
	require.Len(t, rc.reqs, 2)

	for _, req := range rc.reqs {
		total := guard.Count(req.Subject) + guard.Count(req.Body)
		if req.Mode == domain.ModeContextual {
			require.NotNil(t, req.Profile)
			p := req.Profile
			profileTokens := guard.Count(p.Name) + guard.Count(p.Notes)
			for _, tag := range p.Tags {
				profileTokens += guard.Count(tag)
			}
			assert.LessOrEqual(t, profileTokens, 200/10)
			assert.NotEmpty(t, p.Notes)
			assert.Less(t, len(p.Tags), len(tags))
			assert.Equal(t, domain.RelationshipManager, p.Relationship)
			total += profileTokens
		}
		assert.LessOrEqual(t, total, 200, "mode %s", req.Mode)
	}
	// the caller's profile is not modified
	assert.Len(t, profile.Tags, 50)
}
