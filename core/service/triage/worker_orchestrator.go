package triage

import (
	"context"

	"triage_worker/core/agent/llm"
	"triage_worker/core/domain"

	"golang.org/x/sync/errgroup"
)

// Classifier is satisfied by *Invoker.
type Classifier interface {
	Classify(ctx context.Context, req Request) (domain.ClassificationVerdict, error)
}

// Orchestrator runs one classification per mode on independently built
// requests and pairs the verdicts into a TriageResult.
type Orchestrator struct {
	classifier Classifier
	guard      *llm.TokenGuard
	budget     int
}

func NewOrchestrator(classifier Classifier, guard *llm.TokenGuard, classifyBudget int) *Orchestrator {
	return &Orchestrator{classifier: classifier, guard: guard, budget: classifyBudget}
}

// profileShare is the part of the classification budget reserved for the
// sender profile in contextual mode: 1/profileShare of it.
const profileShare = 10

// Fit cuts subject and body so their combined size, plus the profile share,
// stays within the classification budget. The subject keeps at most a
// quarter of it.
func (o *Orchestrator) Fit(subject, body string) (string, string) {
	subject = o.guard.Truncate(subject, o.budget/4)
	remaining := o.budget - o.budget/profileShare - o.guard.Count(subject)
	if remaining < 0 {
		remaining = 0
	}
	return subject, o.guard.Truncate(body, remaining)
}

// FitProfile cuts the free-text profile fields to the profile share. Notes
// get what the name and tags leave; tags past the share are dropped.
func (o *Orchestrator) FitProfile(p domain.SenderProfile) domain.SenderProfile {
	budget := o.budget / profileShare
	p.Name = o.guard.Truncate(p.Name, budget/4)
	used := o.guard.Count(p.Name)

	tags := make([]string, 0, len(p.Tags))
	for _, tag := range p.Tags {
		n := o.guard.Count(tag)
		if used+n > budget/2 {
			break
		}
		tags = append(tags, tag)
		used += n
	}
	p.Tags = tags
	p.Notes = o.guard.Truncate(p.Notes, max(budget-used, 0))
	return p
}

// Triage classifies email in both modes. The modes share no state, and either
// may end on the fallback path. A non-nil error is always fatal.
func (o *Orchestrator) Triage(ctx context.Context, email domain.Email, profile domain.SenderProfile) (domain.TriageResult, error) {
	subject, body := o.Fit(email.Subject, email.Body)

	verdicts := make([]domain.ClassificationVerdict, len(domain.Modes))
	g, gctx := errgroup.WithContext(ctx)
	for i, mode := range domain.Modes {
		req := Request{MessageID: email.MessageID, Mode: mode, Subject: subject, Body: body}
		if mode == domain.ModeContextual {
			p := o.FitProfile(profile)
			req.Profile = &p
		}
		g.Go(func() error {
			v, err := o.classifier.Classify(gctx, req)
			if err != nil {
				return err
			}
			verdicts[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.TriageResult{}, err
	}

	result := domain.TriageResult{MessageID: email.MessageID, Verdicts: make(map[domain.Mode]domain.ClassificationVerdict, len(verdicts))}
	for _, v := range verdicts {
		result.Verdicts[v.Mode] = v
	}
	return result, nil
}
