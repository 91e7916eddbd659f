package llm

import (
	"errors"
	"fmt"
	"strings"

	"triage_worker/core/domain"
	"triage_worker/pkg/apperr"

	"github.com/goccy/go-json"
)

// TriageSystemPrompt returns the fixed instructions for quadrant triage.
func TriageSystemPrompt() string {
	var sb strings.Builder
	sb.WriteString("You are an executive assistant triaging email with the Eisenhower matrix.\n\n")
	sb.WriteString("Quadrants:\n")
	for _, q := range domain.Quadrants {
		fmt.Fprintf(&sb, "- %s: %s\n", q, q.Info().Description)
	}
	sb.WriteString(`
Respond with JSON only, in this exact format:
{
  "quadrant": "do|schedule|delegate|delete",
  "confidence": 0.0-1.0,
  "reasoning": "one or two sentences"
}`)
	return sb.String()
}

// TriageUserPrompt renders an already truncated email. A non-nil profile
// adds the sender context used by contextual mode.
func TriageUserPrompt(subject, body string, profile *domain.SenderProfile) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Subject: %s\n\nBody:\n%s\n", subject, body)
	if profile == nil {
		return sb.String()
	}

	sb.WriteString("\nSender context:\n")
	if profile.IsEmpty() {
		sb.WriteString("No profile is on record for this sender.\n")
		return sb.String()
	}
	ctxJSON, err := json.MarshalIndent(profileContext{
		Name:         profile.Name,
		Relationship: string(profile.Relationship),
		Priority:     profile.Priority,
		Tags:         profile.Tags,
		Notes:        profile.Notes,
	}, "", "  ")
	if err != nil {
		// fields are plain strings and ints
		ctxJSON = []byte("{}")
	}
	sb.Write(ctxJSON)
	sb.WriteString("\n")
	return sb.String()
}

type profileContext struct {
	Name         string   `json:"name,omitempty"`
	Relationship string   `json:"relationship,omitempty"`
	Priority     int      `json:"priority,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Notes        string   `json:"notes,omitempty"`
}

type verdictPayload struct {
	Quadrant   string   `json:"quadrant"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

// ParseVerdict validates a model reply. Any problem is a malformed-response
// error, which callers retry.
func ParseVerdict(raw string, mode domain.Mode) (domain.ClassificationVerdict, error) {
	content := strings.TrimSpace(raw)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start >= 0 && end > start {
		content = content[start : end+1]
	}
	if content == "" {
		return domain.ClassificationVerdict{}, apperr.Malformed(ServiceClassifier, errors.New("empty response"))
	}

	var p verdictPayload
	if err := json.Unmarshal([]byte(content), &p); err != nil {
		return domain.ClassificationVerdict{}, apperr.Malformed(ServiceClassifier,
			fmt.Errorf("failed to parse classification response: %w", err))
	}
	if p.Confidence == nil {
		return domain.ClassificationVerdict{}, apperr.Malformed(ServiceClassifier,
			fmt.Errorf("%w: confidence", domain.ErrMissingVerdictPart))
	}

	v, err := domain.NewVerdict(p.Quadrant, *p.Confidence, p.Reasoning, mode, domain.SourceModel)
	if err != nil {
		return domain.ClassificationVerdict{}, apperr.Malformed(ServiceClassifier, err)
	}
	return v, nil
}
