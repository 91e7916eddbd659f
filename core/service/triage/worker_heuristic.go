// Package triage runs the dual-mode classification and persistence pipeline.
package triage

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"triage_worker/core/domain"

	"gopkg.in/yaml.v3"
)

// FallbackConfidence is the fixed confidence of every heuristic verdict.
const FallbackConfidence = 0.5

// meetingBodyMaxLen bounds the body-pattern meeting check to short notices.
const meetingBodyMaxLen = 500

// =============================================================================
// Rules
// =============================================================================

// Rules is the keyword table of the heuristic classifier. Terms match on
// word boundaries, case-insensitively.
type Rules struct {
	Do                  []string `yaml:"do"`
	Delegate            []string `yaml:"delegate"`
	Delete              []string `yaml:"delete"`
	MeetingSubjects     []string `yaml:"meeting_subjects"`
	MeetingBodies       []string `yaml:"meeting_bodies"`
	VendorRelationships []string `yaml:"vendor_relationships"`
}

func DefaultRules() Rules {
	return Rules{
		Do: []string{
			"urgent", "asap", "immediately", "immediate action", "action needed",
			"response required", "server down", "is down", "outage", "deadline",
			"critical", "emergency", "due today", "by end of day", "eod",
			"security breach", "overdue", "final notice",
		},
		Delegate: []string{
			"please handle", "can someone", "could someone", "forward this to",
			"assign", "delegate", "on behalf of", "take care of", "loop in",
			"who can", "please route",
		},
		Delete: []string{
			"newsletter", "unsubscribe", "promotion", "promotional", "sale",
			"discount", "webinar", "thanks for subscribing", "subscription confirmed",
			"subscription is confirmed", "no action required", "do not reply",
			"digest", "special offer", "limited time", "% off",
		},
		MeetingSubjects: []string{
			"accepted:", "declined:", "tentative:", "tentatively accepted:",
			"updated invitation", "invitation:", "cancelled:", "canceled:",
			"calendar invitation",
		},
		MeetingBodies: []string{
			"has accepted this invitation", "has declined this invitation",
			"has tentatively accepted", "accepted your invitation",
			"declined your invitation",
		},
		VendorRelationships: []string{
			string(domain.RelationshipVendor), string(domain.RelationshipAutomated),
		},
	}
}

// LoadRules reads a YAML rules file. Lists left empty in the file keep
// their defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("read fallback rules: %w", err)
	}
	var file Rules
	if err := yaml.Unmarshal(data, &file); err != nil {
		return rules, fmt.Errorf("parse fallback rules %s: %w", path, err)
	}
	override(&rules.Do, file.Do)
	override(&rules.Delegate, file.Delegate)
	override(&rules.Delete, file.Delete)
	override(&rules.MeetingSubjects, file.MeetingSubjects)
	override(&rules.MeetingBodies, file.MeetingBodies)
	override(&rules.VendorRelationships, file.VendorRelationships)
	return rules, nil
}

func override(dst *[]string, src []string) {
	if len(src) > 0 {
		*dst = src
	}
}

// =============================================================================
// Heuristic Classifier
// =============================================================================

// Heuristic is the deterministic substitute for the model. It never fails:
// every input maps to exactly one quadrant at FallbackConfidence.
type Heuristic struct {
	do       *regexp.Regexp
	delegate *regexp.Regexp
	del      *regexp.Regexp
	meetSubj []string
	meetBody *regexp.Regexp
	vendors  map[domain.Relationship]bool
}

func NewHeuristic(rules Rules) *Heuristic {
	vendors := make(map[domain.Relationship]bool, len(rules.VendorRelationships))
	for _, r := range rules.VendorRelationships {
		vendors[domain.Relationship(strings.ToLower(strings.TrimSpace(r)))] = true
	}
	subjects := make([]string, 0, len(rules.MeetingSubjects))
	for _, s := range rules.MeetingSubjects {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			subjects = append(subjects, s)
		}
	}
	return &Heuristic{
		do:       termPattern(rules.Do),
		delegate: termPattern(rules.Delegate),
		del:      termPattern(rules.Delete),
		meetSubj: subjects,
		meetBody: termPattern(rules.MeetingBodies),
		vendors:  vendors,
	}
}

// termPattern builds one alternation. A boundary is only required on a side
// of the term that starts or ends with a word character, so "% off" and
// "accepted:" still match.
func termPattern(terms []string) *regexp.Regexp {
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		p := regexp.QuoteMeta(t)
		if isWordByte(t[0]) {
			p = `\b` + p
		}
		if isWordByte(t[len(t)-1]) {
			p += `\b`
		}
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)(?:` + strings.Join(parts, "|") + `)`)
}

func isWordByte(b byte) bool {
	return b == '_' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

func match(re *regexp.Regexp, text string) string {
	if re == nil {
		return ""
	}
	return strings.ToLower(re.FindString(text))
}

// Classify returns the heuristic verdict for req. The same request always
// yields the same verdict.
func (h *Heuristic) Classify(req Request) domain.ClassificationVerdict {
	quadrant, reason := h.decide(req)
	v, err := domain.NewVerdict(string(quadrant), FallbackConfidence, reason, req.Mode, domain.SourceFallback)
	if err != nil {
		// Only an invalid mode can get here.
		v = domain.ClassificationVerdict{
			Quadrant:   quadrant,
			Confidence: FallbackConfidence,
			Reasoning:  reason,
			Mode:       req.Mode,
			Source:     domain.SourceFallback,
		}
	}
	return v
}

func (h *Heuristic) decide(req Request) (domain.Quadrant, string) {
	subject := strings.ToLower(strings.TrimSpace(req.Subject))
	text := subject + "\n" + strings.ToLower(req.Body)

	if h.isMeetingNotice(subject, req.Body) {
		return domain.QuadrantDelete, "Fallback: calendar response notification, no action required"
	}
	if term := match(h.do, text); term != "" {
		return domain.QuadrantDo, fmt.Sprintf("Fallback: urgency term %q found", term)
	}
	if req.Mode == domain.ModeContextual && req.Profile != nil && h.vendors[req.Profile.Relationship] {
		return domain.QuadrantDelete,
			fmt.Sprintf("Fallback: %s sender with no action terms", req.Profile.Relationship)
	}
	if term := match(h.delegate, text); term != "" {
		return domain.QuadrantDelegate, fmt.Sprintf("Fallback: delegation term %q found", term)
	}
	if term := match(h.del, text); term != "" {
		return domain.QuadrantDelete, fmt.Sprintf("Fallback: promotional or no-action term %q found", term)
	}
	return domain.QuadrantSchedule, "Fallback: no decisive terms, defaulting to schedule"
}

func (h *Heuristic) isMeetingNotice(subject, body string) bool {
	for _, prefix := range h.meetSubj {
		if strings.HasPrefix(subject, prefix) {
			return true
		}
	}
	if len(body) < meetingBodyMaxLen && match(h.meetBody, body) != "" {
		return true
	}
	return false
}
