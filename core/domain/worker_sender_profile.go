package domain

import (
	"sort"
	"strings"
	"time"
)

// Relationship labels how the mailbox owner relates to a sender.
type Relationship string

const (
	RelationshipUnknown      Relationship = ""
	RelationshipManager      Relationship = "manager"
	RelationshipColleague    Relationship = "colleague"
	RelationshipDirectReport Relationship = "direct_report"
	RelationshipClient       Relationship = "client"
	RelationshipVendor       Relationship = "vendor"
	RelationshipFriend       Relationship = "friend"
	RelationshipFamily       Relationship = "family"
	RelationshipAutomated    Relationship = "automated"
)

// Valid reports whether r is one of the known relationships.
func (r Relationship) Valid() bool {
	switch r {
	case RelationshipUnknown, RelationshipManager, RelationshipColleague, RelationshipDirectReport,
		RelationshipClient, RelationshipVendor, RelationshipFriend, RelationshipFamily, RelationshipAutomated:
		return true
	}
	return false
}

// SenderProfile is what the mailbox owner knows about a sender.
// An empty profile is valid input for contextual classification.
type SenderProfile struct {
	SenderAddress string       `json:"sender_address"`
	Name          string       `json:"name,omitempty"`
	Tags          []string     `json:"tags"`
	Relationship  Relationship `json:"relationship"`
	Priority      int          `json:"priority"` // 0 = unset, 1 = highest
	Notes         string       `json:"notes,omitempty"`
	UpdatedAt     time.Time    `json:"updated_at,omitempty"`
}

// EmptyProfile returns the profile used when a sender is unknown.
func EmptyProfile(senderAddress string) SenderProfile {
	return SenderProfile{SenderAddress: senderAddress, Tags: []string{}}
}

func (p SenderProfile) IsEmpty() bool {
	return p.Name == "" && len(p.Tags) == 0 && p.Relationship == RelationshipUnknown &&
		p.Priority == 0 && p.Notes == ""
}

func (p SenderProfile) HasTag(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// NormalizeTags lower-cases, trims and de-duplicates tags into a sorted set.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
