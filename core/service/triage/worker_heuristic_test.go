package triage

import (
	"os"
	"path/filepath"
	"testing"

	"triage_worker/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristicQuadrants(t *testing.T) {
	h := NewHeuristic(DefaultRules())
	vendor := &domain.SenderProfile{SenderAddress: "news@vendor.io", Relationship: domain.RelationshipVendor}
	manager := &domain.SenderProfile{SenderAddress: "boss@corp.com", Relationship: domain.RelationshipManager}

	tests := []struct {
		name string
		req  Request
		want domain.Quadrant
	}{
		{
			name: "urgent outage",
			req:  Request{Mode: domain.ModeEmailOnly, Subject: "URGENT: Server down", Body: "Production is failing, immediate action required."},
			want: domain.QuadrantDo,
		},
		{
			name: "meeting acceptance",
			req:  Request{Mode: domain.ModeEmailOnly, Subject: "Accepted: Weekly sync", Body: "Bob has accepted this invitation."},
			want: domain.QuadrantDelete,
		},
		{
			name: "meeting acceptance beats urgency words",
			req:  Request{Mode: domain.ModeContextual, Subject: "Accepted: Urgent budget review", Profile: manager},
			want: domain.QuadrantDelete,
		},
		{
			name: "delegation request",
			req:  Request{Mode: domain.ModeEmailOnly, Subject: "Printer on floor 3", Body: "Can someone take care of the toner?"},
			want: domain.QuadrantDelegate,
		},
		{
			name: "newsletter",
			req:  Request{Mode: domain.ModeEmailOnly, Subject: "Our monthly newsletter", Body: "Click here to unsubscribe."},
			want: domain.QuadrantDelete,
		},
		{
			name: "vendor sender without action terms",
			req:  Request{Mode: domain.ModeContextual, Subject: "Product update", Body: "Here is what changed this quarter.", Profile: vendor},
			want: domain.QuadrantDelete,
		},
		{
			name: "vendor sender with deadline",
			req:  Request{Mode: domain.ModeContextual, Subject: "Invoice", Body: "Payment deadline is Friday.", Profile: vendor},
			want: domain.QuadrantDo,
		},
		{
			name: "no action required is not urgent",
			req:  Request{Mode: domain.ModeEmailOnly, Subject: "Receipt", Body: "Your payment was received. No action required."},
			want: domain.QuadrantDelete,
		},
		{
			name: "substring does not match",
			req:  Request{Mode: domain.ModeEmailOnly, Subject: "Wholesale catalog", Body: "Attached is the catalog we discussed."},
			want: domain.QuadrantSchedule,
		},
		{
			name: "default",
			req:  Request{Mode: domain.ModeEmailOnly, Subject: "Roadmap thoughts", Body: "Some ideas for next quarter."},
			want: domain.QuadrantSchedule,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := h.Classify(tt.req)
			assert.Equal(t, tt.want, v.Quadrant)
			assert.Equal(t, domain.SourceFallback, v.Source)
			assert.Equal(t, FallbackConfidence, v.Confidence)
			assert.Equal(t, tt.req.Mode, v.Mode)
			assert.NoError(t, v.Validate())
			assert.NotEmpty(t, v.Reasoning)
		})
	}
}

func TestHeuristicIsDeterministic(t *testing.T) {
	req := Request{Mode: domain.ModeEmailOnly, Subject: "URGENT: Server down", Body: "immediate action required"}
	first := NewHeuristic(DefaultRules()).Classify(req)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, NewHeuristic(DefaultRules()).Classify(req))
	}
}

func TestLoadRulesOverridesLists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("do:\n  - pager\ndelete:\n  - lottery\n"), 0o600))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"pager"}, rules.Do)
	assert.Equal(t, []string{"lottery"}, rules.Delete)
	assert.Equal(t, DefaultRules().Delegate, rules.Delegate)

	h := NewHeuristic(rules)
	assert.Equal(t, domain.QuadrantDo, h.Classify(Request{Mode: domain.ModeEmailOnly, Subject: "Pager alert"}).Quadrant)
	assert.Equal(t, domain.QuadrantSchedule, h.Classify(Request{Mode: domain.ModeEmailOnly, Subject: "urgent"}).Quadrant)
	assert.Equal(t, domain.QuadrantDelete, h.Classify(Request{Mode: domain.ModeEmailOnly, Subject: "You won the lottery"}).Quadrant)
}

func TestLoadRulesErrors(t *testing.T) {
	rules, err := LoadRules("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), rules)

	_, err = LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("do: [unclosed"), 0o600))
	_, err = LoadRules(bad)
	assert.Error(t, err)
}
