package metrics

import (
	"testing"
	"time"
)

func TestAssessPoolHealth(t *testing.T) {
	tests := []struct {
		name     string
		inUse    int
		max      int
		waits    int64
		waitTime time.Duration
		want     PoolHealthStatus
	}{
		{"unlimited", 10, 0, 0, 0, PoolHealthy},
		{"normal", 5, 25, 0, 0, PoolHealthy},
		{"high utilization", 21, 25, 0, 0, PoolDegraded},
		{"exhausted", 25, 25, 0, 0, PoolUnhealthy},
		{"slow waits", 2, 25, 3, 6 * time.Second, PoolDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AssessPoolHealth(tt.inUse, tt.max, tt.waits, tt.waitTime)
			if got.Status != tt.want {
				t.Errorf("expected %s, got %s (%s)", tt.want, got.Status, got.Message)
			}
		})
	}
}
