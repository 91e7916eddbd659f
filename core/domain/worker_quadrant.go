package domain

import "strings"

// Quadrant is one of the four Eisenhower priority labels.
type Quadrant string

const (
	QuadrantDo       Quadrant = "do"       // urgent and important
	QuadrantSchedule Quadrant = "schedule" // important, not urgent
	QuadrantDelegate Quadrant = "delegate" // urgent, not important
	QuadrantDelete   Quadrant = "delete"   // neither
)

// Quadrants lists the labels in priority order.
var Quadrants = []Quadrant{QuadrantDo, QuadrantSchedule, QuadrantDelegate, QuadrantDelete}

// QuadrantInfo is display metadata for a quadrant.
type QuadrantInfo struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Color        string `json:"color"`
	Priority     int    `json:"priority"`      // 1 = highest
	PriorityCode string `json:"priority_code"` // UI code
}

var quadrantInfo = map[Quadrant]QuadrantInfo{
	QuadrantDo: {
		Name:         "Do",
		Description:  "Urgent & Important - Handle immediately",
		Color:        "#ef4444",
		Priority:     1,
		PriorityCode: "urgent_important",
	},
	QuadrantSchedule: {
		Name:         "Schedule",
		Description:  "Important but not Urgent - Plan for later",
		Color:        "#f59e0b",
		Priority:     2,
		PriorityCode: "important_not_urgent",
	},
	QuadrantDelegate: {
		Name:         "Delegate",
		Description:  "Urgent but not Important - Assign to someone else",
		Color:        "#3b82f6",
		Priority:     3,
		PriorityCode: "urgent_not_important",
	},
	QuadrantDelete: {
		Name:         "Delete",
		Description:  "Neither Urgent nor Important - Ignore or archive",
		Color:        "#6b7280",
		Priority:     4,
		PriorityCode: "not_urgent_not_important",
	},
}

// ParseQuadrant normalizes s and reports whether it names a known quadrant.
func ParseQuadrant(s string) (Quadrant, bool) {
	q := Quadrant(strings.ToLower(strings.TrimSpace(s)))
	return q, q.IsValid()
}

func (q Quadrant) IsValid() bool {
	_, ok := quadrantInfo[q]
	return ok
}

func (q Quadrant) Info() QuadrantInfo {
	return quadrantInfo[q]
}

func (q Quadrant) String() string {
	return string(q)
}
