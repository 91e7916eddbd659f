package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Mode is the reasoning path that produced a verdict.
type Mode string

const (
	ModeEmailOnly  Mode = "email_only"
	ModeContextual Mode = "contextual"
)

// Modes lists every mode the orchestrator runs, in order.
var Modes = []Mode{ModeEmailOnly, ModeContextual}

func (m Mode) IsValid() bool {
	return m == ModeEmailOnly || m == ModeContextual
}

// Source tells whether a verdict came from the model or the heuristic path.
type Source string

const (
	SourceModel    Source = "model"
	SourceFallback Source = "fallback"
)

func (s Source) IsValid() bool {
	return s == SourceModel || s == SourceFallback
}

var (
	ErrUnknownQuadrant    = errors.New("unknown quadrant")
	ErrConfidenceRange    = errors.New("confidence out of range [0,1]")
	ErrInvalidMode        = errors.New("invalid mode")
	ErrInvalidSource      = errors.New("invalid source")
	ErrMissingVerdictPart = errors.New("missing verdict field")
)

// ClassificationVerdict is an immutable, validated classification outcome.
// Build it with NewVerdict; the zero value is not a valid verdict.
type ClassificationVerdict struct {
	Quadrant   Quadrant `json:"quadrant"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Mode       Mode     `json:"mode"`
	Source     Source   `json:"source"`
}

// NewVerdict validates the raw fields and returns a verdict.
func NewVerdict(quadrant string, confidence float64, reasoning string, mode Mode, source Source) (ClassificationVerdict, error) {
	if strings.TrimSpace(quadrant) == "" {
		return ClassificationVerdict{}, fmt.Errorf("%w: quadrant", ErrMissingVerdictPart)
	}
	q, ok := ParseQuadrant(quadrant)
	if !ok {
		return ClassificationVerdict{}, fmt.Errorf("%w: %q", ErrUnknownQuadrant, quadrant)
	}
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return ClassificationVerdict{}, fmt.Errorf("%w: %v", ErrConfidenceRange, confidence)
	}
	if !mode.IsValid() {
		return ClassificationVerdict{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if !source.IsValid() {
		return ClassificationVerdict{}, fmt.Errorf("%w: %q", ErrInvalidSource, source)
	}
	return ClassificationVerdict{
		Quadrant:   q,
		Confidence: confidence,
		Reasoning:  strings.TrimSpace(reasoning),
		Mode:       mode,
		Source:     source,
	}, nil
}

// Validate re-checks a verdict that arrived from storage or the wire.
func (v ClassificationVerdict) Validate() error {
	_, err := NewVerdict(string(v.Quadrant), v.Confidence, v.Reasoning, v.Mode, v.Source)
	return err
}

func (v ClassificationVerdict) IsFallback() bool {
	return v.Source == SourceFallback
}
