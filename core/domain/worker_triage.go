package domain

import "time"

// EmbeddingVector is the single stored embedding for a message.
type EmbeddingVector struct {
	MessageID   string    `json:"message_id"`
	Vector      []float32 `json:"vector"`
	Model       string    `json:"model"`
	GeneratedAt time.Time `json:"generated_at"`
}

func (v EmbeddingVector) Dimensions() int {
	return len(v.Vector)
}

// TriageResult pairs the verdicts of every mode under one message_id.
// Verdicts are keyed by mode so another mode only needs new writer code.
type TriageResult struct {
	MessageID   string                         `json:"message_id"`
	Verdicts    map[Mode]ClassificationVerdict `json:"verdicts"`
	ProcessedAt time.Time                      `json:"processed_at"`
	UpdatedAt   time.Time                      `json:"updated_at"`
}

func NewTriageResult(messageID string, emailOnly, contextual ClassificationVerdict) TriageResult {
	return TriageResult{
		MessageID: messageID,
		Verdicts: map[Mode]ClassificationVerdict{
			ModeEmailOnly:  emailOnly,
			ModeContextual: contextual,
		},
	}
}

func (r TriageResult) Verdict(mode Mode) (ClassificationVerdict, bool) {
	v, ok := r.Verdicts[mode]
	return v, ok
}

func (r TriageResult) EmailOnly() (ClassificationVerdict, bool) {
	return r.Verdict(ModeEmailOnly)
}

func (r TriageResult) Contextual() (ClassificationVerdict, bool) {
	return r.Verdict(ModeContextual)
}

// FallbackCount returns how many of the verdicts came from the heuristic path.
func (r TriageResult) FallbackCount() int {
	n := 0
	for _, v := range r.Verdicts {
		if v.IsFallback() {
			n++
		}
	}
	return n
}

// SimilarEmail is a stored message ranked by cosine similarity.
type SimilarEmail struct {
	MessageID string  `json:"message_id"`
	Score     float64 `json:"score"`
}
