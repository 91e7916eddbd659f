package out

import "context"

// CompletionService sends one prompt pair to a chat model and returns its
// raw reply. Implementations classify their own failures into apperr kinds.
type CompletionService interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// EmbeddingService turns text into a fixed-length vector.
type EmbeddingService interface {
	Embedding(ctx context.Context, text string) ([]float32, error)
	Model() string
}
