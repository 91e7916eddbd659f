// Package memory provides in-process stores for dry runs and tests.
package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"triage_worker/core/domain"
)

// ProfileStore is a map-backed sender profile store.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]domain.SenderProfile
}

func NewProfileStore(profiles ...domain.SenderProfile) *ProfileStore {
	s := &ProfileStore{profiles: make(map[string]domain.SenderProfile)}
	for _, p := range profiles {
		s.Put(p)
	}
	return s
}

func (s *ProfileStore) Put(p domain.SenderProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.SenderAddress = strings.ToLower(p.SenderAddress)
	p.Tags = domain.NormalizeTags(p.Tags)
	s.profiles[p.SenderAddress] = p
}

func (s *ProfileStore) UpsertProfile(ctx context.Context, p domain.SenderProfile) error {
	p.UpdatedAt = time.Now().UTC()
	s.Put(p)
	return nil
}

func (s *ProfileStore) GetProfile(ctx context.Context, senderAddress string) (domain.SenderProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.profiles[strings.ToLower(senderAddress)]; ok {
		return p, nil
	}
	return domain.EmptyProfile(senderAddress), nil
}

// EmbeddingStore keeps one vector per message_id.
type EmbeddingStore struct {
	mu      sync.RWMutex
	vectors map[string]domain.EmbeddingVector
}

func NewEmbeddingStore() *EmbeddingStore {
	return &EmbeddingStore{vectors: make(map[string]domain.EmbeddingVector)}
}

func (s *EmbeddingStore) Exists(ctx context.Context, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.vectors[messageID]
	return ok, nil
}

func (s *EmbeddingStore) Upsert(ctx context.Context, v domain.EmbeddingVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v.Vector = append([]float32(nil), v.Vector...)
	s.vectors[v.MessageID] = v
	return nil
}

func (s *EmbeddingStore) Get(ctx context.Context, messageID string) (*domain.EmbeddingVector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vectors[messageID]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (s *EmbeddingStore) FindSimilar(ctx context.Context, vector []float32, limit int, minScore float64, excludeID string) ([]domain.SimilarEmail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.SimilarEmail
	for id, v := range s.vectors {
		if id == excludeID {
			continue
		}
		if score := cosine(vector, v.Vector); score >= minScore {
			out = append(out, domain.SimilarEmail{MessageID: id, Score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].MessageID < out[j].MessageID
		}
		return out[i].Score > out[j].Score
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored vectors.
func (s *EmbeddingStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// TriageStore keeps one TriageResult per message_id.
type TriageStore struct {
	mu      sync.RWMutex
	results map[string]domain.TriageResult
	now     func() time.Time
}

func NewTriageStore() *TriageStore {
	return &TriageStore{results: make(map[string]domain.TriageResult), now: time.Now}
}

func (s *TriageStore) Upsert(ctx context.Context, r domain.TriageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	processedAt := now
	if prev, ok := s.results[r.MessageID]; ok {
		processedAt = prev.ProcessedAt
	}
	verdicts := make(map[domain.Mode]domain.ClassificationVerdict, len(r.Verdicts))
	for m, v := range r.Verdicts {
		verdicts[m] = v
	}
	s.results[r.MessageID] = domain.TriageResult{
		MessageID:   r.MessageID,
		Verdicts:    verdicts,
		ProcessedAt: processedAt,
		UpdatedAt:   now,
	}
	return nil
}

func (s *TriageStore) Get(ctx context.Context, messageID string) (*domain.TriageResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[messageID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *TriageStore) ListRecent(ctx context.Context, limit int) ([]domain.TriageResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.TriageResult, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].MessageID < out[j].MessageID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *TriageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

// Claimer is an in-process claim marker with expiry.
type Claimer struct {
	mu     sync.Mutex
	claims map[string]time.Time
	now    func() time.Time
}

func NewClaimer() *Claimer {
	return &Claimer{claims: make(map[string]time.Time), now: time.Now}
}

func (c *Claimer) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if exp, held := c.claims[key]; held && now.Before(exp) {
		return false, nil
	}
	c.claims[key] = now.Add(ttl)
	return true, nil
}

func (c *Claimer) Release(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.claims, key)
	return nil
}
