package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// saveVersion tags the persisted bank format.
const saveVersion = "1.0"

// Store errors.
var (
	ErrNilRecord          = errors.New("record cannot be nil")
	ErrUnsupportedVersion = errors.New("unsupported memory bank version")
)

// Config holds store tuning knobs.
type Config struct {
	// MaxItems bounds the bank. Adding beyond it evicts the oldest record.
	MaxItems int

	// TopK is the default number of results per query.
	TopK int

	// MinSimilarity is the default retrieval threshold in [0, 1].
	MinSimilarity float64
}

// DefaultConfig returns sensible defaults for local use.
func DefaultConfig() Config {
	return Config{
		MaxItems:      1000,
		TopK:          3,
		MinSimilarity: 0.0,
	}
}

// Query describes one retrieval request. Zero-value fields fall back to the
// store's configured defaults. A negative MinSimilarity disables the
// threshold entirely, even when the store default is above zero.
type Query struct {
	Text          string
	TopK          int
	MinSimilarity float64

	// Origin restricts results to one origin when set.
	Origin Origin

	// Filters requires exact metadata matches.
	Filters map[string]string
}

// Scored pairs a retrieved record with its similarity score.
type Scored struct {
	Record *Record
	Score  float64
}

// Stats summarizes bank contents.
type Stats struct {
	Total    int            `json:"total"`
	Embedded int            `json:"embedded"`
	MaxItems int            `json:"max_items"`
	ByOrigin map[Origin]int `json:"by_origin"`
}

// Store is a bounded, similarity-searchable memory bank. Insertion order is
// preserved; capacity overflow evicts the oldest record first.
type Store struct {
	mu       sync.RWMutex
	records  []*Record
	embedder Embedder
	cfg      Config
	logger   *zap.Logger
}

// NewStore creates a memory bank. The embedder may be nil, in which case
// records keep whatever embedding they arrive with and queries fail.
func NewStore(embedder Embedder, cfg Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultConfig().MaxItems
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultConfig().TopK
	}
	return &Store{
		embedder: embedder,
		cfg:      cfg,
		logger:   logger,
	}
}

// Add validates and appends a record, embedding it if needed. A failed
// embedding is not fatal: the record is kept without a vector and skipped by
// retrieval until re-embedded.
func (s *Store) Add(ctx context.Context, rec *Record) error {
	if rec == nil {
		return ErrNilRecord
	}
	if rec.Title == "" {
		return ErrEmptyTitle
	}
	if rec.Description == "" {
		return ErrEmptyDescription
	}
	if rec.Content == "" {
		return ErrEmptyContent
	}
	if !rec.Origin.valid() {
		return ErrInvalidOrigin
	}

	cp := rec.Clone()
	if cp.Embedding == nil && s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, cp.EmbeddingText())
		if err != nil {
			s.logger.Warn("embedding failed, storing record without vector",
				zap.String("title", cp.Title),
				zap.Error(err))
		} else {
			cp.Embedding = vec
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, cp)
	for len(s.records) > s.cfg.MaxItems {
		evicted := s.records[0]
		s.records = s.records[1:]
		s.logger.Info("evicted oldest memory",
			zap.String("title", evicted.Title),
			zap.Int("max_items", s.cfg.MaxItems))
	}
	s.logger.Debug("added memory",
		zap.String("title", cp.Title),
		zap.String("origin", string(cp.Origin)),
		zap.Int("total", len(s.records)))
	return nil
}

// Consolidate adds a batch of records and reports how many were stored.
// A validation failure on one record skips it and continues with the rest.
func (s *Store) Consolidate(ctx context.Context, recs []*Record) (int, error) {
	var added int
	var firstErr error
	for _, rec := range recs {
		if err := s.Add(ctx, rec); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			s.logger.Warn("skipping invalid record during consolidation", zap.Error(err))
			continue
		}
		added++
	}
	return added, firstErr
}

// Retrieve runs similarity search over the bank. Query embedding failure
// returns an empty result and the error; retrieval never fails on
// data-quality gaps in stored records, it just skips un-embedded ones.
func (s *Store) Retrieve(ctx context.Context, q Query) ([]Scored, error) {
	if s.embedder == nil {
		return nil, errors.New("store has no embedder, retrieval unavailable")
	}
	topK := q.TopK
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	minSim := q.MinSimilarity
	switch {
	case minSim < 0:
		minSim = 0
	case minSim == 0:
		minSim = s.cfg.MinSimilarity
	}

	queryVec, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	scored := make([]Scored, 0, len(s.records))
	for _, rec := range s.records {
		if q.Origin != "" && rec.Origin != q.Origin {
			continue
		}
		if !matchesFilters(rec, q.Filters) {
			continue
		}
		if rec.Embedding == nil {
			s.logger.Warn("record has no embedding, skipping",
				zap.String("title", rec.Title))
			continue
		}
		score := CosineSimilarity(queryVec, rec.Embedding)
		if score < minSim {
			continue
		}
		scored = append(scored, Scored{Record: rec.Clone(), Score: score})
	}

	// Stable: equal scores keep insertion order.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}

	s.logger.Debug("retrieved memories",
		zap.Int("count", len(scored)),
		zap.Float64("min_similarity", minSim))
	return scored, nil
}

func matchesFilters(rec *Record, filters map[string]string) bool {
	for k, want := range filters {
		if rec.Metadata[k] != want {
			return false
		}
	}
	return true
}

// RemoveByRecommendation deletes all records tagged with the given
// recommendation ID and returns how many were removed. Used when lab
// feedback for a recommendation is resubmitted and the earlier extraction
// must be retracted.
func (s *Store) RemoveByRecommendation(recID string) int {
	if recID == "" {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	removed := 0
	for _, rec := range s.records {
		if rec.Metadata["recommendation_id"] == recID {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	if removed > 0 {
		s.logger.Info("retracted memories for recommendation",
			zap.String("recommendation_id", recID),
			zap.Int("removed", removed))
	}
	return removed
}

// Len returns the current record count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Clear removes all records.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}

// All returns copies of every record in insertion order.
func (s *Store) All() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, len(s.records))
	for i, rec := range s.records {
		out[i] = rec.Clone()
	}
	return out
}

// Stats reports bank composition.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Total:    len(s.records),
		MaxItems: s.cfg.MaxItems,
		ByOrigin: make(map[Origin]int),
	}
	for _, rec := range s.records {
		st.ByOrigin[rec.Origin]++
		if rec.Embedding != nil {
			st.Embedded++
		}
	}
	return st
}

// bankFile is the on-disk shape of a saved bank.
type bankFile struct {
	Version  string    `json:"version"`
	MaxItems int       `json:"max_items"`
	Records  []*Record `json:"memories"`
}

// Save writes the bank to path as versioned JSON, creating parent
// directories as needed. Embeddings and insertion order are preserved.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	file := bankFile{
		Version:  saveVersion,
		MaxItems: s.cfg.MaxItems,
		Records:  s.records,
	}
	data, err := json.MarshalIndent(file, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshaling memory bank: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating bank directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing memory bank: %w", err)
	}
	s.logger.Info("saved memory bank", zap.String("path", path), zap.Int("records", len(file.Records)))
	return nil
}

// Load replaces the bank contents from a file written by Save. The saved
// capacity bound is restored along with the records.
func (s *Store) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading memory bank: %w", err)
	}
	var file bankFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing memory bank: %w", err)
	}
	if file.Version != saveVersion {
		return fmt.Errorf("%w: %q", ErrUnsupportedVersion, file.Version)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = file.Records
	if file.MaxItems > 0 {
		s.cfg.MaxItems = file.MaxItems
	}
	s.logger.Info("loaded memory bank", zap.String("path", path), zap.Int("records", len(s.records)))
	return nil
}

// CosineSimilarity computes cosine similarity clamped to [0, 1].
// Mismatched dimensions or a zero vector score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Max(0, math.Min(1, sim))
}
