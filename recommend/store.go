package recommend

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/solventlab/des-agent-go/core"
)

const indexFileName = "index.json"

// Summary is the denormalized index entry for one recommendation. Listing
// and statistics are served from summaries without touching record files.
type Summary struct {
	ID                 string    `json:"recommendation_id"`
	TaskID             string    `json:"task_id"`
	Status             Status    `json:"status"`
	TargetMaterial     string    `json:"target_material"`
	TargetTemperatureC float64   `json:"target_temperature_c"`
	Formulation        string    `json:"formulation"`
	Confidence         float64   `json:"confidence"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// ListFilter narrows List results. Zero values mean no filtering; Limit 0
// means no cap.
type ListFilter struct {
	Status         Status
	TargetMaterial string
	Limit          int
}

// Stats aggregates index contents.
type Stats struct {
	Total      int            `json:"total"`
	ByStatus   map[Status]int `json:"by_status"`
	ByMaterial map[string]int `json:"by_material"`
}

// Store keeps one JSON file per recommendation plus an index of summaries.
// A single mutex serializes all writes; record files are replaced
// atomically, so a crash mid-save never leaves a torn record.
type Store struct {
	mu     sync.Mutex
	dir    string
	index  map[string]Summary
	logger *zap.Logger
}

// NewStore opens (or initializes) a recommendation store rooted at dir.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating recommendation directory: %w", err)
	}

	s := &Store{
		dir:    dir,
		index:  make(map[string]Summary),
		logger: logger,
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadIndex() error {
	path := filepath.Join(s.dir, indexFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading index: %w", err)
	}
	if err := json.Unmarshal(data, &s.index); err != nil {
		return fmt.Errorf("parsing index: %w", err)
	}
	s.logger.Debug("loaded recommendation index", zap.Int("entries", len(s.index)))
	return nil
}

// saveIndexLocked persists the index. Caller holds s.mu.
func (s *Store) saveIndexLocked() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling index: %w", err)
	}
	return atomicWrite(filepath.Join(s.dir, indexFileName), data)
}

// atomicWrite writes to a temp file in the same directory and renames it
// over the target.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Save persists a recommendation and refreshes its index entry. Saving an
// existing ID replaces the record in place, which is how a GENERATING
// placeholder becomes the final recommendation.
func (s *Store) Save(rec *Recommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(rec)
}

func (s *Store) saveLocked(rec *Recommendation) error {
	if rec.Version == "" {
		rec.Version = Version
	}
	rec.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling recommendation: %w", err)
	}
	if err := atomicWrite(s.recordPath(rec.ID), data); err != nil {
		return err
	}
	s.index[rec.ID] = summarize(rec)
	if err := s.saveIndexLocked(); err != nil {
		return err
	}

	s.logger.Info("saved recommendation",
		zap.String("id", rec.ID),
		zap.String("status", string(rec.Status)))
	return nil
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func summarize(rec *Recommendation) Summary {
	return Summary{
		ID:                 rec.ID,
		TaskID:             rec.Task.ID,
		Status:             rec.Status,
		TargetMaterial:     rec.Task.TargetMaterial,
		TargetTemperatureC: rec.Task.TargetTemperatureC,
		Formulation:        rec.Formulation.DisplayString(),
		Confidence:         rec.Confidence,
		CreatedAt:          rec.CreatedAt,
		UpdatedAt:          rec.UpdatedAt,
	}
}

// Get loads a full recommendation by ID.
func (s *Store) Get(id string) (*Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *Store) getLocked(id string) (*Recommendation, error) {
	if _, ok := s.index[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	data, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		return nil, fmt.Errorf("reading recommendation %s: %w", id, err)
	}
	var rec Recommendation
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing recommendation %s: %w", id, err)
	}
	return &rec, nil
}

// List returns summaries matching the filter, newest first, without loading
// record files.
func (s *Store) List(filter ListFilter) []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Summary, 0, len(s.index))
	for _, sum := range s.index {
		if filter.Status != "" && sum.Status != filter.Status {
			continue
		}
		if filter.TargetMaterial != "" && sum.TargetMaterial != filter.TargetMaterial {
			continue
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// UpdateStatus moves a recommendation along the lifecycle, rejecting moves
// the status machine does not allow.
func (s *Store) UpdateStatus(id string, next Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(id)
	if err != nil {
		return err
	}
	if !rec.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, next)
	}
	rec.Status = next
	return s.saveLocked(rec)
}

// Cancel withdraws a PENDING recommendation. Any other state is rejected.
func (s *Store) Cancel(id string) error {
	return s.UpdateStatus(id, StatusCancelled)
}

// Fail marks a recommendation FAILED with a reason. Valid from GENERATING
// (run error) and PROCESSING (feedback error).
func (s *Store) Fail(id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(id)
	if err != nil {
		return err
	}
	if !rec.Status.CanTransitionTo(StatusFailed) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, StatusFailed)
	}
	rec.Status = StatusFailed
	if rec.Metadata == nil {
		rec.Metadata = make(map[string]string)
	}
	rec.Metadata["error"] = reason
	return s.saveLocked(rec)
}

// BeginProcessing attaches fresh experiment data and moves the
// recommendation to PROCESSING. Unlike UpdateStatus this also accepts
// COMPLETED and FAILED origins: new lab data may revise an earlier verdict
// or retry a failed ingestion. The caller is expected to have validated the
// result.
func (s *Store) BeginProcessing(id string, result *core.ExperimentResult) (*Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case StatusPending, StatusCompleted, StatusFailed:
	default:
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, StatusProcessing)
	}

	rec.ExperimentResult = result
	rec.Status = StatusProcessing
	if err := s.saveLocked(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Statistics aggregates the index by status and target material.
func (s *Store) Statistics() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Total:      len(s.index),
		ByStatus:   make(map[Status]int),
		ByMaterial: make(map[string]int),
	}
	for _, sum := range s.index {
		st.ByStatus[sum.Status]++
		if sum.TargetMaterial != "" {
			st.ByMaterial[sum.TargetMaterial]++
		}
	}
	return st
}
