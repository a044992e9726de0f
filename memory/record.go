package memory

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Validation errors for memory records.
var (
	ErrEmptyTitle       = errors.New("memory title cannot be empty")
	ErrEmptyDescription = errors.New("memory description cannot be empty")
	ErrEmptyContent     = errors.New("memory content cannot be empty")
	ErrInvalidOrigin    = errors.New("memory origin must be success, failure, or experiment")
)

// Origin tags how a memory was earned.
type Origin string

const (
	// OriginSuccess marks a strategy distilled from a successful run.
	OriginSuccess Origin = "success"

	// OriginFailure marks a guardrail distilled from a failed run.
	OriginFailure Origin = "failure"

	// OriginExperiment marks knowledge validated by lab results.
	OriginExperiment Origin = "experiment"
)

func (o Origin) valid() bool {
	switch o {
	case OriginSuccess, OriginFailure, OriginExperiment:
		return true
	}
	return false
}

// Record is one distilled unit of formulation experience. Records are value
// objects: the store copies them on write and read, so callers can never
// mutate stored state through a returned pointer.
type Record struct {
	ID string `json:"id"`

	// Title is a one-line handle, e.g. "ChCl:urea fails on cobalt oxides".
	Title string `json:"title"`

	// Description is a one-to-two sentence summary used, together with the
	// title, as the embedding text.
	Description string `json:"description"`

	// Content is the full distilled lesson.
	Content string `json:"content"`

	Origin       Origin    `json:"origin"`
	SourceTaskID string    `json:"source_task_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`

	// Embedding is the vector for similarity search. Nil when embedding
	// failed at write time; such records are excluded from retrieval.
	Embedding []float32 `json:"embedding,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewRecord builds a validated record with a fresh ID and timestamp.
func NewRecord(title, description, content string, origin Origin) (*Record, error) {
	if strings.TrimSpace(title) == "" {
		return nil, ErrEmptyTitle
	}
	if strings.TrimSpace(description) == "" {
		return nil, ErrEmptyDescription
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if !origin.valid() {
		return nil, ErrInvalidOrigin
	}
	return &Record{
		ID:          uuid.New().String(),
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
		Content:     strings.TrimSpace(content),
		Origin:      origin,
		CreatedAt:   time.Now().UTC(),
		Metadata:    make(map[string]string),
	}, nil
}

// EmbeddingText is the canonical text embedded for similarity search.
func (r *Record) EmbeddingText() string {
	return r.Title + ". " + r.Description
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	cp := *r
	if r.Embedding != nil {
		cp.Embedding = make([]float32, len(r.Embedding))
		copy(cp.Embedding, r.Embedding)
	}
	if r.Metadata != nil {
		cp.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
