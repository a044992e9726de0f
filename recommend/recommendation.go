// Package recommend persists formulation recommendations and enforces their
// lifecycle: a placeholder is written the moment a reasoning run starts, and
// every later change moves through an explicit status machine.
package recommend

import (
	"errors"
	"fmt"
	"time"

	"github.com/solventlab/des-agent-go/core"
)

// Version tags the on-disk recommendation format.
const Version = "1.0"

// Status is a recommendation's lifecycle state.
type Status string

const (
	// StatusGenerating marks a placeholder while the reasoning loop runs.
	StatusGenerating Status = "GENERATING"

	// StatusPending means the recommendation awaits lab validation.
	StatusPending Status = "PENDING"

	// StatusProcessing means lab feedback is being ingested.
	StatusProcessing Status = "PROCESSING"

	// StatusCompleted means feedback was ingested successfully.
	StatusCompleted Status = "COMPLETED"

	// StatusFailed means generation or feedback ingestion failed.
	StatusFailed Status = "FAILED"

	// StatusCancelled is terminal: the recommendation was withdrawn
	// before any experiment ran.
	StatusCancelled Status = "CANCELLED"
)

// Lifecycle errors.
var (
	ErrNotFound          = errors.New("recommendation not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// transitions holds the moves UpdateStatus accepts. Re-processing of
// COMPLETED and FAILED recommendations is deliberately absent here: it is
// only reachable through Store.BeginProcessing, which requires fresh
// experiment data.
var transitions = map[Status][]Status{
	StatusGenerating: {StatusPending, StatusFailed},
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// CanTransitionTo reports whether UpdateStatus may move s to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions exist at all.
// COMPLETED and FAILED are not terminal: new lab data may reopen them.
func (s Status) Terminal() bool {
	return s == StatusCancelled
}

// NewID builds a recommendation ID in the form
// REC_YYYYMMDD_HHMMSS_<taskID>.
func NewID(now time.Time, taskID string) string {
	return fmt.Sprintf("REC_%s_%s", now.Format("20060102_150405"), taskID)
}

// Recommendation is one persisted formulation proposal with its full
// provenance: the task, the reasoning trajectory, and any lab results.
type Recommendation struct {
	ID   string    `json:"recommendation_id"`
	Task core.Task `json:"task"`

	Formulation        core.Formulation `json:"formulation"`
	Reasoning          string           `json:"reasoning"`
	Confidence         float64          `json:"confidence"`
	SupportingEvidence []string         `json:"supporting_evidence,omitempty"`

	Trajectory *core.Trajectory `json:"trajectory,omitempty"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ExperimentResult *core.ExperimentResult `json:"experiment_result,omitempty"`

	Version  string            `json:"version"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewPlaceholder creates a GENERATING recommendation for a task that has
// just started. The same ID is reused for the final write, so readers only
// ever see one record per run.
func NewPlaceholder(task core.Task, now time.Time) *Recommendation {
	return &Recommendation{
		ID:        NewID(now, task.ID),
		Task:      task,
		Status:    StatusGenerating,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   Version,
	}
}
