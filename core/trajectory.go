package core

import "time"

// Phase labels a trajectory step within the reasoning cycle.
type Phase string

const (
	PhaseThink   Phase = "think"
	PhaseAct     Phase = "act"
	PhaseObserve Phase = "observe"
)

// Trajectory outcome tags. A trajectory starts as pending once a
// recommendation is produced and flips to completed when lab results for it
// are ingested.
const (
	OutcomePendingExperiment   = "pending_experiment"
	OutcomeExperimentCompleted = "experiment_completed"
)

// Step records one phase of one iteration of the reasoning loop.
type Step struct {
	Iteration int       `json:"iteration"`
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`

	// Reasoning is the model's stated rationale for this step.
	Reasoning string `json:"reasoning,omitempty"`

	// Action names the operation taken during an act step.
	Action string `json:"action,omitempty"`

	// Result summarizes what the step produced.
	Result string `json:"result,omitempty"`
}

// Trajectory is the full record of one reasoning run: every step taken,
// the final result, and open metadata that downstream consumers (feedback
// ingestion, memory extraction) annotate after the fact.
type Trajectory struct {
	TaskID    string     `json:"task_id"`
	Steps     []Step     `json:"steps"`
	Outcome   string     `json:"outcome,omitempty"`
	Final     *RunResult `json:"final,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   time.Time  `json:"ended_at"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// AddStep appends a step stamped with the current time.
func (t *Trajectory) AddStep(iteration int, phase Phase, reasoning, action, result string) {
	t.Steps = append(t.Steps, Step{
		Iteration: iteration,
		Phase:     phase,
		Timestamp: time.Now(),
		Reasoning: reasoning,
		Action:    action,
		Result:    result,
	})
}

// SetMeta records a metadata entry, allocating the map on first use.
func (t *Trajectory) SetMeta(key, value string) {
	if t.Metadata == nil {
		t.Metadata = make(map[string]string)
	}
	t.Metadata[key] = value
}

// RunResult is the terminal payload of a reasoning run.
type RunResult struct {
	Formulation Formulation `json:"formulation"`

	// Reasoning is the model's final justification for the composition.
	Reasoning string `json:"reasoning"`

	// Confidence is the model's self-assessed confidence in [0, 1].
	Confidence float64 `json:"confidence"`

	// SupportingEvidence lists citations or memory titles the model relied on.
	SupportingEvidence []string `json:"supporting_evidence,omitempty"`

	// Sources names the information sources consulted during the run.
	Sources []string `json:"sources,omitempty"`

	// NextSteps is free-text guidance for experimental validation.
	NextSteps string `json:"next_steps,omitempty"`

	// Iterations is how many loop cycles ran before termination.
	Iterations int `json:"iterations"`
}
