// Package feedback ingests laboratory results for recommendations.
//
// Submission is asynchronous: Submit validates the payload, flips the
// recommendation to PROCESSING, and returns immediately; a bounded worker
// pool does the heavy lifting (memory extraction, consolidation,
// persistence). Callers poll CheckStatus for the outcome. There are no
// callbacks and no push notifications.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/solventlab/des-agent-go/core"
	"github.com/solventlab/des-agent-go/memory"
	"github.com/solventlab/des-agent-go/recommend"
)

// Defaults for the worker pool.
const (
	DefaultWorkers   = 2
	DefaultQueueSize = 16
)

// Pipeline errors.
var (
	ErrAlreadyProcessing = errors.New("feedback for this recommendation is already being processed")
	ErrPipelineClosed    = errors.New("feedback pipeline is closed")
	ErrNoFeedback        = errors.New("no feedback has been submitted for this recommendation")
)

// State of one feedback submission.
type State string

const (
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Result summarizes a completed ingestion.
type Result struct {
	MeasurementCount  int  `json:"measurement_count"`
	MemoriesExtracted int  `json:"memories_extracted"`
	IsUpdate          bool `json:"is_update"`
	DeletedMemories   int  `json:"deleted_memories"`
}

// StatusEntry is what CheckStatus reports for one recommendation.
type StatusEntry struct {
	RecommendationID string     `json:"recommendation_id"`
	State            State      `json:"state"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	FailedAt         *time.Time `json:"failed_at,omitempty"`
	Result           *Result    `json:"result,omitempty"`
	Error            string     `json:"error,omitempty"`
}

// Acceptance is Submit's immediate response.
type Acceptance struct {
	Status           string `json:"status"`
	Processing       string `json:"processing"`
	RecommendationID string `json:"recommendation_id"`
}

type job struct {
	rec      *recommend.Recommendation
	isUpdate bool
}

// Pipeline processes experiment feedback in the background.
type Pipeline struct {
	recs      *recommend.Store
	memories  *memory.Store
	extractor *memory.Extractor

	jobs   chan job
	wg     sync.WaitGroup
	logger *zap.Logger

	// submitters counts Submit calls that passed the closed check and may
	// still send on jobs. Close waits for it before closing the channel.
	submitters sync.WaitGroup

	// autosavePath, when set, persists the memory bank after each
	// successful ingestion.
	autosavePath string

	mu     sync.Mutex
	status map[string]*StatusEntry
	closed bool
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*pipelineSettings)

type pipelineSettings struct {
	workers   int
	queueSize int
	autosave  string
	logger    *zap.Logger
}

// WithWorkers sets the worker pool size.
func WithWorkers(n int) PipelineOption {
	return func(s *pipelineSettings) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithQueueSize sets the submission queue depth.
func WithQueueSize(n int) PipelineOption {
	return func(s *pipelineSettings) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithAutosave persists the memory bank to path after each ingestion.
func WithAutosave(path string) PipelineOption {
	return func(s *pipelineSettings) { s.autosave = path }
}

// WithPipelineLogger sets the logger.
func WithPipelineLogger(l *zap.Logger) PipelineOption {
	return func(s *pipelineSettings) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewPipeline starts the worker pool. Callers must Close it to drain.
func NewPipeline(recs *recommend.Store, memories *memory.Store, extractor *memory.Extractor, opts ...PipelineOption) *Pipeline {
	settings := pipelineSettings{
		workers:   DefaultWorkers,
		queueSize: DefaultQueueSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&settings)
	}

	p := &Pipeline{
		recs:         recs,
		memories:     memories,
		extractor:    extractor,
		jobs:         make(chan job, settings.queueSize),
		logger:       settings.logger,
		autosavePath: settings.autosave,
		status:       make(map[string]*StatusEntry),
	}
	for i := 0; i < settings.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit validates the result, flips the recommendation to PROCESSING, and
// queues ingestion. It returns as soon as the job is queued. A second
// submission for the same recommendation is rejected while the first is
// still in flight; after completion a new submission is treated as an
// update and replaces the earlier extraction.
func (p *Pipeline) Submit(recID string, result *core.ExperimentResult) (*Acceptance, error) {
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("invalid experiment result: %w", err)
	}

	// The closed check and the in-flight increment happen under one lock,
	// so Close observes every submitter that got past the check before it
	// closes the jobs channel.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPipelineClosed
	}
	if entry, ok := p.status[recID]; ok && entry.State == StateProcessing {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyProcessing, recID)
	}
	p.submitters.Add(1)
	p.mu.Unlock()
	defer p.submitters.Done()

	prev, err := p.recs.Get(recID)
	if err != nil {
		return nil, err
	}
	isUpdate := prev.Status == recommend.StatusCompleted

	rec, err := p.recs.BeginProcessing(recID, result)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.status[recID] = &StatusEntry{
		RecommendationID: recID,
		State:            StateProcessing,
		StartedAt:        time.Now().UTC(),
	}
	p.mu.Unlock()

	p.jobs <- job{rec: rec, isUpdate: isUpdate}

	p.logger.Info("feedback accepted",
		zap.String("recommendation_id", recID),
		zap.Bool("is_update", isUpdate))
	return &Acceptance{
		Status:           "accepted",
		Processing:       "started",
		RecommendationID: recID,
	}, nil
}

// CheckStatus reports the submission state for a recommendation. After a
// restart the in-memory map is empty, so the entry is rebuilt from the
// persisted recommendation status.
func (p *Pipeline) CheckStatus(recID string) (*StatusEntry, error) {
	p.mu.Lock()
	if entry, ok := p.status[recID]; ok {
		cp := *entry
		p.mu.Unlock()
		return &cp, nil
	}
	p.mu.Unlock()

	rec, err := p.recs.Get(recID)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case recommend.StatusProcessing:
		return &StatusEntry{RecommendationID: recID, State: StateProcessing, StartedAt: rec.UpdatedAt}, nil
	case recommend.StatusCompleted:
		done := rec.UpdatedAt
		entry := &StatusEntry{
			RecommendationID: recID,
			State:            StateCompleted,
			StartedAt:        rec.UpdatedAt,
			CompletedAt:      &done,
		}
		if rec.ExperimentResult != nil {
			entry.Result = &Result{MeasurementCount: len(rec.ExperimentResult.Measurements)}
		}
		return entry, nil
	case recommend.StatusFailed:
		failed := rec.UpdatedAt
		return &StatusEntry{
			RecommendationID: recID,
			State:            StateFailed,
			StartedAt:        rec.UpdatedAt,
			FailedAt:         &failed,
			Error:            rec.Metadata["error"],
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoFeedback, recID)
}

// Close stops accepting submissions and waits for queued jobs to finish.
// In-flight Submit calls complete first; workers keep draining the queue
// until then, so a Submit parked on a full queue is never dropped.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.submitters.Wait()
	close(p.jobs)
	p.wg.Wait()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		p.process(j)
	}
}

// process runs one ingestion end to end. Any failure marks both the status
// entry and the recommendation FAILED; the submission can then be retried
// with the same payload.
func (p *Pipeline) process(j job) {
	ctx := context.Background()
	rec := j.rec
	result := rec.ExperimentResult

	fail := func(err error) {
		p.logger.Error("feedback processing failed",
			zap.String("recommendation_id", rec.ID),
			zap.Error(err))
		if ferr := p.recs.Fail(rec.ID, err.Error()); ferr != nil {
			p.logger.Error("marking recommendation failed", zap.Error(ferr))
		}
		now := time.Now().UTC()
		p.mu.Lock()
		if entry, ok := p.status[rec.ID]; ok {
			entry.State = StateFailed
			entry.FailedAt = &now
			entry.Error = err.Error()
		}
		p.mu.Unlock()
	}

	if result == nil {
		fail(errors.New("recommendation has no experiment result attached"))
		return
	}

	// Annotate the trajectory so future extractions see the measured
	// outcome, not just the model's expectations.
	traj := rec.Trajectory
	if traj == nil {
		traj = &core.Trajectory{TaskID: rec.Task.ID}
		rec.Trajectory = traj
	}
	traj.Outcome = core.OutcomeExperimentCompleted
	traj.SetMeta("feedback_processed_at", time.Now().UTC().Format(time.RFC3339))
	traj.SetMeta("recommendation_id", rec.ID)

	records, err := p.extractor.ExtractFromExperiment(ctx, traj, result)
	if err != nil {
		fail(fmt.Errorf("extracting memories: %w", err))
		return
	}
	for _, r := range records {
		r.Metadata["recommendation_id"] = rec.ID
		r.Metadata["source"] = "experiment_validated"
	}

	deleted := 0
	if j.isUpdate {
		deleted = p.memories.RemoveByRecommendation(rec.ID)
	}

	added, err := p.memories.Consolidate(ctx, records)
	if err != nil {
		p.logger.Warn("some extracted memories were not stored", zap.Error(err))
	}

	if p.autosavePath != "" {
		if err := p.memories.Save(p.autosavePath); err != nil {
			p.logger.Warn("memory bank autosave failed", zap.Error(err))
		}
	}

	if err := p.recs.Save(rec); err != nil {
		fail(fmt.Errorf("persisting annotated recommendation: %w", err))
		return
	}
	if err := p.recs.UpdateStatus(rec.ID, recommend.StatusCompleted); err != nil {
		fail(fmt.Errorf("completing recommendation: %w", err))
		return
	}

	now := time.Now().UTC()
	p.mu.Lock()
	if entry, ok := p.status[rec.ID]; ok {
		entry.State = StateCompleted
		entry.CompletedAt = &now
		entry.Result = &Result{
			MeasurementCount:  len(result.Measurements),
			MemoriesExtracted: added,
			IsUpdate:          j.isUpdate,
			DeletedMemories:   deleted,
		}
	}
	p.mu.Unlock()

	p.logger.Info("feedback processed",
		zap.String("recommendation_id", rec.ID),
		zap.Int("memories_extracted", added),
		zap.Int("deleted_memories", deleted))
}
