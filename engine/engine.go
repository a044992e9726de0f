// Package engine runs the bounded Think-Act-Observe loop that turns a
// formulation task into a recommendation.
//
// Each iteration asks the model to pick the next action, executes it against
// the memory bank and knowledge sources, and asks the model to assess what
// was learned. The loop is bounded: it always terminates within the
// configured iteration budget, and if no candidate formulation exists at
// termination one final generation is forced so a run never ends
// empty-handed.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/solventlab/des-agent-go/core"
	"github.com/solventlab/des-agent-go/memory"
	"github.com/solventlab/des-agent-go/recommend"
)

// Loop actions the model may choose.
const (
	ActionRetrieveMemories    = "retrieve_memories"
	ActionQueryTheory         = "query_theory"
	ActionQueryLiterature     = "query_literature"
	ActionQueryParallel       = "query_parallel"
	ActionGenerateFormulation = "generate_formulation"
	ActionRefineFormulation   = "refine_formulation"
	ActionFinish              = "finish"
)

// Config bounds the reasoning loop.
type Config struct {
	// MaxIterations is the hard iteration budget.
	MaxIterations int

	// SufficiencyConfidence forces information_sufficient once any
	// candidate reaches this confidence.
	SufficiencyConfidence float64

	// EarlyExitConfidence ends the run immediately once any candidate
	// reaches this confidence.
	EarlyExitConfidence float64

	// MaxSourceFailures is how many times a knowledge source may fail
	// before the loop stops routing queries to it.
	MaxSourceFailures int

	// RetrievalTopK and MinSimilarity tune memory retrieval.
	RetrievalTopK int
	MinSimilarity float64
}

// DefaultConfig returns the standard loop bounds.
func DefaultConfig() Config {
	return Config{
		MaxIterations:         8,
		SufficiencyConfidence: 0.6,
		EarlyExitConfidence:   0.75,
		MaxSourceFailures:     2,
		RetrievalTopK:         3,
		MinSimilarity:         0.0,
	}
}

// Controller orchestrates reasoning runs. All collaborators are injected;
// the only required one is the generator. Without a memory store the
// retrieve action reports no history; without a knowledge source its
// queries report unavailable.
type Controller struct {
	gen        core.Generator
	memories   *memory.Store
	theory     core.KnowledgeSource
	literature core.KnowledgeSource
	recs       *recommend.Store
	cfg        Config
	logger     *zap.Logger
}

// Option configures the controller.
type Option func(*Controller)

// WithMemoryStore attaches the experience bank.
func WithMemoryStore(s *memory.Store) Option {
	return func(c *Controller) { c.memories = s }
}

// WithTheorySource attaches the theoretical knowledge capability.
func WithTheorySource(src core.KnowledgeSource) Option {
	return func(c *Controller) { c.theory = src }
}

// WithLiteratureSource attaches the literature search capability.
func WithLiteratureSource(src core.KnowledgeSource) Option {
	return func(c *Controller) { c.literature = src }
}

// WithRecommendationStore attaches persistence for SolveTask.
func WithRecommendationStore(s *recommend.Store) Option {
	return func(c *Controller) { c.recs = s }
}

// WithConfig overrides the loop bounds.
func WithConfig(cfg Config) Option {
	return func(c *Controller) {
		if cfg.MaxIterations > 0 {
			c.cfg = cfg
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewController creates a controller around the given generator.
func NewController(gen core.Generator, opts ...Option) *Controller {
	c := &Controller{
		gen:    gen,
		cfg:    DefaultConfig(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// candidate is one proposed formulation produced during the run.
type candidate struct {
	Formulation core.Formulation
	Reasoning   string
	Confidence  float64
	Evidence    []string
}

// knowledgeState accumulates everything one run has learned. It is owned by
// a single run and discarded when the run ends; nothing here leaks between
// tasks.
type knowledgeState struct {
	memories          []memory.Scored
	memoriesRetrieved bool

	theory     []*core.KnowledgeResult
	literature []*core.KnowledgeResult

	failedTheory     int
	failedLiterature int

	candidates   []candidate
	observations []observation
}

func (k *knowledgeState) best() *candidate {
	var best *candidate
	for i := range k.candidates {
		if best == nil || k.candidates[i].Confidence > best.Confidence {
			best = &k.candidates[i]
		}
	}
	return best
}

func (k *knowledgeState) sourcesUsed() []string {
	var s []string
	if len(k.memories) > 0 {
		s = append(s, "memories")
	}
	if len(k.theory) > 0 {
		s = append(s, "theory")
	}
	if len(k.literature) > 0 {
		s = append(s, "literature")
	}
	return s
}

// SolveTask runs the full pipeline: persist a GENERATING placeholder, run
// the reasoning loop, and replace the placeholder with the outcome under
// the same ID. A loop failure is recorded as a FAILED recommendation and
// returned as an error.
func (c *Controller) SolveTask(ctx context.Context, task core.Task) (*recommend.Recommendation, error) {
	if c.recs == nil {
		return nil, fmt.Errorf("controller has no recommendation store")
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	placeholder := recommend.NewPlaceholder(task, time.Now().UTC())
	if err := c.recs.Save(placeholder); err != nil {
		return nil, fmt.Errorf("saving placeholder: %w", err)
	}

	result, traj, err := c.Run(ctx, task)
	if err != nil {
		if failErr := c.recs.Fail(placeholder.ID, err.Error()); failErr != nil {
			c.logger.Error("marking recommendation failed", zap.Error(failErr))
		}
		return nil, err
	}

	traj.Outcome = core.OutcomePendingExperiment
	traj.SetMeta("recommendation_id", placeholder.ID)

	rec := placeholder
	rec.Formulation = result.Formulation
	rec.Reasoning = result.Reasoning
	rec.Confidence = result.Confidence
	rec.SupportingEvidence = result.SupportingEvidence
	rec.Trajectory = traj
	rec.Status = recommend.StatusPending
	if err := c.recs.Save(rec); err != nil {
		return nil, fmt.Errorf("saving recommendation: %w", err)
	}
	return rec, nil
}

// Run executes the reasoning loop for one task and returns the final result
// with its trajectory. Run does not touch the recommendation store.
func (c *Controller) Run(ctx context.Context, task core.Task) (*core.RunResult, *core.Trajectory, error) {
	if err := task.Validate(); err != nil {
		return nil, nil, err
	}

	traj := &core.Trajectory{
		TaskID:    task.ID,
		StartedAt: time.Now().UTC(),
	}
	traj.SetMeta("target_material", task.TargetMaterial)

	state := &knowledgeState{}
	finished := false

	for iter := 1; iter <= c.cfg.MaxIterations && !finished; iter++ {
		if err := ctx.Err(); err != nil {
			traj.EndedAt = time.Now().UTC()
			return nil, traj, fmt.Errorf("run cancelled: %w", err)
		}

		decision := c.think(ctx, task, state, iter)
		traj.AddStep(iter, core.PhaseThink, decision.Reasoning, decision.Action, "")
		c.logger.Info("think",
			zap.Int("iteration", iter),
			zap.String("action", decision.Action))

		if decision.Action == ActionFinish {
			finished = true
			traj.AddStep(iter, core.PhaseAct, "", ActionFinish, "loop finished")
			break
		}

		actResult := c.act(ctx, task, state, decision.Action)
		traj.AddStep(iter, core.PhaseAct, "", decision.Action, actResult.Summary)

		obs := c.observe(ctx, task, state, decision.Action, actResult, iter)
		state.observations = append(state.observations, obs)
		traj.AddStep(iter, core.PhaseObserve, obs.Summary, "", obs.RecommendedAction)

		if best := state.best(); best != nil && best.Confidence >= c.cfg.EarlyExitConfidence {
			c.logger.Info("early exit on high-confidence candidate",
				zap.Float64("confidence", best.Confidence))
			finished = true
		}
	}

	// A run must never end without a proposal. If the loop spent its
	// budget gathering knowledge, force one generation from whatever is
	// on hand.
	if state.best() == nil {
		c.logger.Info("no candidate at termination, forcing final generation")
		actResult := c.act(ctx, task, state, ActionGenerateFormulation)
		traj.AddStep(c.cfg.MaxIterations, core.PhaseAct, "forced final generation",
			ActionGenerateFormulation, actResult.Summary)
	}

	traj.EndedAt = time.Now().UTC()

	best := state.best()
	if best == nil {
		return nil, traj, fmt.Errorf("no formulation produced after %d iterations", c.cfg.MaxIterations)
	}

	result := &core.RunResult{
		Formulation:        best.Formulation,
		Reasoning:          best.Reasoning,
		Confidence:         best.Confidence,
		SupportingEvidence: best.Evidence,
		Sources:            state.sourcesUsed(),
		NextSteps:          nextSteps(best),
		Iterations:         len(iterations(traj)),
	}
	traj.Final = result
	return result, traj, nil
}

// think asks the model for the next action. Any generation or parse failure
// falls back to a deterministic decision so the loop always advances.
func (c *Controller) think(ctx context.Context, task core.Task, state *knowledgeState, iter int) decision {
	prompt := buildThinkPrompt(task, state, iter, c.cfg.MaxIterations)
	output, err := c.gen.Generate(ctx, prompt)
	if err != nil {
		c.logger.Warn("think generation failed, using fallback", zap.Error(err))
		return c.fallbackDecision(state)
	}
	d, err := parseDecision(output)
	if err != nil || !validAction(d.Action) {
		c.logger.Warn("think output unparseable, using fallback", zap.Error(err))
		return c.fallbackDecision(state)
	}
	return d
}

// fallbackDecision is the deterministic chain used when the model cannot
// decide: history first, then external knowledge, then generation. Only this
// path hard-blocks an exhausted source; a model-chosen action is executed as
// picked, with the failure history surfacing through its prompt instead.
func (c *Controller) fallbackDecision(state *knowledgeState) decision {
	if !state.memoriesRetrieved {
		return decision{
			Action:    ActionRetrieveMemories,
			Reasoning: "fallback: no prior experience consulted yet",
		}
	}

	theoryDown := state.failedTheory >= c.cfg.MaxSourceFailures
	litDown := state.failedLiterature >= c.cfg.MaxSourceFailures
	theoryFresh := len(state.theory) == 0 && !theoryDown && c.theory != nil
	litFresh := len(state.literature) == 0 && !litDown && c.literature != nil

	switch {
	case theoryFresh && litFresh:
		return decision{Action: ActionQueryParallel, Reasoning: "fallback: no external knowledge gathered yet"}
	case theoryFresh:
		return decision{Action: ActionQueryTheory, Reasoning: "fallback: theory not yet consulted"}
	case litFresh:
		return decision{Action: ActionQueryLiterature, Reasoning: "fallback: literature not yet consulted"}
	}
	return decision{Action: ActionGenerateFormulation, Reasoning: "fallback: generate from available knowledge"}
}

// actResult is what one executed action reports back into the loop.
type actResult struct {
	Success bool
	Summary string
}

func (c *Controller) act(ctx context.Context, task core.Task, state *knowledgeState, action string) actResult {
	switch action {
	case ActionRetrieveMemories:
		return c.actRetrieveMemories(ctx, task, state)
	case ActionQueryTheory:
		return c.actQuerySource(ctx, task, state, c.theory, "theory")
	case ActionQueryLiterature:
		return c.actQuerySource(ctx, task, state, c.literature, "literature")
	case ActionQueryParallel:
		return c.actQueryParallel(ctx, task, state)
	case ActionGenerateFormulation, ActionRefineFormulation:
		return c.actGenerate(ctx, task, state, action == ActionRefineFormulation)
	default:
		return actResult{Summary: fmt.Sprintf("unknown action %q skipped", action)}
	}
}

// actRetrieveMemories queries the experience bank. Retrieval failure is
// absorbed: the run continues with no historical context.
func (c *Controller) actRetrieveMemories(ctx context.Context, task core.Task, state *knowledgeState) actResult {
	state.memoriesRetrieved = true
	if c.memories == nil {
		return actResult{Success: true, Summary: "no memory bank configured"}
	}
	scored, err := c.memories.Retrieve(ctx, memory.Query{
		Text:          task.Description,
		TopK:          c.cfg.RetrievalTopK,
		MinSimilarity: c.cfg.MinSimilarity,
	})
	if err != nil {
		c.logger.Warn("memory retrieval failed", zap.Error(err))
		return actResult{Summary: fmt.Sprintf("memory retrieval failed: %v", err)}
	}
	state.memories = scored
	return actResult{
		Success: true,
		Summary: fmt.Sprintf("retrieved %d memories", len(scored)),
	}
}

// actQuerySource queries one knowledge source, tracking failures so the
// fallback chain can stop routing to a capability that yields nothing. The
// collaborator is always called once; exhaustion never short-circuits a
// chosen query.
func (c *Controller) actQuerySource(ctx context.Context, task core.Task, state *knowledgeState, src core.KnowledgeSource, kind string) actResult {
	if src == nil {
		return actResult{Summary: kind + " source not configured"}
	}
	failures := &state.failedTheory
	bucket := &state.theory
	if kind == "literature" {
		failures = &state.failedLiterature
		bucket = &state.literature
	}

	res, err := src.Query(ctx, &core.KnowledgeRequest{
		Query: task.Description,
		Focus: []string{task.TargetMaterial},
		TopK:  c.cfg.RetrievalTopK,
	})
	if err != nil {
		*failures++
		c.logger.Warn("knowledge query failed",
			zap.String("source", kind),
			zap.Int("failures", *failures),
			zap.Error(err))
		return actResult{Summary: fmt.Sprintf("%s query failed: %v", kind, err)}
	}
	if res == nil {
		// A healthy source with nothing relevant still counts toward the
		// failure cap, otherwise the fallback chain would keep re-selecting
		// a source that answers empty every round.
		*failures++
		return actResult{Success: true, Summary: kind + " returned no relevant knowledge"}
	}
	*bucket = append(*bucket, res)
	return actResult{
		Success: true,
		Summary: fmt.Sprintf("%s returned %d chars of knowledge", kind, len(res.Content)),
	}
}

// actQueryParallel fans out to both sources. Both goroutines are always
// joined, and a failure on one side never hides the other's result.
func (c *Controller) actQueryParallel(ctx context.Context, task core.Task, state *knowledgeState) actResult {
	theoryState := &knowledgeState{failedTheory: state.failedTheory}
	litState := &knowledgeState{failedLiterature: state.failedLiterature}

	var wg sync.WaitGroup
	var theoryRes, litRes actResult
	wg.Add(2)
	go func() {
		defer wg.Done()
		theoryRes = c.actQuerySource(ctx, task, theoryState, c.theory, "theory")
	}()
	go func() {
		defer wg.Done()
		litRes = c.actQuerySource(ctx, task, litState, c.literature, "literature")
	}()
	wg.Wait()

	state.theory = append(state.theory, theoryState.theory...)
	state.literature = append(state.literature, litState.literature...)
	state.failedTheory = theoryState.failedTheory
	state.failedLiterature = litState.failedLiterature

	return actResult{
		Success: theoryRes.Success || litRes.Success,
		Summary: fmt.Sprintf("parallel query: theory[%s] literature[%s]", theoryRes.Summary, litRes.Summary),
	}
}

// actGenerate asks the model for a formulation. An unparseable response
// still yields a low-confidence candidate carrying the raw text, matching
// the rule that a run never ends without a proposal.
func (c *Controller) actGenerate(ctx context.Context, task core.Task, state *knowledgeState, refine bool) actResult {
	prompt := buildFormulationPrompt(task, state, refine)
	output, err := c.gen.Generate(ctx, prompt)
	if err != nil {
		c.logger.Warn("formulation generation failed", zap.Error(err))
		return actResult{Summary: fmt.Sprintf("formulation generation failed: %v", err)}
	}

	cand, err := parseFormulation(output)
	if err != nil {
		c.logger.Warn("formulation output unparseable, keeping raw text", zap.Error(err))
		cand = candidate{
			Reasoning:  truncate(output, 500),
			Confidence: 0.5,
		}
	}
	state.candidates = append(state.candidates, cand)
	return actResult{
		Success: true,
		Summary: fmt.Sprintf("proposed %s (confidence %.2f)",
			cand.Formulation.DisplayString(), cand.Confidence),
	}
}

// observe asks the model to assess the action's outcome. Parse or
// generation failure degrades to a deterministic local observation.
func (c *Controller) observe(ctx context.Context, task core.Task, state *knowledgeState, action string, res actResult, iter int) observation {
	prompt := buildObservePrompt(task, state, action, res, iter, c.cfg.MaxIterations)
	output, err := c.gen.Generate(ctx, prompt)

	var obs observation
	if err != nil {
		c.logger.Warn("observe generation failed, using local observation", zap.Error(err))
		obs = fallbackObservation(action, res)
	} else if parsed, perr := parseObservation(output); perr != nil {
		c.logger.Warn("observe output unparseable, using local observation", zap.Error(perr))
		obs = fallbackObservation(action, res)
	} else {
		obs = parsed
	}

	// Confidence overrides the model's sufficiency judgement.
	if best := state.best(); best != nil && best.Confidence >= c.cfg.SufficiencyConfidence {
		obs.Sufficient = true
	}
	return obs
}

func validAction(a string) bool {
	switch a {
	case ActionRetrieveMemories, ActionQueryTheory, ActionQueryLiterature,
		ActionQueryParallel, ActionGenerateFormulation, ActionRefineFormulation,
		ActionFinish:
		return true
	}
	return false
}

func iterations(traj *core.Trajectory) map[int]bool {
	seen := make(map[int]bool)
	for _, s := range traj.Steps {
		seen[s.Iteration] = true
	}
	return seen
}

func nextSteps(best *candidate) string {
	if best.Formulation.IsZero() {
		return "Review the reasoning output manually; the run did not produce a structured formulation."
	}
	return fmt.Sprintf("Prepare %s, confirm liquid phase formation at the target temperature, then measure leaching efficiency over time.",
		best.Formulation.DisplayString())
}

// truncate shortens s to at most n bytes, backing up to a rune boundary so
// the kept prefix stays valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
