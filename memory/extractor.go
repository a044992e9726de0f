package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/solventlab/des-agent-go/core"
)

// DefaultMaxItemsPerTrajectory caps how many records one extraction keeps.
const DefaultMaxItemsPerTrajectory = 3

// Extractor distills trajectories and lab results into memory records using
// an LLM. The model is asked for a fixed markdown block format; anything it
// emits outside that format is ignored rather than treated as an error.
type Extractor struct {
	gen      core.Generator
	maxItems int
	logger   *zap.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithMaxItems overrides the per-trajectory record cap.
func WithMaxItems(n int) ExtractorOption {
	return func(e *Extractor) {
		if n > 0 {
			e.maxItems = n
		}
	}
}

// WithExtractorLogger sets the logger.
func WithExtractorLogger(l *zap.Logger) ExtractorOption {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExtractor creates an extractor backed by the given generator.
func NewExtractor(gen core.Generator, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		gen:      gen,
		maxItems: DefaultMaxItemsPerTrajectory,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractFromTrajectory distills a finished run into records. The origin
// selects the prompt: success runs yield strategies, failed runs yield
// pitfalls. A generator failure returns the error with no records; an
// unparseable response returns no records and no error.
func (e *Extractor) ExtractFromTrajectory(ctx context.Context, traj *core.Trajectory, origin Origin) ([]*Record, error) {
	var template string
	switch origin {
	case OriginSuccess:
		template = successExtractionPrompt
	case OriginFailure:
		template = failureExtractionPrompt
	default:
		return nil, ErrInvalidOrigin
	}

	prompt := fmt.Sprintf(template, formatTrajectory(traj))
	output, err := e.gen.Generate(ctx, prompt)
	if err != nil {
		e.logger.Error("extraction generation failed", zap.Error(err))
		return nil, fmt.Errorf("extraction generation: %w", err)
	}

	records := e.buildRecords(parseExtractedBlocks(output), traj, origin)
	e.logger.Info("extracted memories from trajectory",
		zap.String("task_id", traj.TaskID),
		zap.String("origin", string(origin)),
		zap.Int("count", len(records)))
	return records, nil
}

// ExtractFromExperiment distills lab measurements into records. Unlike the
// trajectory path there is no success/failure split: the measurements speak
// for themselves, and every record is tagged with the measured outcome.
func (e *Extractor) ExtractFromExperiment(ctx context.Context, traj *core.Trajectory, result *core.ExperimentResult) ([]*Record, error) {
	prompt := fmt.Sprintf(experimentExtractionPrompt,
		formatTrajectory(traj), formatExperiment(result))
	output, err := e.gen.Generate(ctx, prompt)
	if err != nil {
		e.logger.Error("experiment extraction generation failed", zap.Error(err))
		return nil, fmt.Errorf("experiment extraction generation: %w", err)
	}

	records := e.buildRecords(parseExtractedBlocks(output), traj, OriginExperiment)
	for _, rec := range records {
		rec.Metadata["is_liquid_formed"] = strconv.FormatBool(result.IsLiquidFormed)
		if best, unit, ok := result.BestEfficiency(); ok {
			rec.Metadata["best_efficiency"] = strconv.FormatFloat(best, 'g', -1, 64)
			rec.Metadata["efficiency_unit"] = unit
		}
		if !result.Date.IsZero() {
			rec.Metadata["experiment_date"] = result.Date.Format("2006-01-02")
		}
	}
	e.logger.Info("extracted memories from experiment",
		zap.String("task_id", traj.TaskID),
		zap.Int("count", len(records)))
	return records, nil
}

// buildRecords converts parsed candidates to validated records, skipping any
// candidate with a missing field.
func (e *Extractor) buildRecords(candidates []extractedBlock, traj *core.Trajectory, origin Origin) []*Record {
	if len(candidates) > e.maxItems {
		candidates = candidates[:e.maxItems]
	}
	records := make([]*Record, 0, len(candidates))
	for _, c := range candidates {
		rec, err := NewRecord(c.title, c.description, c.content, origin)
		if err != nil {
			e.logger.Warn("skipping malformed memory candidate", zap.Error(err))
			continue
		}
		rec.SourceTaskID = traj.TaskID
		if tm, ok := traj.Metadata["target_material"]; ok {
			rec.Metadata["target_material"] = tm
		}
		records = append(records, rec)
	}
	return records
}

type extractedBlock struct {
	title, description, content string
}

// parseExtractedBlocks parses the block format:
//
//	# Memory Item N
//	## Title: ...
//	## Description: ...
//	## Content: ...
//
// Field text may continue over following lines. Lines outside any field are
// ignored.
func parseExtractedBlocks(output string) []extractedBlock {
	var blocks []extractedBlock
	var cur extractedBlock
	var curField *string
	started := false

	flush := func() {
		if started {
			blocks = append(blocks, cur)
		}
		cur = extractedBlock{}
		curField = nil
	}

	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "# Memory Item"):
			flush()
			started = true
		case strings.HasPrefix(line, "## Title:"):
			cur.title = strings.TrimSpace(strings.TrimPrefix(line, "## Title:"))
			curField = &cur.title
			started = true
		case strings.HasPrefix(line, "## Description:"):
			cur.description = strings.TrimSpace(strings.TrimPrefix(line, "## Description:"))
			curField = &cur.description
			started = true
		case strings.HasPrefix(line, "## Content:"):
			cur.content = strings.TrimSpace(strings.TrimPrefix(line, "## Content:"))
			curField = &cur.content
			started = true
		case line != "" && curField != nil && !strings.HasPrefix(line, "#"):
			if *curField != "" {
				*curField += " "
			}
			*curField += line
		}
	}
	flush()
	return blocks
}

// formatTrajectory renders a trajectory for extraction prompts.
func formatTrajectory(traj *core.Trajectory) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", traj.TaskID)
	if tm, ok := traj.Metadata["target_material"]; ok {
		fmt.Fprintf(&b, "Target material: %s\n", tm)
	}
	for _, step := range traj.Steps {
		fmt.Fprintf(&b, "[iter %d] %s", step.Iteration, step.Phase)
		if step.Action != "" {
			fmt.Fprintf(&b, " action=%s", step.Action)
		}
		b.WriteString("\n")
		if step.Reasoning != "" {
			fmt.Fprintf(&b, "  reasoning: %s\n", step.Reasoning)
		}
		if step.Result != "" {
			fmt.Fprintf(&b, "  result: %s\n", step.Result)
		}
	}
	if traj.Final != nil {
		fmt.Fprintf(&b, "Final formulation: %s (confidence %.2f)\n",
			traj.Final.Formulation.DisplayString(), traj.Final.Confidence)
		if traj.Final.Reasoning != "" {
			fmt.Fprintf(&b, "Final reasoning: %s\n", traj.Final.Reasoning)
		}
	}
	return b.String()
}

// formatExperiment renders lab results for the experiment prompt.
func formatExperiment(result *core.ExperimentResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Liquid phase formed: %t\n", result.IsLiquidFormed)
	if result.Conditions != nil {
		if result.Conditions.TemperatureC != nil {
			fmt.Fprintf(&b, "Temperature: %g C\n", *result.Conditions.TemperatureC)
		}
		if slr := result.Conditions.SolidLiquidRatio; slr != nil {
			fmt.Fprintf(&b, "Solid/liquid ratio: %g g / %g mL\n", slr.SolidMassG, slr.LiquidVolumeML)
		}
	}
	for _, m := range result.Measurements {
		fmt.Fprintf(&b, "- %s at %gh: ", m.TargetMaterial, m.TimeHours)
		if m.Efficiency != nil {
			fmt.Fprintf(&b, "%g%s", *m.Efficiency, m.Unit)
		} else {
			b.WriteString("no quantitative result")
		}
		if m.Observation != "" {
			fmt.Fprintf(&b, " (%s)", m.Observation)
		}
		b.WriteString("\n")
	}
	for k, v := range result.Properties {
		fmt.Fprintf(&b, "Property %s: %s\n", k, v)
	}
	if result.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", result.Notes)
	}
	return b.String()
}

const successExtractionPrompt = `You are distilling reusable formulation strategies from a successful solvent design run.

Extract up to 3 generalizable insights that would help design deep eutectic solvents for similar tasks. Focus on why the chosen components and ratios worked.

Respond ONLY in this format:

# Memory Item 1
## Title: <one line>
## Description: <one or two sentences>
## Content: <the full lesson>

Run transcript:
%s`

const failureExtractionPrompt = `You are distilling pitfalls from a failed solvent design run.

Extract up to 3 generalizable warnings that would prevent similar failures: dead-end component pairs, ratio mistakes, misread constraints.

Respond ONLY in this format:

# Memory Item 1
## Title: <one line>
## Description: <one or two sentences>
## Content: <the full lesson>

Run transcript:
%s`

const experimentExtractionPrompt = `You are distilling validated knowledge from laboratory results for a recommended solvent formulation.

Extract up to 3 data-driven insights mapping formulation and conditions to measured performance. Prefer quantitative statements (component ratios, temperatures, leaching efficiencies over time).

Respond ONLY in this format:

# Memory Item 1
## Title: <one line>
## Description: <one or two sentences>
## Content: <the full lesson>

Run transcript:
%s

Laboratory results:
%s`
