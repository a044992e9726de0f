package engine

import (
	"fmt"
	"strings"

	"github.com/solventlab/des-agent-go/core"
)

// Stage buckets by loop progress. Early runs gather knowledge, late runs
// must converge on a formulation.
const (
	StageEarly = "early"
	StageMid   = "mid"
	StageLate  = "late"
)

// stageFor buckets iteration progress: early below 40%, late at 75% and up.
func stageFor(iter, max int) string {
	progress := float64(iter) / float64(max)
	switch {
	case progress < 0.40:
		return StageEarly
	case progress < 0.75:
		return StageMid
	default:
		return StageLate
	}
}

func progressPct(iter, max int) int {
	return int(float64(iter) / float64(max) * 100)
}

func describeTask(task core.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", task.Description)
	fmt.Fprintf(&b, "Target material: %s\n", task.TargetMaterial)
	fmt.Fprintf(&b, "Target temperature: %g C\n", task.TargetTemperatureC)
	if task.ComponentCount > 0 {
		fmt.Fprintf(&b, "Required components: %d\n", task.ComponentCount)
	}
	for k, v := range task.Constraints {
		fmt.Fprintf(&b, "Constraint %s: %s\n", k, v)
	}
	return b.String()
}

func describeState(state *knowledgeState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Memories retrieved: %t (%d items)\n", state.memoriesRetrieved, len(state.memories))
	fmt.Fprintf(&b, "Theory queries completed: %d (failed: %d)\n", len(state.theory), state.failedTheory)
	fmt.Fprintf(&b, "Literature queries completed: %d (failed: %d)\n", len(state.literature), state.failedLiterature)
	fmt.Fprintf(&b, "Formulation candidates: %d\n", len(state.candidates))
	fmt.Fprintf(&b, "Observations recorded: %d\n", len(state.observations))
	return b.String()
}

// describeKnowledge renders the accumulated content for generation prompts.
func describeKnowledge(state *knowledgeState) string {
	var b strings.Builder

	if len(state.memories) > 0 {
		b.WriteString("## Prior experience\n")
		for _, m := range state.memories {
			fmt.Fprintf(&b, "- [%.2f] %s: %s\n", m.Score, m.Record.Title, m.Record.Content)
		}
	}
	if len(state.theory) > 0 {
		b.WriteString("## Theoretical knowledge\n")
		for _, r := range state.theory {
			fmt.Fprintf(&b, "%s\n", r.Content)
		}
	}
	if len(state.literature) > 0 {
		b.WriteString("## Literature findings\n")
		for _, r := range state.literature {
			fmt.Fprintf(&b, "%s\n", r.Content)
			for _, ref := range r.References {
				fmt.Fprintf(&b, "  ref: %s\n", ref)
			}
		}
	}
	if b.Len() == 0 {
		b.WriteString("No external knowledge gathered. Rely on general chemistry principles.\n")
	}
	return b.String()
}

func recentObservations(state *knowledgeState, n int) string {
	obs := state.observations
	if len(obs) > n {
		obs = obs[len(obs)-n:]
	}
	if len(obs) == 0 {
		return "None yet.\n"
	}
	var b strings.Builder
	for _, o := range obs {
		fmt.Fprintf(&b, "- %s\n", o.Summary)
		for _, gap := range o.Gaps {
			fmt.Fprintf(&b, "  gap: %s\n", gap)
		}
	}
	return b.String()
}

func buildThinkPrompt(task core.Task, state *knowledgeState, iter, max int) string {
	return fmt.Sprintf(`You are designing a deep eutectic solvent (DES) formulation. Decide the single next action.

%s
Iteration %d/%d (%d%% complete, %s stage)

Current knowledge state:
%s
Recent observations:
%s
Available actions: retrieve_memories, query_theory, query_literature, query_parallel, generate_formulation, refine_formulation, finish

Rules:
- Consult prior experience (retrieve_memories) before external sources.
- If a source has failed %d or more times this run, do not pick it again.
- In the late stage prefer generate_formulation or refine_formulation.
- Pick finish only when a satisfactory candidate already exists.

Respond with ONLY a JSON object:
{"action": "<action_name>", "reasoning": "<one sentence>"}`,
		describeTask(task), iter, max, progressPct(iter, max), stageFor(iter, max),
		describeState(state), recentObservations(state, 2), 2)
}

func buildFormulationPrompt(task core.Task, state *knowledgeState, refine bool) string {
	intro := "Propose a deep eutectic solvent formulation for this task."
	if refine {
		best := state.best()
		prev := "none"
		if best != nil {
			prev = fmt.Sprintf("%s, confidence %.2f, reasoning: %s",
				best.Formulation.DisplayString(), best.Confidence, best.Reasoning)
		}
		intro = fmt.Sprintf("Refine the current best formulation proposal.\nCurrent best: %s", prev)
	}

	components := ""
	if task.ComponentCount > 2 {
		components = fmt.Sprintf(`For a %d-component system respond with a components list instead of hbd/hba:
"formulation": {"components": [{"name": "...", "role": "HBA|HBD|additive", "function": "..."}], "molar_ratio": "1:2:0.5"}
`, task.ComponentCount)
	}

	return fmt.Sprintf(`%s

%s
Gathered knowledge:
%s
%sRespond with ONLY a JSON object:
{
  "formulation": {"hbd": "...", "hba": "...", "molar_ratio": "1:2"},
  "reasoning": "<why this composition suits the task>",
  "confidence": 0.0,
  "supporting_evidence": ["<citation or memory title>"]
}`,
		intro, describeTask(task), describeKnowledge(state), components)
}

func buildObservePrompt(task core.Task, state *knowledgeState, action string, res actResult, iter, max int) string {
	return fmt.Sprintf(`You are analyzing the result of a research action in DES formulation design.

%s
Iteration %d/%d (%d%% complete, %s stage)

Action executed: %s
Action success: %t
Action result: %s

Current knowledge state:
%s
Recent observations:
%s
Guidelines:
- Empty retrieval results are acceptable, not failures.
- Early stage needs memories OR theory+literature before generating; mid stage needs at least 2 knowledge sources; late stage should generate even with limited knowledge.
- If a source has failed 2+ times, do not recommend it again.

Respond with ONLY a JSON object:
{
  "summary": "<1-2 sentences on what was gained or lost>",
  "knowledge_updated": ["<memories|theory|literature|candidates>"],
  "key_insights": ["<insight>"],
  "information_gaps": ["<specific gap>"],
  "information_sufficient": false,
  "recommended_next_action": "<action_name>",
  "recommendation_reasoning": "<one sentence>"
}`,
		describeTask(task), iter, max, progressPct(iter, max), stageFor(iter, max),
		action, res.Success, res.Summary,
		describeState(state), recentObservations(state, 2))
}
