package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/solventlab/des-agent-go/core"
)

// decision is the think phase's parsed output.
type decision struct {
	Action    string `json:"action"`
	Reasoning string `json:"reasoning"`
}

// observation is the observe phase's parsed output.
type observation struct {
	Summary           string   `json:"summary"`
	KnowledgeUpdated  []string `json:"knowledge_updated"`
	Insights          []string `json:"key_insights"`
	Gaps              []string `json:"information_gaps"`
	Sufficient        bool     `json:"information_sufficient"`
	RecommendedAction string   `json:"recommended_next_action"`
	Reasoning         string   `json:"recommendation_reasoning"`
}

// fallbackObservation builds a local observation when the model's cannot be
// used. It never claims sufficiency; the confidence override in the loop
// handles that.
func fallbackObservation(action string, res actResult) observation {
	return observation{
		Summary:           res.Summary,
		KnowledgeUpdated:  domainsUpdated(action, res),
		Sufficient:        false,
		RecommendedAction: ActionGenerateFormulation,
		Reasoning:         "local fallback after unusable model observation",
	}
}

// domainsUpdated names the knowledge domains a successful action touched.
func domainsUpdated(action string, res actResult) []string {
	if !res.Success {
		return nil
	}
	switch action {
	case ActionRetrieveMemories:
		return []string{"memories"}
	case ActionQueryTheory:
		return []string{"theory"}
	case ActionQueryLiterature:
		return []string{"literature"}
	case ActionQueryParallel:
		return []string{"theory", "literature"}
	case ActionGenerateFormulation, ActionRefineFormulation:
		return []string{"candidates"}
	}
	return nil
}

// extractJSON pulls the JSON payload out of a model response, stripping
// markdown fences and leading prose around the outermost object.
func extractJSON(output string) (string, error) {
	s := strings.TrimSpace(output)

	if idx := strings.Index(s, "```json"); idx >= 0 {
		s = s[idx+len("```json"):]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	} else if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in model output")
	}
	return s[start : end+1], nil
}

func parseDecision(output string) (decision, error) {
	var d decision
	payload, err := extractJSON(output)
	if err != nil {
		return d, err
	}
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return d, fmt.Errorf("parsing decision: %w", err)
	}
	if d.Action == "" {
		return d, fmt.Errorf("decision has no action")
	}
	return d, nil
}

func parseObservation(output string) (observation, error) {
	var o observation
	payload, err := extractJSON(output)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal([]byte(payload), &o); err != nil {
		return o, fmt.Errorf("parsing observation: %w", err)
	}
	return o, nil
}

// formulationPayload mirrors the generation JSON schema. Both the binary
// hbd/hba shape and the multi-component list are accepted.
type formulationPayload struct {
	Formulation struct {
		HBD        string           `json:"hbd"`
		HBA        string           `json:"hba"`
		Components []core.Component `json:"components"`
		MolarRatio string           `json:"molar_ratio"`
	} `json:"formulation"`
	Reasoning          string   `json:"reasoning"`
	Confidence         float64  `json:"confidence"`
	SupportingEvidence []string `json:"supporting_evidence"`
}

func parseFormulation(output string) (candidate, error) {
	var p formulationPayload
	payload, err := extractJSON(output)
	if err != nil {
		return candidate{}, err
	}
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return candidate{}, fmt.Errorf("parsing formulation: %w", err)
	}

	form := core.Formulation{
		HBD:        p.Formulation.HBD,
		HBA:        p.Formulation.HBA,
		Components: p.Formulation.Components,
		MolarRatio: p.Formulation.MolarRatio,
	}
	if form.IsZero() {
		return candidate{}, fmt.Errorf("formulation payload has no components")
	}

	conf := p.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return candidate{
		Formulation: form,
		Reasoning:   p.Reasoning,
		Confidence:  conf,
		Evidence:    p.SupportingEvidence,
	}, nil
}
