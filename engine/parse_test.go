package engine

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		fails bool
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`, false},
		{"json fence", "```json\n{\"a\": 1}\n```", "{\"a\": 1}", false},
		{"plain fence", "```\n{\"a\": 1}\n```", "{\"a\": 1}", false},
		{"leading prose", "Here is my answer:\n{\"a\": 1}\nHope that helps.", `{"a": 1}`, false},
		{"no object", "no json here", "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSON(tt.input)
			if tt.fails {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, got)
		})
	}
}

func TestParseDecision(t *testing.T) {
	d, err := parseDecision(`{"action": "query_theory", "reasoning": "need mechanism data"}`)
	require.NoError(t, err)
	assert.Equal(t, ActionQueryTheory, d.Action)
	assert.Equal(t, "need mechanism data", d.Reasoning)

	_, err = parseDecision(`{"reasoning": "no action field"}`)
	assert.Error(t, err)

	_, err = parseDecision("just words")
	assert.Error(t, err)
}

func TestParseFormulation_Binary(t *testing.T) {
	cand, err := parseFormulation(`{
		"formulation": {"hbd": "urea", "hba": "choline chloride", "molar_ratio": "2:1"},
		"reasoning": "classic reline",
		"confidence": 0.7,
		"supporting_evidence": ["Abbott 2003"]
	}`)
	require.NoError(t, err)
	assert.Equal(t, "urea : choline chloride (2:1)", cand.Formulation.DisplayString())
	assert.Equal(t, 0.7, cand.Confidence)
	assert.Equal(t, []string{"Abbott 2003"}, cand.Evidence)
}

func TestParseFormulation_MultiComponent(t *testing.T) {
	cand, err := parseFormulation(`{
		"formulation": {
			"components": [
				{"name": "choline chloride", "role": "HBA"},
				{"name": "ethylene glycol", "role": "HBD"},
				{"name": "thiourea", "role": "additive"}
			],
			"molar_ratio": "1:2:0.5"
		},
		"confidence": 0.6
	}`)
	require.NoError(t, err)
	assert.Len(t, cand.Formulation.Components, 3)
	assert.Contains(t, cand.Formulation.DisplayString(), " + ")
}

func TestParseFormulation_ClampsConfidence(t *testing.T) {
	cand, err := parseFormulation(`{"formulation": {"hbd": "urea", "hba": "ChCl", "molar_ratio": "2:1"}, "confidence": 1.8}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, cand.Confidence)

	cand, err = parseFormulation(`{"formulation": {"hbd": "urea", "hba": "ChCl", "molar_ratio": "2:1"}, "confidence": -2}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, cand.Confidence)
}

func TestParseFormulation_EmptyIsError(t *testing.T) {
	_, err := parseFormulation(`{"formulation": {}, "confidence": 0.9}`)
	assert.Error(t, err)
}

func TestParseObservation(t *testing.T) {
	obs, err := parseObservation(`{
		"summary": "theory confirmed HBD acidity matters",
		"knowledge_updated": ["theory"],
		"key_insights": ["acidity correlates with lignin solubility"],
		"information_gaps": ["no kinetics data"],
		"information_sufficient": true,
		"recommended_next_action": "generate_formulation",
		"recommendation_reasoning": "enough to propose"
	}`)
	require.NoError(t, err)
	assert.True(t, obs.Sufficient)
	assert.Equal(t, []string{"theory"}, obs.KnowledgeUpdated)
	assert.Equal(t, ActionGenerateFormulation, obs.RecommendedAction)
	assert.Len(t, obs.Insights, 1)
	assert.Len(t, obs.Gaps, 1)
}

func TestFallbackObservation(t *testing.T) {
	obs := fallbackObservation(ActionRetrieveMemories, actResult{Success: true, Summary: "retrieved 2 memories"})
	assert.False(t, obs.Sufficient)
	assert.Equal(t, ActionGenerateFormulation, obs.RecommendedAction)
	assert.Equal(t, "retrieved 2 memories", obs.Summary)
	assert.Equal(t, []string{"memories"}, obs.KnowledgeUpdated)

	// Nothing was gained from a failed action.
	obs = fallbackObservation(ActionQueryTheory, actResult{Summary: "theory query failed"})
	assert.Empty(t, obs.KnowledgeUpdated)
}

func TestDomainsUpdated(t *testing.T) {
	ok := actResult{Success: true}
	assert.Equal(t, []string{"theory", "literature"}, domainsUpdated(ActionQueryParallel, ok))
	assert.Equal(t, []string{"candidates"}, domainsUpdated(ActionRefineFormulation, ok))
	assert.Nil(t, domainsUpdated(ActionFinish, ok))
	assert.Nil(t, domainsUpdated(ActionQueryTheory, actResult{}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
	got := truncate("héllo", 2)
	assert.Equal(t, "h...", got)
	assert.True(t, utf8.ValidString(got))
}

func TestStageFor(t *testing.T) {
	// 8-iteration run: 1-3 early, 4-5 mid, 6-8 late.
	assert.Equal(t, StageEarly, stageFor(1, 8))
	assert.Equal(t, StageEarly, stageFor(3, 8))
	assert.Equal(t, StageMid, stageFor(4, 8))
	assert.Equal(t, StageMid, stageFor(5, 8))
	assert.Equal(t, StageLate, stageFor(6, 8))
	assert.Equal(t, StageLate, stageFor(8, 8))
}

func TestValidAction(t *testing.T) {
	for _, a := range []string{
		ActionRetrieveMemories, ActionQueryTheory, ActionQueryLiterature,
		ActionQueryParallel, ActionGenerateFormulation, ActionRefineFormulation,
		ActionFinish,
	} {
		assert.True(t, validAction(a), a)
	}
	assert.False(t, validAction("make_coffee"))
	assert.False(t, validAction(""))
}
