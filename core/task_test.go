package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskValidate(t *testing.T) {
	tests := []struct {
		name    string
		task    Task
		wantErr error
	}{
		{
			name: "valid",
			task: Task{Description: "dissolve cathode material", TargetMaterial: "LiCoO2"},
		},
		{
			name:    "empty description",
			task:    Task{TargetMaterial: "LiCoO2"},
			wantErr: ErrEmptyDescription,
		},
		{
			name:    "whitespace description",
			task:    Task{Description: "   ", TargetMaterial: "LiCoO2"},
			wantErr: ErrEmptyDescription,
		},
		{
			name:    "empty target",
			task:    Task{Description: "dissolve cathode material"},
			wantErr: ErrEmptyTarget,
		},
		{
			name:    "single component",
			task:    Task{Description: "x", TargetMaterial: "y", ComponentCount: 1},
			wantErr: ErrInvalidComponents,
		},
		{
			name: "ternary ok",
			task: Task{Description: "x", TargetMaterial: "y", ComponentCount: 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestFormulationDisplayString(t *testing.T) {
	binary := Formulation{HBD: "urea", HBA: "choline chloride", MolarRatio: "2:1"}
	assert.Equal(t, "urea : choline chloride (2:1)", binary.DisplayString())

	ternary := Formulation{
		Components: []Component{
			{Name: "choline chloride", Role: "HBA"},
			{Name: "ethylene glycol", Role: "HBD"},
			{Name: "thiourea", Role: "additive"},
		},
		MolarRatio: "1:2:0.5",
	}
	assert.Equal(t, "choline chloride + ethylene glycol + thiourea (1:2:0.5)", ternary.DisplayString())

	empty := Formulation{MolarRatio: "1:1"}
	assert.Equal(t, "Unknown formulation (1:1)", empty.DisplayString())
	assert.True(t, empty.IsZero())
	assert.False(t, binary.IsZero())
}

func TestFormulationComponentNames(t *testing.T) {
	binary := Formulation{HBD: "glycerol", HBA: "betaine", MolarRatio: "1:1"}
	assert.Equal(t, []string{"glycerol", "betaine"}, binary.ComponentNames())

	var none Formulation
	assert.Nil(t, none.ComponentNames())
}

func TestTrajectoryAddStep(t *testing.T) {
	traj := &Trajectory{TaskID: "task-1"}
	traj.AddStep(1, PhaseThink, "need prior experience", "retrieve_memories", "")
	traj.AddStep(1, PhaseAct, "", "retrieve_memories", "2 memories")
	traj.SetMeta("source", "unit-test")

	require.Len(t, traj.Steps, 2)
	assert.Equal(t, PhaseThink, traj.Steps[0].Phase)
	assert.Equal(t, "retrieve_memories", traj.Steps[1].Action)
	assert.False(t, traj.Steps[0].Timestamp.IsZero())
	assert.Equal(t, "unit-test", traj.Metadata["source"])
}
