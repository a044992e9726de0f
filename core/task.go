package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for task validation.
var (
	ErrEmptyDescription  = errors.New("task description cannot be empty")
	ErrEmptyTarget       = errors.New("task target material cannot be empty")
	ErrInvalidComponents = errors.New("component count must be at least 2")
)

// Task describes a single formulation request: what material needs to be
// dissolved, under which conditions, and any hard constraints the caller
// imposes on the solvent system.
type Task struct {
	// ID uniquely identifies the task. If empty, callers should assign one
	// (the CLI generates a UUID).
	ID string `json:"id"`

	// Description is the free-text problem statement shown to the model.
	Description string `json:"description"`

	// TargetMaterial is the species to dissolve or leach (e.g. "LiCoO2").
	TargetMaterial string `json:"target_material"`

	// TargetTemperatureC is the intended operating temperature in Celsius.
	TargetTemperatureC float64 `json:"target_temperature_c"`

	// ComponentCount is the desired number of solvent components.
	// Zero means "agent decides", which defaults to a binary system.
	ComponentCount int `json:"component_count,omitempty"`

	// Constraints holds hard requirements keyed by name, e.g.
	// "toxicity": "food-grade only".
	Constraints map[string]string `json:"constraints,omitempty"`
}

// Validate checks the task is complete enough to run.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Description) == "" {
		return ErrEmptyDescription
	}
	if strings.TrimSpace(t.TargetMaterial) == "" {
		return ErrEmptyTarget
	}
	if t.ComponentCount != 0 && t.ComponentCount < 2 {
		return ErrInvalidComponents
	}
	return nil
}

// Component is a single chemical species in a formulation with the role it
// plays in the solvent system.
type Component struct {
	Name string `json:"name"`

	// Role is the component's function in the eutectic system, e.g.
	// "HBD" (hydrogen bond donor), "HBA" (hydrogen bond acceptor),
	// "additive".
	Role string `json:"role"`

	// Function optionally explains what the component contributes,
	// e.g. "chelates transition metals".
	Function string `json:"function,omitempty"`
}

// Formulation is a proposed deep eutectic solvent composition.
//
// Two shapes are supported: the classic binary HBD/HBA pair, and a general
// component list for ternary and higher systems. Binary formulations may set
// either representation; Components wins when both are present.
type Formulation struct {
	// HBD and HBA name the donor and acceptor for binary systems.
	HBD string `json:"hbd,omitempty"`
	HBA string `json:"hba,omitempty"`

	// Components lists all species for multi-component systems, in ratio
	// order matching MolarRatio.
	Components []Component `json:"components,omitempty"`

	// MolarRatio is the mixing ratio, e.g. "1:2" or "1:2:0.5".
	MolarRatio string `json:"molar_ratio"`
}

// IsZero reports whether no composition has been set.
func (f *Formulation) IsZero() bool {
	return f == nil || (f.HBD == "" && f.HBA == "" && len(f.Components) == 0)
}

// ComponentNames returns the species names in ratio order.
// Binary formulations list the donor first.
func (f *Formulation) ComponentNames() []string {
	if len(f.Components) > 0 {
		names := make([]string, len(f.Components))
		for i, c := range f.Components {
			names[i] = c.Name
		}
		return names
	}
	if f.HBD == "" && f.HBA == "" {
		return nil
	}
	return []string{f.HBD, f.HBA}
}

// DisplayString renders a binary pair as "HBD : HBA (1:2)" and a
// multi-component system as "A + B + C (1:2:0.5)".
func (f *Formulation) DisplayString() string {
	if len(f.Components) > 0 {
		return fmt.Sprintf("%s (%s)", strings.Join(f.ComponentNames(), " + "), f.MolarRatio)
	}
	if f.HBD != "" || f.HBA != "" {
		return fmt.Sprintf("%s : %s (%s)", f.HBD, f.HBA, f.MolarRatio)
	}
	return fmt.Sprintf("Unknown formulation (%s)", f.MolarRatio)
}
