package core

import (
	"errors"
	"fmt"
	"time"
)

// Experiment validation errors.
var (
	ErrNoMeasurements       = errors.New("experiment result requires at least one measurement")
	ErrMissingUnit          = errors.New("measurement unit is required")
	ErrNegativeTime         = errors.New("measurement time cannot be negative")
	ErrNegativeEfficiency   = errors.New("leaching efficiency cannot be negative")
	ErrEfficiencyWithoutDES = errors.New("leaching efficiency reported but no liquid phase formed")
	ErrLiquidNoEfficiency   = errors.New("liquid phase formed but no leaching efficiency reported")
	ErrDuplicateMeasurement = errors.New("duplicate measurement for material and time")
)

// Measurement is one long-table row of lab results: how much of one target
// material leached after a given contact time.
type Measurement struct {
	TargetMaterial string  `json:"target_material"`
	TimeHours      float64 `json:"time_h"`

	// Efficiency is the leaching efficiency in Unit. Nil means the row
	// records an observation without a quantitative result.
	Efficiency *float64 `json:"leaching_efficiency,omitempty"`

	Unit        string `json:"unit"`
	Observation string `json:"observation,omitempty"`
}

// SolidLiquidRatio describes the solid-to-liquid loading of the experiment.
type SolidLiquidRatio struct {
	SolidMassG     float64 `json:"solid_mass_g"`
	LiquidVolumeML float64 `json:"liquid_volume_ml"`
}

// Conditions records the conditions the experiment ran under.
type Conditions struct {
	TemperatureC     *float64          `json:"temperature_C,omitempty"`
	SolidLiquidRatio *SolidLiquidRatio `json:"solid_liquid_ratio,omitempty"`
}

// ExperimentResult is the lab's verdict on a recommended formulation.
type ExperimentResult struct {
	// IsLiquidFormed reports whether the mixture formed a stable liquid
	// phase, the precondition for any leaching data.
	IsLiquidFormed bool `json:"is_liquid_formed"`

	Measurements []Measurement `json:"measurements"`
	Conditions   *Conditions   `json:"conditions,omitempty"`

	// Properties holds free-form measured properties, e.g.
	// "viscosity": "45 cP".
	Properties map[string]string `json:"properties,omitempty"`

	Experimenter string    `json:"experimenter,omitempty"`
	Date         time.Time `json:"experiment_date"`
	Notes        string    `json:"notes,omitempty"`
}

// Validate enforces cross-field consistency:
//   - at least one measurement row
//   - unit required, time and efficiency non-negative per row
//   - liquid formed requires at least one quantitative efficiency
//   - no liquid phase forbids any efficiency values
//   - no two rows may share (material, time)
func (r *ExperimentResult) Validate() error {
	if len(r.Measurements) == 0 {
		return ErrNoMeasurements
	}

	seen := make(map[string]bool, len(r.Measurements))
	hasEfficiency := false
	for i, m := range r.Measurements {
		if m.Unit == "" {
			return fmt.Errorf("measurement %d: %w", i, ErrMissingUnit)
		}
		if m.TimeHours < 0 {
			return fmt.Errorf("measurement %d: %w", i, ErrNegativeTime)
		}
		if m.Efficiency != nil {
			if *m.Efficiency < 0 {
				return fmt.Errorf("measurement %d: %w", i, ErrNegativeEfficiency)
			}
			hasEfficiency = true
		}
		key := fmt.Sprintf("%s@%g", m.TargetMaterial, m.TimeHours)
		if seen[key] {
			return fmt.Errorf("%w: %s at %gh", ErrDuplicateMeasurement, m.TargetMaterial, m.TimeHours)
		}
		seen[key] = true
	}

	if r.IsLiquidFormed && !hasEfficiency {
		return ErrLiquidNoEfficiency
	}
	if !r.IsLiquidFormed && hasEfficiency {
		return ErrEfficiencyWithoutDES
	}
	return nil
}

// BestEfficiency returns the highest reported efficiency and its unit.
// The bool is false when no row carries a quantitative result.
func (r *ExperimentResult) BestEfficiency() (float64, string, bool) {
	best := 0.0
	unit := ""
	found := false
	for _, m := range r.Measurements {
		if m.Efficiency == nil {
			continue
		}
		if !found || *m.Efficiency > best {
			best = *m.Efficiency
			unit = m.Unit
			found = true
		}
	}
	return best, unit, found
}
