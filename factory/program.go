/*
Package factory provides JSON/YAML to Go program conversion.

PURPOSE:
  Converts reward program definitions into rewards.Program values. The
  claim allowance, the bonus cadence, the tier table and the milestones
  can be changed without code changes - the factory builds and validates
  the Go structs.

SCHEMA (JSON shown, YAML uses the same keys):
  {
    "base_amount": 10,
    "streak_bonus": 5,
    "streak_bonus_every": 7,
    "timezone": "America/New_York",
    "tiers": [
      {"name": "bronze",   "min_points": 0},
      {"name": "silver",   "min_points": 100},
      {"name": "gold",     "min_points": 500},
      {"name": "platinum", "min_points": 1000}
    ],
    "milestones": [
      {"id": "streak-7", "category": "streak", "target": 7, "title": "Week Warrior"}
    ]
  }

DEFAULTS:
  Omitted fields fall back to rewards.DefaultProgram(): base 10, bonus 5
  every 7 days, UTC, the default tiers and milestones. "streak_bonus": 0
  disables the bonus; omitting it keeps the default.

USAGE:
  f := factory.NewProgramFactory()
  program, err := f.ParseProgram(jsonString)

  engine, err := rewards.NewEngine(store, rewards.Config{Program: program})

SEE ALSO:
  - rewards/types.go: Program definition
  - config/config.go: The program section of the service config
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/rewards-engine/rewards"
)

// =============================================================================
// SCHEMA TYPES
// =============================================================================

// ProgramSpec is the serialized form of a program.
type ProgramSpec struct {
	BaseAmount       int64           `json:"base_amount,omitempty" yaml:"base_amount,omitempty"`
	StreakBonus      *int64          `json:"streak_bonus,omitempty" yaml:"streak_bonus,omitempty"`
	StreakBonusEvery int             `json:"streak_bonus_every,omitempty" yaml:"streak_bonus_every,omitempty"`
	Timezone         string          `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Tiers            []TierSpec      `json:"tiers,omitempty" yaml:"tiers,omitempty"`
	Milestones       []MilestoneSpec `json:"milestones,omitempty" yaml:"milestones,omitempty"`
}

type TierSpec struct {
	Name      string `json:"name" yaml:"name"`
	MinPoints int64  `json:"min_points" yaml:"min_points"`
}

type MilestoneSpec struct {
	ID       string `json:"id" yaml:"id"`
	Category string `json:"category" yaml:"category"`
	Target   int64  `json:"target" yaml:"target"`
	Title    string `json:"title" yaml:"title"`
}

// =============================================================================
// PROGRAM FACTORY
// =============================================================================

// ProgramFactory converts program specs to rewards.Program.
type ProgramFactory struct{}

func NewProgramFactory() *ProgramFactory {
	return &ProgramFactory{}
}

// ParseProgram parses a JSON string into a Program.
func (f *ProgramFactory) ParseProgram(jsonStr string) (rewards.Program, error) {
	var spec ProgramSpec
	if err := json.Unmarshal([]byte(jsonStr), &spec); err != nil {
		return rewards.Program{}, fmt.Errorf("failed to parse program JSON: %w", err)
	}
	return f.FromSpec(spec)
}

// ParseProgramYAML parses a YAML document into a Program.
func (f *ProgramFactory) ParseProgramYAML(data []byte) (rewards.Program, error) {
	var spec ProgramSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return rewards.Program{}, fmt.Errorf("failed to parse program YAML: %w", err)
	}
	return f.FromSpec(spec)
}

// FromSpec builds and validates a Program, filling defaults.
func (f *ProgramFactory) FromSpec(spec ProgramSpec) (rewards.Program, error) {
	program := rewards.DefaultProgram()

	if spec.BaseAmount != 0 {
		program.BaseAmount = spec.BaseAmount
	}
	if spec.StreakBonus != nil {
		program.StreakBonus = *spec.StreakBonus
	}
	if spec.StreakBonusEvery != 0 {
		program.StreakBonusEvery = spec.StreakBonusEvery
	}
	if spec.Timezone != "" {
		loc, err := time.LoadLocation(spec.Timezone)
		if err != nil {
			return rewards.Program{}, fmt.Errorf("invalid timezone %q: %w", spec.Timezone, err)
		}
		program.Location = loc
	}

	if len(spec.Tiers) > 0 {
		program.Tiers = make(rewards.TierTable, len(spec.Tiers))
		for i, t := range spec.Tiers {
			program.Tiers[i] = rewards.TierThreshold{Name: t.Name, MinPoints: t.MinPoints}
		}
	}
	if len(spec.Milestones) > 0 {
		program.Milestones = make([]rewards.Milestone, len(spec.Milestones))
		for i, m := range spec.Milestones {
			program.Milestones[i] = rewards.Milestone{
				ID:       m.ID,
				Category: rewards.Category(m.Category),
				Target:   m.Target,
				Title:    m.Title,
			}
		}
	}

	if err := program.Validate(); err != nil {
		return rewards.Program{}, fmt.Errorf("invalid program: %w", err)
	}
	return program, nil
}

// ToSpec converts a Program back to its serialized form.
func (f *ProgramFactory) ToSpec(program rewards.Program) ProgramSpec {
	bonus := program.StreakBonus
	spec := ProgramSpec{
		BaseAmount:       program.BaseAmount,
		StreakBonus:      &bonus,
		StreakBonusEvery: program.StreakBonusEvery,
		Timezone:         "UTC",
	}
	if program.Location != nil {
		spec.Timezone = program.Location.String()
	}
	for _, t := range program.Tiers {
		spec.Tiers = append(spec.Tiers, TierSpec{Name: t.Name, MinPoints: t.MinPoints})
	}
	for _, m := range program.Milestones {
		spec.Milestones = append(spec.Milestones, MilestoneSpec{
			ID:       m.ID,
			Category: string(m.Category),
			Target:   m.Target,
			Title:    m.Title,
		})
	}
	return spec
}
