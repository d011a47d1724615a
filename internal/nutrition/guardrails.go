package nutrition

import (
	"fmt"
	"math"
)

// Guardrails holds the plausibility limits applied to externally sourced nutrient data.
// The defaults are product heuristics and are expected to be overridden from config.
type Guardrails struct {
	MaxCalories         float64
	MaxProteinG         float64
	MaxCarbsG           float64
	MaxFatG             float64
	CalorieTolerance    float64
	DuplicateSimilarity float64
}

func DefaultGuardrails() Guardrails {
	return Guardrails{
		MaxCalories:         2000,
		MaxProteinG:         100,
		MaxCarbsG:           200,
		MaxFatG:             100,
		CalorieTolerance:    0.30,
		DuplicateSimilarity: 0.8,
	}
}

// Violation is one failed plausibility rule.
type Violation struct {
	Rule    string  `json:"rule"`
	Field   string  `json:"field"`
	Value   float64 `json:"value"`
	Limit   float64 `json:"limit"`
	Message string  `json:"message"`
}

// Inconsistency annotates a calorie value that disagrees with its macros.
type Inconsistency struct {
	StatedCalories    float64 `json:"stated_calories"`
	EstimatedCalories float64 `json:"estimated_calories"`
	Tolerance         float64 `json:"tolerance"`
}

// Check is the advisory outcome of running guardrails over a nutrient profile.
type Check struct {
	Violations    []Violation    `json:"violations,omitempty"`
	Inconsistency *Inconsistency `json:"inconsistency,omitempty"`
	Clamped       bool           `json:"clamped"`
}

func (c Check) OK() bool {
	return len(c.Violations) == 0 && c.Inconsistency == nil
}

type rangeRule struct {
	field string
	limit float64
	ref   func(n *Nutrients) *float64
}

func (g Guardrails) rules() []rangeRule {
	return []rangeRule{
		{"calories", g.MaxCalories, func(n *Nutrients) *float64 { return &n.Calories }},
		{"protein_g", g.MaxProteinG, func(n *Nutrients) *float64 { return &n.ProteinG }},
		{"carbs_g", g.MaxCarbsG, func(n *Nutrients) *float64 { return &n.CarbsG }},
		{"fat_g", g.MaxFatG, func(n *Nutrients) *float64 { return &n.FatG }},
	}
}

// Apply range-checks the macros, clamps values above their limit and runs the
// calorie-consistency check on the clamped profile. It never rejects.
func (g Guardrails) Apply(n Nutrients) (Nutrients, Check) {
	var out Check
	for _, r := range g.rules() {
		p := r.ref(&n)
		if *p < 0 || *p > r.limit {
			out.Violations = append(out.Violations, Violation{
				Rule:    "range",
				Field:   r.field,
				Value:   *p,
				Limit:   r.limit,
				Message: fmt.Sprintf("%s must be between 0 and %g", r.field, r.limit),
			})
		}
		if *p > r.limit {
			*p = r.limit
			out.Clamped = true
		}
	}
	out.Inconsistency = g.CalorieConsistency(n)
	return n, out
}

// CalorieConsistency flags a profile whose stated calories differ from the 4/4/9 macro
// estimate by more than the tolerance fraction of the stated value.
func (g Guardrails) CalorieConsistency(n Nutrients) *Inconsistency {
	estimated := n.MacroCalories()
	if math.Abs(n.Calories-estimated) <= g.CalorieTolerance*n.Calories {
		return nil
	}
	return &Inconsistency{
		StatedCalories:    n.Calories,
		EstimatedCalories: math.Round(estimated*100) / 100,
		Tolerance:         g.CalorieTolerance,
	}
}
