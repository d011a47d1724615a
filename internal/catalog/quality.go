package catalog

import (
	"strings"

	"nutriplan/internal/models"
	"nutriplan/internal/nutrition"
)

func sourceTrust(s models.FoodSource) float64 {
	switch s {
	case models.SourceCatalog:
		return 1.0
	case models.SourceUSDA:
		return 0.95
	case models.SourceAIEstimate:
		return 0.6
	default:
		return 0.5
	}
}

func nutritionQuality(n nutrition.Nutrients) float64 {
	macros := 0
	for _, v := range []float64{n.ProteinG, n.CarbsG, n.FatG} {
		if v > 0 {
			macros++
		}
	}
	switch {
	case n.Calories > 0 && macros == 3:
		return 1.0
	case n.Calories > 0 && macros >= 2:
		return 0.7
	case !n.IsZero():
		return 0.4
	default:
		return 0.2
	}
}

// QualityScore rates a food profile in [0,1] from its source, completeness and guardrail findings.
func QualityScore(source models.FoodSource, n nutrition.Nutrients, serving string, check nutrition.Check) float64 {
	servingQuality := 0.0
	if strings.TrimSpace(serving) != "" {
		servingQuality = 1.0
	}
	score := 0.5*sourceTrust(source) + 0.3*nutritionQuality(n) + 0.2*servingQuality
	score -= 0.1 * float64(len(check.Violations))
	if check.Inconsistency != nil {
		score -= 0.15
	}
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
