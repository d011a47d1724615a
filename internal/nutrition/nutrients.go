package nutrition

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Nutrients is the shared nutrient vector used by foods, log entries, meals and aggregates.
// Values are per serving on a Food and absolute everywhere else.
type Nutrients struct {
	Calories float64 `db:"calories" json:"calories"`
	ProteinG float64 `db:"protein_g" json:"protein_g"`
	CarbsG   float64 `db:"carbs_g" json:"carbs_g"`
	FatG     float64 `db:"fat_g" json:"fat_g"`
	FiberG   float64 `db:"fiber_g" json:"fiber_g"`
	SugarG   float64 `db:"sugar_g" json:"sugar_g"`

	SodiumMg     float64 `db:"sodium_mg" json:"sodium_mg"`
	PotassiumMg  float64 `db:"potassium_mg" json:"potassium_mg"`
	CalciumMg    float64 `db:"calcium_mg" json:"calcium_mg"`
	IronMg       float64 `db:"iron_mg" json:"iron_mg"`
	MagnesiumMg  float64 `db:"magnesium_mg" json:"magnesium_mg"`
	PhosphorusMg float64 `db:"phosphorus_mg" json:"phosphorus_mg"`
	ZincMg       float64 `db:"zinc_mg" json:"zinc_mg"`
	CopperMg     float64 `db:"copper_mg" json:"copper_mg"`
	SeleniumMcg  float64 `db:"selenium_mcg" json:"selenium_mcg"`

	VitaminAMcg   float64 `db:"vitamin_a_mcg" json:"vitamin_a_mcg"`
	VitaminCMg    float64 `db:"vitamin_c_mg" json:"vitamin_c_mg"`
	VitaminEMg    float64 `db:"vitamin_e_mg" json:"vitamin_e_mg"`
	VitaminDMcg   float64 `db:"vitamin_d_mcg" json:"vitamin_d_mcg"`
	VitaminKMcg   float64 `db:"vitamin_k_mcg" json:"vitamin_k_mcg"`
	VitaminB1Mg   float64 `db:"vitamin_b1_mg" json:"vitamin_b1_mg"`
	VitaminB2Mg   float64 `db:"vitamin_b2_mg" json:"vitamin_b2_mg"`
	VitaminB3Mg   float64 `db:"vitamin_b3_mg" json:"vitamin_b3_mg"`
	VitaminB6Mg   float64 `db:"vitamin_b6_mg" json:"vitamin_b6_mg"`
	VitaminB9Mcg  float64 `db:"vitamin_b9_mcg" json:"vitamin_b9_mcg"`
	VitaminB12Mcg float64 `db:"vitamin_b12_mcg" json:"vitamin_b12_mcg"`

	CholesterolMg float64 `db:"cholesterol_mg" json:"cholesterol_mg"`
}

// Field binds a column name to its slot in Nutrients.
type Field struct {
	Column string
	Ref    func(n *Nutrients) *float64
}

// Fields lists every tracked nutrient in column order.
var Fields = []Field{
	{"calories", func(n *Nutrients) *float64 { return &n.Calories }},
	{"protein_g", func(n *Nutrients) *float64 { return &n.ProteinG }},
	{"carbs_g", func(n *Nutrients) *float64 { return &n.CarbsG }},
	{"fat_g", func(n *Nutrients) *float64 { return &n.FatG }},
	{"fiber_g", func(n *Nutrients) *float64 { return &n.FiberG }},
	{"sugar_g", func(n *Nutrients) *float64 { return &n.SugarG }},
	{"sodium_mg", func(n *Nutrients) *float64 { return &n.SodiumMg }},
	{"potassium_mg", func(n *Nutrients) *float64 { return &n.PotassiumMg }},
	{"calcium_mg", func(n *Nutrients) *float64 { return &n.CalciumMg }},
	{"iron_mg", func(n *Nutrients) *float64 { return &n.IronMg }},
	{"magnesium_mg", func(n *Nutrients) *float64 { return &n.MagnesiumMg }},
	{"phosphorus_mg", func(n *Nutrients) *float64 { return &n.PhosphorusMg }},
	{"zinc_mg", func(n *Nutrients) *float64 { return &n.ZincMg }},
	{"copper_mg", func(n *Nutrients) *float64 { return &n.CopperMg }},
	{"selenium_mcg", func(n *Nutrients) *float64 { return &n.SeleniumMcg }},
	{"vitamin_a_mcg", func(n *Nutrients) *float64 { return &n.VitaminAMcg }},
	{"vitamin_c_mg", func(n *Nutrients) *float64 { return &n.VitaminCMg }},
	{"vitamin_e_mg", func(n *Nutrients) *float64 { return &n.VitaminEMg }},
	{"vitamin_d_mcg", func(n *Nutrients) *float64 { return &n.VitaminDMcg }},
	{"vitamin_k_mcg", func(n *Nutrients) *float64 { return &n.VitaminKMcg }},
	{"vitamin_b1_mg", func(n *Nutrients) *float64 { return &n.VitaminB1Mg }},
	{"vitamin_b2_mg", func(n *Nutrients) *float64 { return &n.VitaminB2Mg }},
	{"vitamin_b3_mg", func(n *Nutrients) *float64 { return &n.VitaminB3Mg }},
	{"vitamin_b6_mg", func(n *Nutrients) *float64 { return &n.VitaminB6Mg }},
	{"vitamin_b9_mcg", func(n *Nutrients) *float64 { return &n.VitaminB9Mcg }},
	{"vitamin_b12_mcg", func(n *Nutrients) *float64 { return &n.VitaminB12Mcg }},
	{"cholesterol_mg", func(n *Nutrients) *float64 { return &n.CholesterolMg }},
}

// Columns returns the nutrient column names, optionally qualified with a table alias.
func Columns(alias string) []string {
	out := make([]string, len(Fields))
	for i, f := range Fields {
		if alias != "" {
			out[i] = alias + "." + f.Column
		} else {
			out[i] = f.Column
		}
	}
	return out
}

// SumSelect renders "COALESCE(SUM(<expr>), 0)::float8 AS col" for every field, with NULL
// inputs counting as zero. expr receives the column name and returns the per-row expression.
func SumSelect(expr func(column string) string) string {
	parts := make([]string, len(Fields))
	for i, f := range Fields {
		parts[i] = "COALESCE(SUM(COALESCE(" + expr(f.Column) + ", 0)), 0)::float8 AS " + f.Column
	}
	return strings.Join(parts, ",\n\t")
}

// CoalesceSelect renders "COALESCE(alias.col, 0) AS col" for every field.
func CoalesceSelect(alias string) string {
	parts := make([]string, len(Fields))
	for i, f := range Fields {
		parts[i] = "COALESCE(" + alias + "." + f.Column + ", 0)::float8 AS " + f.Column
	}
	return strings.Join(parts, ", ")
}

// Add returns n + o.
func (n Nutrients) Add(o Nutrients) Nutrients {
	for _, f := range Fields {
		*f.Ref(&n) += *f.Ref(&o)
	}
	return n
}

// Scale returns every field multiplied by factor.
func (n Nutrients) Scale(factor float64) Nutrients {
	for _, f := range Fields {
		p := f.Ref(&n)
		*p *= factor
	}
	return n
}

// Round rounds every field to the given number of decimal places.
func (n Nutrients) Round(places int) Nutrients {
	pow := math.Pow(10, float64(places))
	for _, f := range Fields {
		p := f.Ref(&n)
		*p = math.Round(*p*pow) / pow
	}
	return n
}

// IsZero reports whether every field is zero.
func (n Nutrients) IsZero() bool {
	for _, f := range Fields {
		if *f.Ref(&n) != 0 {
			return false
		}
	}
	return true
}

// Negative returns the columns holding negative values.
func (n Nutrients) Negative() []string {
	var out []string
	for _, f := range Fields {
		if *f.Ref(&n) < 0 {
			out = append(out, f.Column)
		}
	}
	return out
}

// Sum adds up a list of vectors.
func Sum(items ...Nutrients) Nutrients {
	var total Nutrients
	for _, it := range items {
		total = total.Add(it)
	}
	return total
}

// MacroCalories estimates energy from macros using 4/4/9 kcal per gram.
func (n Nutrients) MacroCalories() float64 {
	return 4*n.ProteinG + 4*n.CarbsG + 9*n.FatG
}

// Patch carries the nutrient values an enrichment write provides, keyed by column name.
// Columns absent from the patch are left alone.
type Patch map[string]float64

// Merge overlays p on base. Unknown column names are an error.
func (p Patch) Merge(base Nutrients) (Nutrients, error) {
	known := make(map[string]Field, len(Fields))
	for _, f := range Fields {
		known[f.Column] = f
	}
	var unknown []string
	for col := range p {
		if _, ok := known[col]; !ok {
			unknown = append(unknown, col)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Nutrients{}, fmt.Errorf("unknown nutrients: %s", strings.Join(unknown, ", "))
	}
	for col, v := range p {
		*known[col].Ref(&base) = v
	}
	return base, nil
}
