package motion

import (
	"fmt"
	"math"

	"boldconfounds/internal/models"
)

// Column suffixes of the four-way expansion. Downstream tools index the
// confound table by these names.
const (
	SuffixDerivative       = "_derivative1"
	SuffixPower2           = "_power2"
	SuffixDerivativePower2 = "_derivative1_power2"
)

// BaseNames are the canonical motion column names in output order.
var BaseNames = []string{"trans_x", "trans_y", "trans_z", "rot_x", "rot_y", "rot_z"}

// parColumn maps each base name to its column in an MCFLIRT row.
var parColumn = []int{3, 4, 5, 0, 1, 2}

// Series is a named column of one value per frame.
type Series struct {
	Name   string
	Values []float64
}

// Raw returns the six motion parameters under their canonical names.
func Raw(trace *models.MotionTrace) []Series {
	out := make([]Series, len(BaseNames))
	for i, name := range BaseNames {
		out[i] = Series{Name: name, Values: trace.Column(parColumn[i])}
	}
	return out
}

// Expand returns the 24-parameter motion model: raw, derivatives, squares,
// squared derivatives, each group in BaseNames order.
func Expand(trace *models.MotionTrace) []Series {
	return ExpandSeries(Raw(trace))
}

// ExpandSeries applies the four-way expansion to any set of equally long
// series: every raw column, then every backward difference, then every square,
// then every squared difference.
func ExpandSeries(base []Series) []Series {
	n := len(base)
	out := make([]Series, 4*n)
	for i, s := range base {
		d := BackwardDiff(s.Values)
		out[i] = Series{Name: s.Name, Values: append([]float64(nil), s.Values...)}
		out[n+i] = Series{Name: s.Name + SuffixDerivative, Values: d}
		out[2*n+i] = Series{Name: s.Name + SuffixPower2, Values: square(s.Values)}
		out[3*n+i] = Series{Name: s.Name + SuffixDerivativePower2, Values: square(d)}
	}
	return out
}

// BackwardDiff returns x[t] - x[t-1]. Frame 0 is 0 by definition, unless
// x[0] itself is missing (NaN), in which case it stays missing.
func BackwardDiff(x []float64) []float64 {
	d := make([]float64, len(x))
	if len(x) == 0 {
		return d
	}
	if math.IsNaN(x[0]) {
		d[0] = math.NaN()
	}
	for t := 1; t < len(x); t++ {
		d[t] = x[t] - x[t-1]
	}
	return d
}

func square(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v * v
	}
	return out
}

// ExpandedNames lists the column names Expand produces for the given bases.
func ExpandedNames(bases []string) []string {
	names := make([]string, 0, 4*len(bases))
	for _, suffix := range []string{"", SuffixDerivative, SuffixPower2, SuffixDerivativePower2} {
		for _, b := range bases {
			names = append(names, fmt.Sprintf("%s%s", b, suffix))
		}
	}
	return names
}
