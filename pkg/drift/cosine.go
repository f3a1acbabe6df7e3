// Package drift builds the discrete cosine basis used to model slow scanner drift.
package drift

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"boldconfounds/internal/models"
)

// DefaultCutoff is the high-pass period in seconds.
const DefaultCutoff = 128.0

// columns whose standard deviation falls below this are treated as constant
const constantTolerance = 1e-12

// Prefix names the basis columns: cosine_00, cosine_01, ...
const Prefix = "cosine"

// Basis is a set of low-frequency regressors, one slice per column.
type Basis struct {
	Names   []string
	Columns [][]float64
	Frames  int
}

// Len returns the number of basis columns.
func (b *Basis) Len() int {
	return len(b.Columns)
}

// Order returns the number of cosine terms a scan of frames volumes at
// repetition time tr supports for the given cutoff period:
// floor(2 * duration / cutoff).
func Order(frames int, tr, cutoff float64) int {
	return int(math.Floor(2 * float64(frames) * tr / cutoff))
}

// NewBasis builds the DCT-II drift basis sqrt(2/T) cos(pi (2n+1) k / 2T) for
// k = 1..min(Order, T-1). Terms past T-1 alias lower ones or vanish, so they
// are never generated. Numerically constant columns are dropped, and the
// survivors are named sequentially. A scan shorter than the cutoff gives an
// empty basis.
func NewBasis(frames int, tr, cutoff float64) (*Basis, error) {
	if tr <= 0 || math.IsNaN(tr) {
		return nil, &models.MissingMetadataError{Field: "repetition time"}
	}
	if cutoff <= 0 {
		return nil, fmt.Errorf("drift cutoff must be positive, got %g", cutoff)
	}
	if frames < 1 {
		return nil, fmt.Errorf("drift basis needs at least one frame, got %d", frames)
	}

	b := &Basis{Frames: frames}
	order := min(Order(frames, tr, cutoff), frames-1)
	norm := math.Sqrt(2 / float64(frames))
	for k := 1; k <= order; k++ {
		col := make([]float64, frames)
		for n := range col {
			col[n] = norm * math.Cos(math.Pi*float64(2*n+1)*float64(k)/float64(2*frames))
		}
		if stat.PopStdDev(col, nil) <= constantTolerance {
			continue
		}
		b.Columns = append(b.Columns, col)
	}
	for i := range b.Columns {
		b.Names = append(b.Names, fmt.Sprintf("%s_%02d", Prefix, i))
	}
	return b, nil
}
