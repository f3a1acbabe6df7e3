package quality

import (
	"math"

	"boldconfounds/internal/models"
)

// PadLeading brings a derived series to length frames. Difference-based
// series lose one or two leading frames, so lengths frames-1 and frames-2 are
// accepted and prefixed with the missing-value marker (NaN), never with zeros.
// Any other length fails with a LengthMismatch naming the source.
func PadLeading(source string, x []float64, frames int) ([]float64, error) {
	n := len(x)
	switch {
	case n == frames:
		return append([]float64(nil), x...), nil
	case n == frames-1 || n == frames-2:
		out := make([]float64, frames)
		pad := frames - n
		for i := 0; i < pad; i++ {
			out[i] = math.NaN()
		}
		copy(out[pad:], x)
		return out, nil
	}
	return nil, &models.LengthMismatchError{Source: source, Got: n, Want: frames}
}

// PadFramewise aligns a framewise displacement series to frames. FD of the
// first frame is defined as 0, so a series that starts at the first
// transition (frames-1 values) gets a leading 0. Other lengths fail.
func PadFramewise(fd []float64, frames int) ([]float64, error) {
	switch len(fd) {
	case frames:
		return append([]float64(nil), fd...), nil
	case frames - 1:
		return append([]float64{0}, fd...), nil
	}
	return nil, &models.LengthMismatchError{Source: "framewise_displacement", Got: len(fd), Want: frames}
}
