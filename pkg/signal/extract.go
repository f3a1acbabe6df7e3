// Package signal projects a functional volume through tissue masks.
package signal

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"boldconfounds/internal/models"
)

func checkGrid(vol *models.Volume4D, mask *models.Mask) error {
	if !mask.SameGrid(vol) {
		return &models.ShapeMismatchError{
			Source: fmt.Sprintf("%s mask", mask.Name),
			Want:   fmt.Sprintf("grid %v", vol.Dims),
			Got:    fmt.Sprintf("grid %v (%d voxels)", mask.Dims, len(mask.Voxels)),
		}
	}
	return nil
}

// Extract returns the T x V matrix of masked voxel time series. Columns follow
// ascending linear voxel index. An empty mask yields a nil matrix and no error.
func Extract(vol *models.Volume4D, mask *models.Mask) (*mat.Dense, error) {
	if err := checkGrid(vol, mask); err != nil {
		return nil, err
	}
	idx := mask.Indices()
	if len(idx) == 0 {
		return nil, nil
	}
	out := mat.NewDense(vol.Frames, len(idx), nil)
	for t := 0; t < vol.Frames; t++ {
		frame := vol.Frame(t)
		row := out.RawRowView(t)
		for c, i := range idx {
			row[c] = frame[i]
		}
	}
	return out, nil
}

// MeanSeries returns the per-frame mean over the masked voxels. When the mask
// is empty every entry is NaN, the missing-value marker, rather than zero.
func MeanSeries(vol *models.Volume4D, mask *models.Mask) ([]float64, error) {
	if err := checkGrid(vol, mask); err != nil {
		return nil, err
	}
	idx := mask.Indices()
	mean := make([]float64, vol.Frames)
	if len(idx) == 0 {
		for t := range mean {
			mean[t] = math.NaN()
		}
		return mean, nil
	}
	for t := range mean {
		frame := vol.Frame(t)
		var sum float64
		for _, i := range idx {
			sum += frame[i]
		}
		mean[t] = sum / float64(len(idx))
	}
	return mean, nil
}
