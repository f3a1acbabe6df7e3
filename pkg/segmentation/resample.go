package segmentation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"boldconfounds/internal/models"
)

func affineDense(a models.Affine) *mat.Dense {
	return mat.NewDense(4, 4, append([]float64(nil), a[:]...))
}

// Resample maps labels onto the spatial grid of ref with nearest-neighbour
// lookup, so label identity is preserved exactly. Functional voxels outside
// the label field of view are background (0). The result always has ref's
// grid shape; a singular affine or a label field that does not overlap the
// functional grid at all is a ShapeMismatch.
func Resample(labels *models.LabelVolume, ref *models.Volume4D) (*models.LabelVolume, error) {
	if len(labels.Labels) != labels.NumVoxels() {
		return nil, &models.ShapeMismatchError{
			Source: "segmentation",
			Want:   fmt.Sprintf("%d labels for grid %v", labels.NumVoxels(), labels.Dims),
			Got:    fmt.Sprintf("%d labels", len(labels.Labels)),
		}
	}

	out := &models.LabelVolume{
		Dims:   ref.Dims,
		Affine: ref.Affine,
		Labels: make([]int32, ref.NumVoxels()),
	}

	// identical grids need no interpolation
	if labels.Dims == ref.Dims && labels.Affine.AlmostEqual(ref.Affine, 1e-6) {
		copy(out.Labels, labels.Labels)
		return out, nil
	}

	var inv mat.Dense
	if err := inv.Inverse(affineDense(labels.Affine)); err != nil {
		return nil, &models.ShapeMismatchError{
			Source: "segmentation affine",
			Want:   "an invertible voxel-to-world transform",
			Got:    err.Error(),
		}
	}
	if mat.Det(affineDense(ref.Affine)) == 0 {
		return nil, &models.ShapeMismatchError{
			Source: "functional affine",
			Want:   "an invertible voxel-to-world transform",
			Got:    "a singular matrix",
		}
	}

	// functional voxel -> world -> label voxel
	var vox2vox mat.Dense
	vox2vox.Mul(&inv, affineDense(ref.Affine))
	var m models.Affine
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			m[4*r+c] = vox2vox.At(r, c)
		}
	}

	nx, ny, nz := ref.Dims[0], ref.Dims[1], ref.Dims[2]
	inside := 0
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				fi, fj, fk := m.Apply(float64(x), float64(y), float64(z))
				i, j, k := int(math.Round(fi)), int(math.Round(fj)), int(math.Round(fk))
				if i < 0 || j < 0 || k < 0 || i >= labels.Dims[0] || j >= labels.Dims[1] || k >= labels.Dims[2] {
					continue
				}
				inside++
				out.Labels[x+nx*(y+ny*z)] = labels.At(i, j, k)
			}
		}
	}
	if inside == 0 {
		return nil, &models.ShapeMismatchError{
			Source: "segmentation",
			Want:   fmt.Sprintf("a field of view overlapping the functional grid %v", ref.Dims),
			Got:    fmt.Sprintf("grid %v with no overlap", labels.Dims),
		}
	}
	return out, nil
}
