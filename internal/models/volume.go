package models

import (
	"fmt"
	"math"
)

// Affine is a 4x4 voxel-to-world transform in row-major order.
// The last row is expected to be [0 0 0 1].
type Affine [16]float64

// IdentityAffine returns the identity transform.
func IdentityAffine() Affine {
	return Affine{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Apply maps the voxel coordinate (i, j, k) into world space.
func (a Affine) Apply(i, j, k float64) (x, y, z float64) {
	x = a[0]*i + a[1]*j + a[2]*k + a[3]
	y = a[4]*i + a[5]*j + a[6]*k + a[7]
	z = a[8]*i + a[9]*j + a[10]*k + a[11]
	return
}

// AlmostEqual reports whether every entry of a and b differs by at most tol.
func (a Affine) AlmostEqual(b Affine, tol float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

// Volume4D is a functional time series: Frames 3D fields sharing one grid and one affine.
// It is read-only after load.
type Volume4D struct {
	// Dims is the spatial grid shape (x, y, z)
	Dims [3]int

	// Frames is the number of time points, at least 1
	Frames int

	// Affine maps voxel indices into scanner space
	Affine Affine

	// Data holds Frames consecutive 3D fields; voxel (x, y, z) of frame t
	// lives at t*NumVoxels() + x + Dims[0]*(y + Dims[1]*z)
	Data []float64

	// HeaderTR is the repetition time recorded in the file header in seconds,
	// 0 when the header does not carry one
	HeaderTR float64
}

// NumVoxels returns the number of voxels in one frame.
func (v *Volume4D) NumVoxels() int {
	return v.Dims[0] * v.Dims[1] * v.Dims[2]
}

// Frame returns the slice backing frame t. Callers must not modify it.
func (v *Volume4D) Frame(t int) []float64 {
	n := v.NumVoxels()
	return v.Data[t*n : (t+1)*n]
}

// Validate checks the structural invariants of the volume.
func (v *Volume4D) Validate() error {
	if v.Frames < 1 {
		return fmt.Errorf("volume has %d frames, need at least 1", v.Frames)
	}
	for i, d := range v.Dims {
		if d < 1 {
			return fmt.Errorf("volume dimension %d has size %d", i, d)
		}
	}
	if want := v.NumVoxels() * v.Frames; len(v.Data) != want {
		return &ShapeMismatchError{
			Source: "volume data",
			Want:   fmt.Sprintf("%d values", want),
			Got:    fmt.Sprintf("%d values", len(v.Data)),
		}
	}
	return nil
}

// LabelVolume is a 3D field of integer tissue codes, possibly on another grid.
type LabelVolume struct {
	Dims   [3]int
	Affine Affine
	Labels []int32
}

// NumVoxels returns the number of voxels in the label grid.
func (l *LabelVolume) NumVoxels() int {
	return l.Dims[0] * l.Dims[1] * l.Dims[2]
}

// At returns the label at voxel (x, y, z).
func (l *LabelVolume) At(x, y, z int) int32 {
	return l.Labels[x+l.Dims[0]*(y+l.Dims[1]*z)]
}

// Mask is a boolean selector co-registered with a Volume4D grid.
type Mask struct {
	// Name identifies the tissue class, used in logs and errors
	Name string

	Dims   [3]int
	Affine Affine
	Voxels []bool
}

// NewMask returns an all-false mask on the given grid.
func NewMask(name string, dims [3]int, affine Affine) *Mask {
	return &Mask{
		Name:   name,
		Dims:   dims,
		Affine: affine,
		Voxels: make([]bool, dims[0]*dims[1]*dims[2]),
	}
}

// Count returns the number of selected voxels.
func (m *Mask) Count() int {
	n := 0
	for _, on := range m.Voxels {
		if on {
			n++
		}
	}
	return n
}

// Indices returns the linear indices of selected voxels in ascending order.
func (m *Mask) Indices() []int {
	idx := make([]int, 0, m.Count())
	for i, on := range m.Voxels {
		if on {
			idx = append(idx, i)
		}
	}
	return idx
}

// SameGrid reports whether the mask lies on the spatial grid of v.
func (m *Mask) SameGrid(v *Volume4D) bool {
	return m.Dims == v.Dims && len(m.Voxels) == v.NumVoxels()
}

// MotionParams is one frame of rigid-body motion in MCFLIRT order:
// rotation x, y, z (radians) followed by translation x, y, z (mm).
type MotionParams [6]float64

// MotionTrace is the per-frame motion estimate for one run.
type MotionTrace struct {
	Rows []MotionParams
}

// Len returns the number of frames.
func (m *MotionTrace) Len() int {
	return len(m.Rows)
}

// Column returns parameter c (0..5) as a time series.
func (m *MotionTrace) Column(c int) []float64 {
	out := make([]float64, len(m.Rows))
	for t, row := range m.Rows {
		out[t] = row[c]
	}
	return out
}

// CheckFrames fails with a LengthMismatch when the trace does not have
// exactly frames rows.
func (m *MotionTrace) CheckFrames(frames int) error {
	if len(m.Rows) != frames {
		return &LengthMismatchError{Source: "motion parameters", Got: len(m.Rows), Want: frames}
	}
	return nil
}
