package signal

import (
	"errors"
	"math"
	"testing"

	"boldconfounds/internal/models"
)

// rampVolume builds a volume where voxel i of frame t holds 100*t + i
func rampVolume(dims [3]int, frames int) *models.Volume4D {
	v := &models.Volume4D{Dims: dims, Frames: frames, Affine: models.IdentityAffine()}
	n := v.NumVoxels()
	v.Data = make([]float64, n*frames)
	for t := 0; t < frames; t++ {
		for i := 0; i < n; i++ {
			v.Data[t*n+i] = float64(100*t + i)
		}
	}
	return v
}

func TestExtract(t *testing.T) {
	vol := rampVolume([3]int{2, 2, 2}, 3)
	mask := models.NewMask("wm", vol.Dims, vol.Affine)
	mask.Voxels[5] = true
	mask.Voxels[1] = true

	m, err := Extract(vol, mask)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	r, c := m.Dims()
	if r != 3 || c != 2 {
		t.Fatalf("Expected 3x2 matrix, got %dx%d", r, c)
	}
	// columns in ascending voxel order
	for tt := 0; tt < 3; tt++ {
		if m.At(tt, 0) != float64(100*tt+1) || m.At(tt, 1) != float64(100*tt+5) {
			t.Errorf("Frame %d: unexpected row %v", tt, m.RawRowView(tt))
		}
	}
}

func TestMeanSeries(t *testing.T) {
	vol := rampVolume([3]int{2, 2, 2}, 4)
	mask := models.NewMask("brain", vol.Dims, vol.Affine)
	mask.Voxels[2] = true
	mask.Voxels[4] = true

	mean, err := MeanSeries(vol, mask)
	if err != nil {
		t.Fatalf("MeanSeries failed: %v", err)
	}
	if len(mean) != 4 {
		t.Fatalf("Expected 4 entries, got %d", len(mean))
	}
	for tt, v := range mean {
		if want := float64(100*tt + 3); v != want {
			t.Errorf("Frame %d: expected %f, got %f", tt, want, v)
		}
	}
}

// TestEmptyMask returns missing markers instead of zeros or an error
func TestEmptyMask(t *testing.T) {
	vol := rampVolume([3]int{2, 2, 2}, 5)
	mask := models.NewMask("csf", vol.Dims, vol.Affine)

	mean, err := MeanSeries(vol, mask)
	if err != nil {
		t.Fatalf("MeanSeries failed: %v", err)
	}
	if len(mean) != 5 {
		t.Fatalf("Expected 5 entries, got %d", len(mean))
	}
	for i, v := range mean {
		if !math.IsNaN(v) {
			t.Errorf("Entry %d: expected missing marker, got %f", i, v)
		}
	}

	m, err := Extract(vol, mask)
	if err != nil || m != nil {
		t.Errorf("Expected nil matrix and nil error for empty mask, got %v, %v", m, err)
	}
}

func TestGridMismatch(t *testing.T) {
	vol := rampVolume([3]int{2, 2, 2}, 2)
	mask := models.NewMask("wm", [3]int{3, 2, 2}, vol.Affine)
	if _, err := Extract(vol, mask); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ShapeMismatch from Extract, got %v", err)
	}
	if _, err := MeanSeries(vol, mask); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ShapeMismatch from MeanSeries, got %v", err)
	}
}
