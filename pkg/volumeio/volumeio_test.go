package volumeio

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"boldconfounds/internal/models"
)

// createTempDir creates a temporary directory for test files
func createTempDir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "boldconfounds-test-*")
	if err != nil {
		t.Fatalf("Failed to create temporary directory: %v", err)
	}
	return dir
}

func testAffine() models.Affine {
	return models.Affine{
		-2, 0, 0, 90,
		0, 2, 0, -126,
		0, 0, 3, -72,
		0, 0, 0, 1,
	}
}

// TestNIfTIRoundTrip writes a 4D float volume and reads it back
func TestNIfTIRoundTrip(t *testing.T) {
	tmpDir := createTempDir(t)
	defer os.RemoveAll(tmpDir)

	vol := &models.Volume4D{
		Dims:     [3]int{3, 4, 2},
		Frames:   5,
		Affine:   testAffine(),
		HeaderTR: 2.0,
	}
	vol.Data = make([]float64, vol.NumVoxels()*vol.Frames)
	for i := range vol.Data {
		vol.Data[i] = float64(i) * 0.5
	}

	for _, name := range []string{"bold.nii", "bold.nii.gz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(tmpDir, name)
			if err := SaveVolume4D(path, vol); err != nil {
				t.Fatalf("Failed to save volume: %v", err)
			}
			got, err := LoadVolume4D(path)
			if err != nil {
				t.Fatalf("Failed to load volume: %v", err)
			}
			if got.Dims != vol.Dims || got.Frames != vol.Frames {
				t.Fatalf("Expected shape %v x %d, got %v x %d", vol.Dims, vol.Frames, got.Dims, got.Frames)
			}
			if !got.Affine.AlmostEqual(vol.Affine, 1e-5) {
				t.Errorf("Affine mismatch: expected %v, got %v", vol.Affine, got.Affine)
			}
			if math.Abs(got.HeaderTR-2.0) > 1e-6 {
				t.Errorf("Expected header TR 2.0, got %f", got.HeaderTR)
			}
			for i := range vol.Data {
				if math.Abs(got.Data[i]-vol.Data[i]) > 1e-4 {
					t.Fatalf("Data mismatch at %d: expected %f, got %f", i, vol.Data[i], got.Data[i])
				}
			}
		})
	}
}

// TestMaskRoundTrip checks that masks are written as 0/1 on the reference grid
func TestMaskRoundTrip(t *testing.T) {
	tmpDir := createTempDir(t)
	defer os.RemoveAll(tmpDir)

	m := models.NewMask("wm", [3]int{2, 2, 2}, testAffine())
	m.Voxels[1] = true
	m.Voxels[6] = true

	path := filepath.Join(tmpDir, "masks", "mask_wm.nii.gz")
	if err := SaveMask(path, m); err != nil {
		t.Fatalf("Failed to save mask: %v", err)
	}
	img, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load mask: %v", err)
	}
	for i, v := range img.Data {
		want := 0.0
		if m.Voxels[i] {
			want = 1
		}
		if v != want {
			t.Errorf("Voxel %d: expected %v, got %v", i, want, v)
		}
	}
	if !img.Affine.AlmostEqual(m.Affine, 1e-5) {
		t.Errorf("Mask affine not preserved: %v", img.Affine)
	}
}

// TestLoadLabelsRejects4D ensures a multi-frame segmentation is refused
func TestLoadLabelsRejects4D(t *testing.T) {
	tmpDir := createTempDir(t)
	defer os.RemoveAll(tmpDir)

	vol := &models.Volume4D{Dims: [3]int{2, 2, 1}, Frames: 2, Affine: models.IdentityAffine(), Data: make([]float64, 8)}
	path := filepath.Join(tmpDir, "aseg.nii")
	if err := SaveVolume4D(path, vol); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	if _, err := LoadLabels(path); !isShapeMismatch(err) {
		t.Errorf("Expected ShapeMismatch, got %v", err)
	}
}

func isShapeMismatch(err error) bool {
	_, ok := err.(*models.ShapeMismatchError)
	return ok
}

// TestQuaternionAffine checks the qform path with an identity rotation
func TestQuaternionAffine(t *testing.T) {
	h := Header{QformCode: 1, QoffsetX: 10, QoffsetY: 20, QoffsetZ: 30}
	h.Pixdim = [8]float32{-1, 2, 3, 4, 0, 0, 0, 0}
	a := headerAffine(h)
	want := models.Affine{
		2, 0, 0, 10,
		0, 3, 0, 20,
		0, 0, -4, 30,
		0, 0, 0, 1,
	}
	if !a.AlmostEqual(want, 1e-9) {
		t.Errorf("Expected %v, got %v", want, a)
	}
}

// writeMGH encodes a minimal uchar MGH file the way FreeSurfer lays it out
func writeMGH(t *testing.T, dims [3]int, spacing [3]float32, cras [3]float32, data []uint8) []byte {
	var buf bytes.Buffer
	h := mghHeader{
		Version:     1,
		Width:       int32(dims[0]),
		Height:      int32(dims[1]),
		Depth:       int32(dims[2]),
		Frames:      1,
		Type:        mghUchar,
		GoodRASFlag: 1,
		Spacing:     spacing,
		Mdc:         [9]float32{-1, 0, 0, 0, 0, -1, 0, 1, 0},
		CRAS:        cras,
	}
	if err := binary.Write(&buf, binary.BigEndian, &h); err != nil {
		t.Fatalf("Failed to encode mgh header: %v", err)
	}
	buf.Write(make([]byte, mghDataOffset-binary.Size(h)))
	buf.Write(data)
	return buf.Bytes()
}

// TestReadMGH decodes a conformed-space MGH file and checks its vox2ras
func TestReadMGH(t *testing.T) {
	dims := [3]int{4, 4, 4}
	data := make([]uint8, 64)
	data[5] = 41
	data[63] = 2
	raw := writeMGH(t, dims, [3]float32{1, 1, 1}, [3]float32{1, 2, 3}, data)

	img, err := ReadMGH(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Failed to read mgh: %v", err)
	}
	if img.Dims != dims || img.Frames != 1 {
		t.Fatalf("Unexpected shape %v x %d", img.Dims, img.Frames)
	}
	if img.Data[5] != 41 || img.Data[63] != 2 {
		t.Errorf("Label values not preserved: %v %v", img.Data[5], img.Data[63])
	}

	// FreeSurfer conformed orientation (LIA) centred on c_ras
	want := models.Affine{
		-1, 0, 0, 1 + 2,
		0, 0, 1, 2 - 2,
		0, -1, 0, 3 + 2,
		0, 0, 0, 1,
	}
	if !img.Affine.AlmostEqual(want, 1e-6) {
		t.Errorf("Expected vox2ras %v, got %v", want, img.Affine)
	}

	// the voxel at the centre maps onto c_ras
	x, y, z := img.Affine.Apply(2, 2, 2)
	if math.Abs(x-1) > 1e-9 || math.Abs(y-2) > 1e-9 || math.Abs(z-3) > 1e-9 {
		t.Errorf("Centre voxel maps to (%f, %f, %f), expected c_ras", x, y, z)
	}
}

// TestDetectFormat covers the supported extensions
func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name       string
		format     format
		compressed bool
	}{
		{"bold.nii", formatNIfTI, false},
		{"BOLD.NII.GZ", formatNIfTI, true},
		{"aseg.mgz", formatMGH, true},
		{"aseg.mgh", formatMGH, false},
	}
	for _, c := range cases {
		f, gz, err := detectFormat(c.name)
		if err != nil {
			t.Errorf("%s: unexpected error %v", c.name, err)
			continue
		}
		if f != c.format || gz != c.compressed {
			t.Errorf("%s: expected (%v, %v), got (%v, %v)", c.name, c.format, c.compressed, f, gz)
		}
	}
	if _, _, err := detectFormat("motion.par"); err == nil {
		t.Error("Expected error for unsupported extension")
	}
}
