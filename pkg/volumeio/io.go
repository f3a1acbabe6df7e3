// Package volumeio reads and writes the volumetric files at the pipeline boundary:
// NIfTI-1 (.nii, .nii.gz) for functional data and masks, FreeSurfer MGH
// (.mgh, .mgz) for segmentations.
package volumeio

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"

	"boldconfounds/internal/logging"
	"boldconfounds/internal/models"
)

// Image is a decoded volume of any supported format.
type Image struct {
	Dims   [3]int
	Frames int
	Affine models.Affine
	Data   []float64

	// TR is the repetition time in seconds if the format records it
	TR float64
}

type format int

const (
	formatNIfTI format = iota
	formatMGH
)

// detectFormat maps a filename to its format and whether it is gzip compressed.
func detectFormat(path string) (format, bool, error) {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(name, ".nii.gz"):
		return formatNIfTI, true, nil
	case strings.HasSuffix(name, ".nii"):
		return formatNIfTI, false, nil
	case strings.HasSuffix(name, ".mgz"), strings.HasSuffix(name, ".mgh.gz"):
		return formatMGH, true, nil
	case strings.HasSuffix(name, ".mgh"):
		return formatMGH, false, nil
	}
	return 0, false, fmt.Errorf("unrecognized volume file extension: %s", path)
}

// Load reads any supported volume file.
func Load(path string) (*Image, error) {
	fmtType, compressed, err := detectFormat(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if compressed {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream %s: %w", path, err)
		}
		defer zr.Close()
		r = zr
	}

	var img *Image
	switch fmtType {
	case formatNIfTI:
		img, err = ReadNIfTI(r)
	case formatMGH:
		img, err = ReadMGH(r)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	logging.Debugf("Loaded %s: %dx%dx%d, %d frame(s), %s in memory\n", filepath.Base(path),
		img.Dims[0], img.Dims[1], img.Dims[2], img.Frames, humanize.Bytes(uint64(8*len(img.Data))))
	return img, nil
}

// Save writes img as NIfTI-1 with datatype dt, gzip compressed when the path
// ends in .gz. Only NIfTI output is supported.
func Save(path string, img *Image, dt int16) error {
	fmtType, compressed, err := detectFormat(path)
	if err != nil {
		return err
	}
	if fmtType != formatNIfTI {
		return fmt.Errorf("only NIfTI output is supported: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	var w io.Writer = f
	var zw *gzip.Writer
	if compressed {
		zw = gzip.NewWriter(f)
		w = zw
	}
	if err := WriteNIfTI(w, img, dt); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

// LoadVolume4D reads a functional time series.
func LoadVolume4D(path string) (*models.Volume4D, error) {
	img, err := Load(path)
	if err != nil {
		return nil, err
	}
	vol := &models.Volume4D{
		Dims:     img.Dims,
		Frames:   img.Frames,
		Affine:   img.Affine,
		Data:     img.Data,
		HeaderTR: img.TR,
	}
	if err := vol.Validate(); err != nil {
		return nil, fmt.Errorf("invalid volume %s: %w", path, err)
	}
	return vol, nil
}

// LoadLabels reads a 3D segmentation. Values are rounded to the nearest
// integer code; a multi-frame file is a ShapeMismatch.
func LoadLabels(path string) (*models.LabelVolume, error) {
	img, err := Load(path)
	if err != nil {
		return nil, err
	}
	if img.Frames != 1 {
		return nil, &models.ShapeMismatchError{
			Source: "segmentation " + filepath.Base(path),
			Want:   "a 3D volume",
			Got:    fmt.Sprintf("%d frames", img.Frames),
		}
	}
	labels := make([]int32, len(img.Data))
	for i, v := range img.Data {
		labels[i] = int32(math.Round(v))
	}
	return &models.LabelVolume{Dims: img.Dims, Affine: img.Affine, Labels: labels}, nil
}

// SaveMask writes a mask as a uint8 0/1 volume on its own grid.
func SaveMask(path string, m *models.Mask) error {
	data := make([]float64, len(m.Voxels))
	for i, on := range m.Voxels {
		if on {
			data[i] = 1
		}
	}
	return Save(path, &Image{Dims: m.Dims, Frames: 1, Affine: m.Affine, Data: data}, DTUint8)
}

// SaveVolume4D writes a functional series as float32.
func SaveVolume4D(path string, v *models.Volume4D) error {
	return Save(path, &Image{Dims: v.Dims, Frames: v.Frames, Affine: v.Affine, Data: v.Data, TR: v.HeaderTR}, DTFloat32)
}

// SaveLabels writes a segmentation as int32 codes.
func SaveLabels(path string, l *models.LabelVolume) error {
	data := make([]float64, len(l.Labels))
	for i, v := range l.Labels {
		data[i] = float64(v)
	}
	return Save(path, &Image{Dims: l.Dims, Frames: 1, Affine: l.Affine, Data: data}, DTInt32)
}
