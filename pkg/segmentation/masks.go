// Package segmentation derives tissue masks on the functional grid from a
// labeled anatomical segmentation.
package segmentation

import (
	"fmt"
	"path/filepath"

	"boldconfounds/internal/logging"
	"boldconfounds/internal/models"
	"boldconfounds/pkg/volumeio"
)

// Mask names, also used as file name stems and in error messages
const (
	BrainMask      = "brain"
	WhiteMatter    = "wm"
	GrayMatter     = "gm"
	CSF            = "csf"
	CombinedTissue = "wmcsf"
)

// TissueCodes lists the label values that make up each tissue class.
// It is plain data so several segmentation conventions can coexist.
type TissueCodes struct {
	WhiteMatter []int32 `yaml:"whiteMatter" toml:"white_matter"`
	GrayMatter  []int32 `yaml:"grayMatter" toml:"gray_matter"`
	CSF         []int32 `yaml:"csf" toml:"csf"`
}

// FreeSurferAseg returns the codes of FreeSurfer's aseg.mgz: cerebral white
// matter, cerebral cortex, and ventricles plus CSF-like structures.
func FreeSurferAseg() TissueCodes {
	return TissueCodes{
		WhiteMatter: []int32{2, 41},
		GrayMatter:  []int32{3, 42},
		CSF:         []int32{4, 43, 14, 15, 24},
	}
}

// Validate ensures every class has at least one code and no code is shared.
func (c TissueCodes) Validate() error {
	seen := make(map[int32]string)
	for _, class := range []struct {
		name  string
		codes []int32
	}{
		{WhiteMatter, c.WhiteMatter},
		{GrayMatter, c.GrayMatter},
		{CSF, c.CSF},
	} {
		if len(class.codes) == 0 {
			return fmt.Errorf("no label codes given for %s", class.name)
		}
		for _, code := range class.codes {
			if code == 0 {
				return fmt.Errorf("label 0 is background and cannot be a %s code", class.name)
			}
			if other, ok := seen[code]; ok && other != class.name {
				return fmt.Errorf("label %d assigned to both %s and %s", code, other, class.name)
			}
			seen[code] = class.name
		}
	}
	return nil
}

func codeSet(codes []int32) map[int32]struct{} {
	set := make(map[int32]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}

// Masks are the products of Build, all on the functional grid.
type Masks struct {
	Brain       *models.Mask
	WhiteMatter *models.Mask
	CSF         *models.Mask
	Combined    *models.Mask

	// GrayMatterDilated is the cortex mask after dilation, kept for QC
	GrayMatterDilated *models.Mask
}

// Build resamples labels onto the grid of ref and classifies voxels.
// Gray matter is dilated dilateIter times (6-connected) and removed from the
// white-matter and CSF masks to reduce partial-volume contamination.
func Build(labels *models.LabelVolume, ref *models.Volume4D, codes TissueCodes, dilateIter int) (*Masks, error) {
	if dilateIter < 0 {
		return nil, fmt.Errorf("dilation iterations must be >= 0, got %d", dilateIter)
	}
	if err := codes.Validate(); err != nil {
		return nil, err
	}
	rs, err := Resample(labels, ref)
	if err != nil {
		return nil, err
	}

	wmCodes := codeSet(codes.WhiteMatter)
	gmCodes := codeSet(codes.GrayMatter)
	csfCodes := codeSet(codes.CSF)

	brain := models.NewMask(BrainMask, ref.Dims, ref.Affine)
	wm := models.NewMask(WhiteMatter, ref.Dims, ref.Affine)
	gm := models.NewMask(GrayMatter, ref.Dims, ref.Affine)
	csf := models.NewMask(CSF, ref.Dims, ref.Affine)
	for i, code := range rs.Labels {
		if code == 0 {
			continue
		}
		brain.Voxels[i] = true
		if _, ok := wmCodes[code]; ok {
			wm.Voxels[i] = true
		}
		if _, ok := gmCodes[code]; ok {
			gm.Voxels[i] = true
		}
		if _, ok := csfCodes[code]; ok {
			csf.Voxels[i] = true
		}
	}

	gmDil := Dilate(gm, dilateIter)
	combined := models.NewMask(CombinedTissue, ref.Dims, ref.Affine)
	for i := range gmDil.Voxels {
		if gmDil.Voxels[i] {
			wm.Voxels[i] = false
			csf.Voxels[i] = false
		}
		combined.Voxels[i] = wm.Voxels[i] || csf.Voxels[i]
	}

	logging.Infof("Tissue masks: brain=%d wm=%d csf=%d wmcsf=%d voxels (gm dilated %d time(s))\n",
		brain.Count(), wm.Count(), csf.Count(), combined.Count(), dilateIter)

	return &Masks{
		Brain:             brain,
		WhiteMatter:       wm,
		CSF:               csf,
		Combined:          combined,
		GrayMatterDilated: gmDil,
	}, nil
}

// Save writes the four masks as uint8 NIfTI files into dir and returns their paths.
func (m *Masks) Save(dir string) ([]string, error) {
	var paths []string
	for _, mask := range []*models.Mask{m.Brain, m.WhiteMatter, m.CSF, m.Combined} {
		path := filepath.Join(dir, fmt.Sprintf("mask_%s.nii.gz", mask.Name))
		if err := volumeio.SaveMask(path, mask); err != nil {
			return nil, fmt.Errorf("failed to save %s mask: %w", mask.Name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// Dilate grows mask by iterations steps of 6-connected (face neighbour)
// binary dilation. Voxels outside the grid count as background.
func Dilate(mask *models.Mask, iterations int) *models.Mask {
	out := &models.Mask{
		Name:   mask.Name,
		Dims:   mask.Dims,
		Affine: mask.Affine,
		Voxels: append([]bool(nil), mask.Voxels...),
	}
	nx, ny, nz := mask.Dims[0], mask.Dims[1], mask.Dims[2]
	plane := nx * ny
	next := make([]bool, len(out.Voxels))
	var nb [6]int
	for it := 0; it < iterations; it++ {
		copy(next, out.Voxels)
		changed := false
		for z := 0; z < nz; z++ {
			for y := 0; y < ny; y++ {
				for x := 0; x < nx; x++ {
					i := x + nx*(y+ny*z)
					if !out.Voxels[i] {
						continue
					}
					k := 0
					if x > 0 {
						nb[k] = i - 1
						k++
					}
					if x < nx-1 {
						nb[k] = i + 1
						k++
					}
					if y > 0 {
						nb[k] = i - nx
						k++
					}
					if y < ny-1 {
						nb[k] = i + nx
						k++
					}
					if z > 0 {
						nb[k] = i - plane
						k++
					}
					if z < nz-1 {
						nb[k] = i + plane
						k++
					}
					for _, n := range nb[:k] {
						if !next[n] {
							next[n] = true
							changed = true
						}
					}
				}
			}
		}
		out.Voxels, next = next, out.Voxels
		if !changed {
			break
		}
	}
	return out
}
