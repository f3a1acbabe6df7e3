// Package compcor extracts component-based noise regressors (CompCor) from
// tissue-masked BOLD signal.
package compcor

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"boldconfounds/internal/logging"
	"boldconfounds/internal/models"
	"boldconfounds/pkg/drift"
	"boldconfounds/pkg/signal"
)

// Defaults for the anatomical and temporal variants.
const (
	DefaultHighPassCutoff     = 128.0
	DefaultVarianceThreshold  = 0.5
	DefaultTemporalPercentile = 2.0
	DefaultTemporalComponents = 6
)

// Column prefixes by source.
const (
	PrefixWhiteMatter = "a_comp_cor_wm"
	PrefixCSF         = "a_comp_cor_csf"
	PrefixCombined    = "a_comp_cor"
	PrefixTemporal    = "t_comp_cor"
)

// Options configure one extraction.
type Options struct {
	// RepetitionTime in seconds, used to size the detrending basis
	RepetitionTime float64

	// HighPassCutoff is the period in seconds of the cosine prefilter
	HighPassCutoff float64

	// VarianceThreshold retains the smallest number of components whose
	// cumulative explained variance reaches it. Used when NumComponents is 0.
	VarianceThreshold float64

	// NumComponents retains a fixed number of components when positive
	NumComponents int

	// Prefix names the output columns: <Prefix>_00, <Prefix>_01, ...
	Prefix string
}

// DefaultOptions returns threshold-mode options for the given prefix.
func DefaultOptions(prefix string, tr float64) Options {
	return Options{
		RepetitionTime:    tr,
		HighPassCutoff:    DefaultHighPassCutoff,
		VarianceThreshold: DefaultVarianceThreshold,
		Prefix:            prefix,
	}
}

func (o Options) validate() error {
	if o.RepetitionTime <= 0 || math.IsNaN(o.RepetitionTime) {
		return &models.MissingMetadataError{Field: "repetition time"}
	}
	if o.Prefix == "" {
		return fmt.Errorf("compcor: column prefix is required")
	}
	if o.NumComponents < 0 {
		return fmt.Errorf("compcor %s: component count must not be negative, got %d", o.Prefix, o.NumComponents)
	}
	if o.NumComponents == 0 && (o.VarianceThreshold <= 0 || o.VarianceThreshold > 1) {
		return fmt.Errorf("compcor %s: variance threshold must be in (0, 1], got %g", o.Prefix, o.VarianceThreshold)
	}
	return nil
}

// Component describes one decomposed component.
type Component struct {
	Name                        string  `json:"name"`
	SingularValue               float64 `json:"singular_value"`
	VarianceExplained           float64 `json:"variance_explained"`
	CumulativeVarianceExplained float64 `json:"cumulative_variance_explained"`
	Retained                    bool    `json:"retained"`
}

// Result holds the retained component time series and the metadata of every
// non-degenerate component.
type Result struct {
	Prefix string
	Mask   string
	Voxels int

	// Names and Columns list the retained components in decreasing order of
	// explained variance; every column has one entry per frame
	Names   []string
	Columns [][]float64

	Components []Component
}

// Extract runs CompCor on the voxels of vol selected by mask. A mask that
// selects nothing is an EmptyMask error: zero components would read as
// "no noise" downstream.
func Extract(vol *models.Volume4D, mask *models.Mask, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	m, err := signal.Extract(vol, mask)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, &models.EmptyMaskError{Mask: fmt.Sprintf("%s (for %s)", mask.Name, opts.Prefix)}
	}
	res, err := Decompose(m, opts)
	if err != nil {
		return nil, err
	}
	res.Mask = mask.Name
	return res, nil
}

// Decompose runs the CompCor procedure on a time x voxel matrix, which it
// overwrites: detrend every voxel against a constant plus the cosine basis,
// scale to unit variance, decompose, then pick the component count.
func Decompose(m *mat.Dense, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	frames, nvox := m.Dims()
	if nvox == 0 {
		return nil, &models.EmptyMaskError{Mask: opts.Prefix}
	}

	q, err := detrendBasis(frames, opts.RepetitionTime, opts.HighPassCutoff)
	if err != nil {
		return nil, fmt.Errorf("compcor %s: %w", opts.Prefix, err)
	}
	col := make([]float64, frames)
	for v := 0; v < nvox; v++ {
		mat.Col(col, v, m)
		for _, b := range q {
			floats.AddScaled(col, -floats.Dot(b, col), b)
		}
		sd := stat.PopStdDev(col, nil)
		if sd == 0 || math.IsNaN(sd) {
			sd = 1
		}
		floats.Scale(1/sd, col)
		m.SetCol(v, col)
	}

	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDThinU); !ok {
		return nil, fmt.Errorf("compcor %s: singular value decomposition did not converge", opts.Prefix)
	}
	// singular values come back in descending order
	sv := svd.Values(nil)
	var left mat.Dense
	svd.UTo(&left)

	rank := numericalRank(sv, frames, nvox)
	if rank == 0 {
		return nil, fmt.Errorf("compcor %s: signal in %d voxel(s) has no variance after detrending", opts.Prefix, nvox)
	}

	var total float64
	for _, s := range sv[:rank] {
		total += s * s
	}
	res := &Result{Prefix: opts.Prefix, Voxels: nvox}
	var cum float64
	for i := 0; i < rank; i++ {
		ve := sv[i] * sv[i] / total
		cum += ve
		res.Components = append(res.Components, Component{
			Name:                        fmt.Sprintf("%s_%02d", opts.Prefix, i),
			SingularValue:               sv[i],
			VarianceExplained:           ve,
			CumulativeVarianceExplained: cum,
		})
	}

	keep := retainCount(res.Components, opts)
	for i := 0; i < keep; i++ {
		u := mat.Col(nil, i, &left)
		fixSign(u)
		res.Components[i].Retained = true
		res.Names = append(res.Names, res.Components[i].Name)
		res.Columns = append(res.Columns, u)
	}
	logging.Debugf("CompCor %s: %d voxels, rank %d, retained %d component(s) explaining %.3f of variance\n",
		opts.Prefix, nvox, rank, keep, res.Components[keep-1].CumulativeVarianceExplained)
	return res, nil
}

// retainCount picks the number of components for either mode.
func retainCount(comps []Component, opts Options) int {
	if opts.NumComponents > 0 {
		if opts.NumComponents > len(comps) {
			logging.Warningf("CompCor %s: requested %d components but the data has rank %d; using %d\n",
				opts.Prefix, opts.NumComponents, len(comps), len(comps))
			return len(comps)
		}
		return opts.NumComponents
	}
	for i, c := range comps {
		if c.CumulativeVarianceExplained >= opts.VarianceThreshold-1e-12 {
			return i + 1
		}
	}
	return len(comps)
}

// numericalRank counts singular values above the usual floating point cutoff.
func numericalRank(sv []float64, rows, cols int) int {
	if len(sv) == 0 || sv[0] == 0 {
		return 0
	}
	tol := sv[0] * float64(max(rows, cols)) * 2.220446049250313e-16
	rank := 0
	for _, s := range sv {
		if s > tol {
			rank++
		}
	}
	return rank
}

// fixSign flips u so its largest-magnitude entry is positive.
func fixSign(u []float64) {
	if len(u) == 0 {
		return
	}
	i := floats.MaxIdx(absAll(u))
	if u[i] < 0 {
		floats.Scale(-1, u)
	}
}

func absAll(u []float64) []float64 {
	out := make([]float64, len(u))
	for i, v := range u {
		out[i] = math.Abs(v)
	}
	return out
}

// detrendBasis returns an orthonormal set spanning a constant and the cosine
// drift basis, built with modified Gram-Schmidt.
func detrendBasis(frames int, tr, cutoff float64) ([][]float64, error) {
	if cutoff <= 0 {
		cutoff = DefaultHighPassCutoff
	}
	cos, err := drift.NewBasis(frames, tr, cutoff)
	if err != nil {
		return nil, err
	}
	constant := make([]float64, frames)
	for i := range constant {
		constant[i] = 1
	}
	candidates := append([][]float64{constant}, cos.Columns...)

	var q [][]float64
	for _, c := range candidates {
		v := append([]float64(nil), c...)
		for _, b := range q {
			floats.AddScaled(v, -floats.Dot(b, v), b)
		}
		n := floats.Norm(v, 2)
		if n < 1e-10 {
			continue
		}
		floats.Scale(1/n, v)
		q = append(q, v)
	}
	return q, nil
}

// TemporalMask selects the brain voxels whose temporal variance, after removing
// the constant and the cosine drift basis for tr and cutoff, is in the top
// percentile percent. An empty brain mask is an EmptyMask error.
func TemporalMask(vol *models.Volume4D, brain *models.Mask, percentile, tr, cutoff float64) (*models.Mask, error) {
	if percentile <= 0 || percentile > 100 {
		return nil, fmt.Errorf("tcompcor percentile must be in (0, 100], got %g", percentile)
	}
	m, err := signal.Extract(vol, brain)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, &models.EmptyMaskError{Mask: fmt.Sprintf("%s (for %s)", brain.Name, PrefixTemporal)}
	}
	frames, nvox := m.Dims()
	q, err := detrendBasis(frames, tr, cutoff)
	if err != nil {
		return nil, fmt.Errorf("tcompcor mask: %w", err)
	}
	variances := make([]float64, nvox)
	col := make([]float64, frames)
	for v := range variances {
		mat.Col(col, v, m)
		for _, b := range q {
			floats.AddScaled(col, -floats.Dot(b, col), b)
		}
		variances[v] = stat.PopVariance(col, nil)
	}
	sorted := append([]float64(nil), variances...)
	sort.Float64s(sorted)
	threshold := stat.Quantile(1-percentile/100, stat.Empirical, sorted, nil)

	out := models.NewMask("tcompcor", brain.Dims, brain.Affine)
	for v, idx := range brain.Indices() {
		if variances[v] >= threshold {
			out.Voxels[idx] = true
		}
	}
	logging.Debugf("tCompCor mask: %d of %d brain voxels at variance >= %g\n", out.Count(), nvox, threshold)
	return out, nil
}
