package quality

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"boldconfounds/internal/logging"
	"boldconfounds/internal/models"
	"boldconfounds/pkg/signal"
)

// DefaultIntensityNormalization is the value the global median of the masked
// signal is scaled to before DVARS is computed.
const DefaultIntensityNormalization = 1000.0

// DefaultVarianceTolerance is the robust SD at or below which a voxel is
// considered constant and excluded.
const DefaultVarianceTolerance = 1e-7

// interquartile range of a unit normal
const iqrToSD = 1.349

// DVARSOptions control the DVARS computation.
type DVARSOptions struct {
	// IntensityNormalization scales the masked data so its median equals this
	// value; 0 disables scaling
	IntensityNormalization float64

	// VarianceTolerance drops voxels whose robust SD is not above it
	VarianceTolerance float64
}

// DefaultDVARSOptions returns the standard settings.
func DefaultDVARSOptions() DVARSOptions {
	return DVARSOptions{
		IntensityNormalization: DefaultIntensityNormalization,
		VarianceTolerance:      DefaultVarianceTolerance,
	}
}

// DVARSResult holds the three DVARS variants. Each has one entry per frame
// transition, so frames-1 values; PadLeading aligns them with the run.
type DVARSResult struct {
	// Raw is the RMS over voxels of the temporal difference
	Raw []float64

	// Standardized divides Raw by the mean predicted SD of the difference
	Standardized []float64

	// VoxelStandardized standardizes each voxel's difference before the RMS
	VoxelStandardized []float64
}

// DVARS computes raw and standardized DVARS inside the brain mask following
// Nichols' standardization: robust per-voxel SD from the interquartile range,
// lag-1 autocorrelation from the Yule-Walker estimate, predicted difference SD
// sqrt(2(1-ar1))*sd. An empty mask is an EmptyMask error.
func DVARS(vol *models.Volume4D, brain *models.Mask, opts DVARSOptions) (*DVARSResult, error) {
	m, err := signal.Extract(vol, brain)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, &models.EmptyMaskError{Mask: brain.Name}
	}
	frames, nvox := m.Dims()

	// voxel-major copy, one series per voxel
	series := make([][]float64, nvox)
	all := make([]float64, 0, frames*nvox)
	for v := 0; v < nvox; v++ {
		s := make([]float64, frames)
		for t := 0; t < frames; t++ {
			s[t] = m.At(t, v)
		}
		series[v] = s
		all = append(all, s...)
	}

	if opts.IntensityNormalization != 0 {
		med := median(all)
		if med != 0 {
			scale := opts.IntensityNormalization / med
			for _, s := range series {
				floats.Scale(scale, s)
			}
		}
	}

	res := &DVARSResult{
		Raw:               make([]float64, frames-1),
		Standardized:      make([]float64, frames-1),
		VoxelStandardized: make([]float64, frames-1),
	}
	if frames < 2 {
		return res, nil
	}

	var kept [][]float64
	var diffSD []float64
	for _, s := range series {
		sd := robustSD(s)
		if sd <= opts.VarianceTolerance {
			continue
		}
		kept = append(kept, s)
		diffSD = append(diffSD, math.Sqrt(2*(1-ar1(s)))*sd)
	}
	if len(kept) == 0 {
		logging.Warningf("All %d voxels in the %s mask have zero variance; DVARS is undefined\n", nvox, brain.Name)
		for t := range res.Raw {
			res.Raw[t], res.Standardized[t], res.VoxelStandardized[t] = math.NaN(), math.NaN(), math.NaN()
		}
		return res, nil
	}
	if dropped := nvox - len(kept); dropped > 0 {
		logging.Debugf("DVARS: excluded %d zero-variance voxel(s) of %d\n", dropped, nvox)
	}

	meanDiffSD := stat.Mean(diffSD, nil)
	n := float64(len(kept))
	for t := 0; t < frames-1; t++ {
		var sq, vsq float64
		for v, s := range kept {
			d := s[t+1] - s[t]
			sq += d * d
			z := d / diffSD[v]
			vsq += z * z
		}
		res.Raw[t] = math.Sqrt(sq / n)
		res.Standardized[t] = res.Raw[t] / meanDiffSD
		res.VoxelStandardized[t] = math.Sqrt(vsq / n)
	}
	return res, nil
}

// robustSD estimates the standard deviation from the interquartile range
// using lower-interpolated percentiles.
func robustSD(x []float64) float64 {
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	return (lowerPercentile(sorted, 0.75) - lowerPercentile(sorted, 0.25)) / iqrToSD
}

// lowerPercentile takes the sample at or below the fractional rank p*(n-1).
func lowerPercentile(sorted []float64, p float64) float64 {
	return sorted[int(math.Floor(p*float64(len(sorted)-1)))]
}

// ar1 is the order-1 Yule-Walker coefficient of the demeaned series.
func ar1(x []float64) float64 {
	mean := stat.Mean(x, nil)
	var r0, r1 float64
	for t, v := range x {
		d := v - mean
		r0 += d * d
		if t+1 < len(x) {
			r1 += d * (x[t+1] - mean)
		}
	}
	if r0 == 0 {
		return 0
	}
	return r1 / r0
}

// median returns the median of values
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
