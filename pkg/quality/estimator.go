package quality

import (
	"errors"
	"fmt"
	"math"

	"github.com/blang/semver"

	"boldconfounds/internal/logging"
	"boldconfounds/internal/models"
)

// NativeVersion is the version of the built-in estimator.
var NativeVersion = semver.MustParse("1.0.0")

// SupportedRange lists the estimator versions whose Result shape the
// pipeline understands.
var SupportedRange = semver.MustParseRange(">=1.0.0 <2.0.0")

// Input is everything a quality estimator may look at.
type Input struct {
	Motion    *models.MotionTrace
	BOLD      *models.Volume4D
	BrainMask *models.Mask

	// RepetitionTime in seconds
	RepetitionTime float64

	// AllowEmptyMask turns an empty brain mask into all-missing DVARS
	// instead of an EmptyMask error
	AllowEmptyMask bool
}

// Result is the canonical output shape of every estimator. Series may be
// returned with length T, T-1 or T-2; Run aligns them to T.
type Result struct {
	FramewiseDisplacement []float64
	DVARS                 []float64
	StdDVARS              []float64
	VoxelStdDVARS         []float64
}

// Estimator is a versioned source of motion quality series. Implementations
// backed by an external toolkit translate its output into Result.
type Estimator interface {
	Version() semver.Version
	Estimate(in Input) (*Result, error)
}

// Native computes the series in process.
type Native struct {
	HeadRadius float64
	DVARS      DVARSOptions
}

// NewNative returns a native estimator with default constants.
func NewNative() *Native {
	return &Native{HeadRadius: DefaultHeadRadius, DVARS: DefaultDVARSOptions()}
}

func (n *Native) Version() semver.Version { return NativeVersion }

// Estimate returns FD with one value per frame and DVARS with one value per
// frame transition.
func (n *Native) Estimate(in Input) (*Result, error) {
	if in.Motion == nil || in.BOLD == nil || in.BrainMask == nil {
		return nil, fmt.Errorf("quality estimation needs motion, BOLD and brain mask inputs")
	}
	res := &Result{FramewiseDisplacement: FramewiseDisplacement(in.Motion, n.HeadRadius)}

	dv, err := DVARS(in.BOLD, in.BrainMask, n.DVARS)
	if err != nil {
		if !(in.AllowEmptyMask && errors.Is(err, models.ErrEmptyMask)) {
			return nil, err
		}
		logging.Warningf("DVARS skipped: %v\n", err)
		missing := make([]float64, in.BOLD.Frames-1)
		for i := range missing {
			missing[i] = math.NaN()
		}
		dv = &DVARSResult{Raw: missing, Standardized: missing, VoxelStandardized: missing}
	}
	res.DVARS = dv.Raw
	res.StdDVARS = dv.Standardized
	res.VoxelStdDVARS = dv.VoxelStandardized
	return res, nil
}

// CheckCompatible fails when the estimator's version is outside SupportedRange.
func CheckCompatible(e Estimator) error {
	if v := e.Version(); !SupportedRange(v) {
		return fmt.Errorf("quality estimator version %s is not supported (need >=1.0.0 <2.0.0)", v)
	}
	return nil
}

// Run checks the estimator's version, runs it, and pads every series to the
// BOLD frame count. A series of any other length is a LengthMismatch.
func Run(e Estimator, in Input) (*Result, error) {
	if err := CheckCompatible(e); err != nil {
		return nil, err
	}
	if in.Motion == nil || in.BOLD == nil {
		return nil, fmt.Errorf("quality estimation needs motion and BOLD inputs")
	}
	if err := in.Motion.CheckFrames(in.BOLD.Frames); err != nil {
		return nil, err
	}
	raw, err := e.Estimate(in)
	if err != nil {
		return nil, err
	}

	frames := in.BOLD.Frames
	fd, err := PadFramewise(raw.FramewiseDisplacement, frames)
	if err != nil {
		return nil, err
	}
	out := &Result{FramewiseDisplacement: fd}
	for _, s := range []struct {
		name string
		src  []float64
		dst  *[]float64
	}{
		{"dvars", raw.DVARS, &out.DVARS},
		{"std_dvars", raw.StdDVARS, &out.StdDVARS},
		{"vx_std_dvars", raw.VoxelStdDVARS, &out.VoxelStdDVARS},
	} {
		padded, err := PadLeading(s.name, s.src, frames)
		if err != nil {
			return nil, err
		}
		*s.dst = padded
	}
	return out, nil
}
