// Package quality computes per-frame motion quality series: framewise
// displacement from the motion parameters and DVARS from the BOLD signal.
package quality

import (
	"math"

	"boldconfounds/internal/models"
)

// DefaultHeadRadius is the sphere radius in mm used to turn rotations in
// radians into arc-length displacement.
const DefaultHeadRadius = 50.0

// FramewiseDisplacement returns the Power framewise displacement for each
// frame: the summed absolute backward differences of the six parameters,
// rotations scaled by radius. The result has one entry per frame and
// FD[0] is defined as exactly 0; it is never missing and never a copy of FD[1].
func FramewiseDisplacement(trace *models.MotionTrace, radius float64) []float64 {
	fd := make([]float64, trace.Len())
	for t := 1; t < trace.Len(); t++ {
		prev, cur := trace.Rows[t-1], trace.Rows[t]
		var sum float64
		for c := 0; c < 6; c++ {
			d := math.Abs(cur[c] - prev[c])
			if c < 3 {
				d *= radius
			}
			sum += d
		}
		fd[t] = sum
	}
	return fd
}

// Outliers returns the frames whose framewise displacement exceeds fdThreshold
// or whose standardized DVARS exceeds dvarsThreshold. Missing values never
// flag a frame.
func Outliers(fd, stdDVARS []float64, fdThreshold, dvarsThreshold float64) []int {
	var frames []int
	for t := range fd {
		over := fd[t] > fdThreshold
		if t < len(stdDVARS) && stdDVARS[t] > dvarsThreshold {
			over = true
		}
		if over {
			frames = append(frames, t)
		}
	}
	return frames
}
