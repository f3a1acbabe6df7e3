package motion

import (
	"math"
	"strings"
	"testing"

	"boldconfounds/internal/models"
)

const samplePar = `0.001 0.002 0.003 0.1 0.2 0.3
# comment
0.002 0.002 0.001 0.2 0.1 0.5

0.004 0.000 0.001 0.1 0.1 0.4
`

func TestLoad(t *testing.T) {
	trace, err := Load(strings.NewReader(samplePar))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if trace.Len() != 3 {
		t.Fatalf("Expected 3 frames, got %d", trace.Len())
	}
	if trace.Rows[1][5] != 0.5 {
		t.Errorf("Expected trans_z of frame 1 to be 0.5, got %f", trace.Rows[1][5])
	}
}

func TestLoadRejectsWrongColumnCount(t *testing.T) {
	_, err := Load(strings.NewReader("1 2 3 4 5 6\n1 2 3 4 5\n"))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("Expected error naming line 2, got %v", err)
	}
	if _, err := Load(strings.NewReader("\n\n")); err == nil {
		t.Error("Expected error for empty file")
	}
	if _, err := Load(strings.NewReader("1 2 3 4 5 x\n")); err == nil {
		t.Error("Expected error for non-numeric value")
	}
}

// TestExpandShape checks the 24-column contract for several lengths
func TestExpandShape(t *testing.T) {
	for _, frames := range []int{1, 2, 7} {
		trace := &models.MotionTrace{Rows: make([]models.MotionParams, frames)}
		for i := range trace.Rows {
			for c := 0; c < 6; c++ {
				trace.Rows[i][c] = float64(i*(c+1)) + 0.5
			}
		}
		cols := Expand(trace)
		if len(cols) != 24 {
			t.Fatalf("T=%d: expected 24 columns, got %d", frames, len(cols))
		}
		names := ExpandedNames(BaseNames)
		for i, c := range cols {
			if c.Name != names[i] {
				t.Errorf("Column %d: expected %s, got %s", i, names[i], c.Name)
			}
			if len(c.Values) != frames {
				t.Errorf("T=%d column %s: expected %d rows, got %d", frames, c.Name, frames, len(c.Values))
			}
			if strings.Contains(c.Name, SuffixDerivative) && c.Values[0] != 0 {
				t.Errorf("T=%d column %s: first derivative row must be exactly 0, got %f", frames, c.Name, c.Values[0])
			}
		}
	}
}

// TestExpandValues maps MCFLIRT columns onto canonical names
func TestExpandValues(t *testing.T) {
	trace, err := Load(strings.NewReader(samplePar))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	byName := make(map[string][]float64)
	for _, c := range Expand(trace) {
		byName[c.Name] = c.Values
	}

	if got := byName["trans_z"]; got[1] != 0.5 {
		t.Errorf("trans_z[1]: expected 0.5, got %f", got[1])
	}
	if got := byName["rot_x"]; got[2] != 0.004 {
		t.Errorf("rot_x[2]: expected 0.004, got %f", got[2])
	}
	if got := byName["trans_z_derivative1"]; math.Abs(got[2]-(-0.1)) > 1e-12 {
		t.Errorf("trans_z_derivative1[2]: expected -0.1, got %f", got[2])
	}
	if got := byName["trans_y_power2"]; math.Abs(got[0]-0.04) > 1e-12 {
		t.Errorf("trans_y_power2[0]: expected 0.04, got %f", got[0])
	}
	if got := byName["trans_z_derivative1_power2"]; math.Abs(got[1]-0.04) > 1e-12 {
		t.Errorf("trans_z_derivative1_power2[1]: expected 0.04, got %f", got[1])
	}
}

// TestBackwardDiffMissing keeps a missing series missing
func TestBackwardDiffMissing(t *testing.T) {
	nan := math.NaN()
	d := BackwardDiff([]float64{nan, nan, nan})
	for i, v := range d {
		if !math.IsNaN(v) {
			t.Errorf("Entry %d: expected missing, got %f", i, v)
		}
	}
	d = BackwardDiff([]float64{1, 3, 2})
	if d[0] != 0 || d[1] != 2 || d[2] != -1 {
		t.Errorf("Unexpected differences %v", d)
	}
}
