package confounds

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"strings"
	"testing"

	"boldconfounds/internal/models"
	"boldconfounds/pkg/motion"
)

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// sampleColumns returns one column of each kind, in a shuffled order
// that puts every group out of place.
func sampleColumns(frames int) []Column {
	var cols []Column
	for _, n := range []string{
		"cosine_01", "motion_outlier_00", "a_comp_cor_wm_01", "std_dvars",
		"white_matter", "rot_z_derivative1_power2", "a_comp_cor_csf_00",
		"framewise_displacement", "cosine_00", "trans_x", "global_signal_power2",
		"extra_b", "dvars", "a_comp_cor_00", "trans_y", "a_comp_cor_wm_00",
		"global_signal", "extra_a", "rot_x_derivative1",
	} {
		cols = append(cols, Column{Name: n, Values: constant(frames, 1)})
	}
	return cols
}

var expectedOrder = []string{
	"trans_x", "trans_y", "rot_x_derivative1", "rot_z_derivative1_power2",
	"global_signal", "white_matter", "global_signal_power2",
	"framewise_displacement",
	"dvars", "std_dvars",
	"a_comp_cor_00", "a_comp_cor_csf_00", "a_comp_cor_wm_00", "a_comp_cor_wm_01",
	"cosine_00", "cosine_01",
	"motion_outlier_00", "extra_b", "extra_a",
}

func TestTableOrder(t *testing.T) {
	a := NewAssembler(3)
	for _, c := range sampleColumns(3) {
		if err := a.Add("test", c); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	got := a.Table().Names()
	if strings.Join(got, ",") != strings.Join(expectedOrder, ",") {
		t.Errorf("Unexpected order:\n got  %v\n want %v", got, expectedOrder)
	}
}

// TestTableOrderIndependentOfInsertion shuffles the classified columns many
// times; residual columns keep their relative order.
func TestTableOrderIndependentOfInsertion(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	cols := sampleColumns(2)
	var classified, residual []Column
	for _, c := range cols {
		if g, _ := classify(c.Name); g == groupOther {
			residual = append(residual, c)
		} else {
			classified = append(classified, c)
		}
	}

	var first string
	for i := 0; i < 20; i++ {
		rng.Shuffle(len(classified), func(a, b int) { classified[a], classified[b] = classified[b], classified[a] })
		a := NewAssembler(2)
		if err := a.Add("classified", classified...); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if err := a.Add("residual", residual...); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		names := strings.Join(a.Table().Names(), ",")
		if i == 0 {
			first = names
		} else if names != first {
			t.Fatalf("Order changed with insertion order:\n%s\n%s", first, names)
		}
	}
}

func TestFullMotionOrder(t *testing.T) {
	trace := &models.MotionTrace{Rows: make([]models.MotionParams, 4)}
	a := NewAssembler(4)
	expanded := FromSeries(motion.Expand(trace))
	// add in reverse
	for i := len(expanded) - 1; i >= 0; i-- {
		if err := a.Add("motion", expanded[i]); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	got := a.Table().Names()
	want := motion.ExpandedNames(motion.BaseNames)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestAddLengthMismatch(t *testing.T) {
	a := NewAssembler(5)
	err := a.Add("dvars", Column{Name: DVARS, Values: constant(4, 1)})
	var lm *models.LengthMismatchError
	if !errors.As(err, &lm) {
		t.Fatalf("Expected LengthMismatch, got %v", err)
	}
	if lm.Got != 4 || lm.Want != 5 || !strings.Contains(lm.Source, "dvars") {
		t.Errorf("Unexpected error details: %+v", lm)
	}
	if len(a.Table().Columns) != 0 {
		t.Error("A rejected Add must not add columns")
	}
}

func TestAddDuplicate(t *testing.T) {
	a := NewAssembler(2)
	if err := a.Add("motion", Column{Name: "trans_x", Values: constant(2, 0)}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := a.Add("other", Column{Name: "trans_x", Values: constant(2, 0)}); err == nil {
		t.Error("Expected an error for a duplicate column")
	}
	dup := Column{Name: "x", Values: constant(2, 0)}
	if err := a.Add("other", dup, dup); err == nil {
		t.Error("Expected an error for a column repeated within one source")
	}
}

func TestWriteTSV(t *testing.T) {
	a := NewAssembler(3)
	if err := a.Add("quality",
		Column{Name: DVARS, Values: []float64{math.NaN(), 12.5, 3}},
		Column{Name: FramewiseDisplacement, Values: []float64{0, 0.1, 1e-7}},
	); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteTSV(&buf, a.Table()); err != nil {
		t.Fatalf("WriteTSV failed: %v", err)
	}
	want := "framewise_displacement\tdvars\n0\tn/a\n0.1\t12.5\n1e-07\t3\n"
	if buf.String() != want {
		t.Errorf("Unexpected TSV:\n%q\nwant\n%q", buf.String(), want)
	}
	if strings.Contains(buf.String(), "NaN") {
		t.Error("Missing values must use the n/a marker")
	}

	back, err := ReadTSV(&buf)
	if err != nil {
		t.Fatalf("ReadTSV failed: %v", err)
	}
	dv, ok := back.Column(DVARS)
	if !ok || !math.IsNaN(dv[0]) || dv[1] != 12.5 {
		t.Errorf("Unexpected dvars after reading back: %v", dv)
	}
}
