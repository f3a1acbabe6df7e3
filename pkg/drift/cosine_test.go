package drift

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"boldconfounds/internal/models"
)

// TestBasisSize covers the reference scenarios for the number of terms
func TestBasisSize(t *testing.T) {
	cases := []struct {
		frames int
		tr     float64
		cutoff float64
		want   int
	}{
		{100, 2.0, 128, 3},
		{10, 2.0, 128, 0},
		{64, 2.0, 128, 2},
		{1, 2.0, 128, 0},
	}
	for _, c := range cases {
		t.Run(fmt.Sprintf("T=%d,TR=%g", c.frames, c.tr), func(t *testing.T) {
			b, err := NewBasis(c.frames, c.tr, c.cutoff)
			if err != nil {
				t.Fatalf("NewBasis failed: %v", err)
			}
			if b.Len() != c.want {
				t.Errorf("Expected %d columns, got %d", c.want, b.Len())
			}
			for i, col := range b.Columns {
				if len(col) != c.frames {
					t.Errorf("Column %d has %d rows, expected %d", i, len(col), c.frames)
				}
				if stat.PopStdDev(col, nil) <= constantTolerance {
					t.Errorf("Column %s is constant", b.Names[i])
				}
			}
		})
	}
}

// TestShortScanIsEmpty: a scan shorter than the cutoff has no drift terms
func TestShortScanIsEmpty(t *testing.T) {
	b, err := NewBasis(30, 2.0, 128)
	if err != nil {
		t.Fatalf("NewBasis failed: %v", err)
	}
	if b.Len() != 0 || len(b.Names) != 0 {
		t.Errorf("Expected empty basis, got %v", b.Names)
	}
}

// TestOrderCappedAtFrames: a repetition time long against the cutoff asks for
// more terms than the scan has frequencies; the extra terms must not repeat
// lower ones
func TestOrderCappedAtFrames(t *testing.T) {
	cases := []struct {
		frames int
		tr     float64
		order  int
		want   int
	}{
		{2, 256, 8, 1},
		{10, 100, 15, 9},
		{5, 64, 5, 4},
	}
	for _, c := range cases {
		t.Run(fmt.Sprintf("T=%d,TR=%g", c.frames, c.tr), func(t *testing.T) {
			if got := Order(c.frames, c.tr, 128); got != c.order {
				t.Fatalf("Expected order %d, got %d", c.order, got)
			}
			b, err := NewBasis(c.frames, c.tr, 128)
			if err != nil {
				t.Fatalf("NewBasis failed: %v", err)
			}
			if b.Len() != c.want {
				t.Fatalf("Expected %d columns, got %d", c.want, b.Len())
			}
			for i, name := range b.Names {
				if want := fmt.Sprintf("cosine_%02d", i); name != want {
					t.Errorf("Expected sequential name %s, got %s", want, name)
				}
			}
			for i := range b.Columns {
				for j := range b.Columns {
					dot := floats.Dot(b.Columns[i], b.Columns[j])
					want := 0.0
					if i == j {
						want = 1
					}
					if math.Abs(dot-want) > 1e-9 {
						t.Errorf("<%s,%s> = %f, expected %f", b.Names[i], b.Names[j], dot, want)
					}
				}
			}
		})
	}
}

// TestBasisOrthonormal checks the DCT-II normalization
func TestBasisOrthonormal(t *testing.T) {
	b, err := NewBasis(100, 2.0, 128)
	if err != nil {
		t.Fatalf("NewBasis failed: %v", err)
	}
	for i := range b.Columns {
		for j := range b.Columns {
			dot := floats.Dot(b.Columns[i], b.Columns[j])
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(dot-want) > 1e-9 {
				t.Errorf("<%d,%d> = %f, expected %f", i, j, dot, want)
			}
		}
		// orthogonal to the intercept
		if s := floats.Sum(b.Columns[i]); math.Abs(s) > 1e-9 {
			t.Errorf("Column %d sums to %f, expected 0", i, s)
		}
	}
	if math.Abs(b.Columns[0][0]-math.Sqrt(2.0/100)*math.Cos(math.Pi/200)) > 1e-12 {
		t.Errorf("Unexpected first value %f", b.Columns[0][0])
	}
}

func TestInvalidArguments(t *testing.T) {
	if _, err := NewBasis(10, 0, 128); !errors.Is(err, models.ErrMissingMetadata) {
		t.Errorf("Expected MissingMetadata for zero TR, got %v", err)
	}
	if _, err := NewBasis(10, 2, 0); err == nil {
		t.Error("Expected error for zero cutoff")
	}
	if _, err := NewBasis(0, 2, 128); err == nil {
		t.Error("Expected error for zero frames")
	}
}
