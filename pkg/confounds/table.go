// Package confounds assembles nuisance regressors from every source into one
// table with a fixed column order and writes it as TSV.
package confounds

import (
	"fmt"
	"sort"
	"strings"

	"boldconfounds/internal/models"
	"boldconfounds/pkg/motion"
)

// Names of the quality series.
const (
	FramewiseDisplacement = "framewise_displacement"
	DVARS                 = "dvars"
	StdDVARS              = "std_dvars"
	VoxelStdDVARS         = "vx_std_dvars"
)

// SignalNames are the mean-signal base columns in output order.
var SignalNames = []string{"global_signal", "white_matter", "csf"}

// Column is one named regressor. NaN marks a missing value.
type Column struct {
	Name   string
	Values []float64
}

// Table is the assembled confound table.
type Table struct {
	Frames  int
	Columns []Column
}

// Names returns the column names in order.
func (t *Table) Names() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by name.
func (t *Table) Column(name string) ([]float64, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c.Values, true
		}
	}
	return nil, false
}

// FromSeries converts expanded motion or signal series into columns.
func FromSeries(series []motion.Series) []Column {
	cols := make([]Column, len(series))
	for i, s := range series {
		cols[i] = Column{Name: s.Name, Values: s.Values}
	}
	return cols
}

// column groups in output order
const (
	groupMotion = iota
	groupSignal
	groupFD
	groupDVARS
	groupComponent
	groupCosine
	groupOther
)

var fixedRank = buildFixedRank()

func buildFixedRank() map[string][2]int {
	r := make(map[string][2]int)
	for i, n := range motion.ExpandedNames(motion.BaseNames) {
		r[n] = [2]int{groupMotion, i}
	}
	for i, n := range motion.ExpandedNames(SignalNames) {
		r[n] = [2]int{groupSignal, i}
	}
	r[FramewiseDisplacement] = [2]int{groupFD, 0}
	for i, n := range []string{DVARS, StdDVARS, VoxelStdDVARS} {
		r[n] = [2]int{groupDVARS, i}
	}
	return r
}

func classify(name string) (group, rank int) {
	if gr, ok := fixedRank[name]; ok {
		return gr[0], gr[1]
	}
	switch {
	case strings.Contains(name, "comp_cor"):
		return groupComponent, 0
	case strings.HasPrefix(name, "cosine"):
		return groupCosine, 0
	}
	return groupOther, 0
}

// Assembler collects columns for a run of a fixed number of frames.
type Assembler struct {
	frames  int
	columns []Column
	source  map[string]string
}

// NewAssembler returns an assembler for a run of frames volumes.
func NewAssembler(frames int) *Assembler {
	return &Assembler{frames: frames, source: make(map[string]string)}
}

// Frames returns the run length every column must match.
func (a *Assembler) Frames() int {
	return a.frames
}

// Add appends columns from one source. Every column must have exactly one
// value per frame and a name not already taken; on error nothing is added.
func (a *Assembler) Add(source string, cols ...Column) error {
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if len(c.Values) != a.frames {
			return &models.LengthMismatchError{
				Source: fmt.Sprintf("%s (column %s)", source, c.Name),
				Got:    len(c.Values),
				Want:   a.frames,
			}
		}
		if prev, ok := a.source[c.Name]; ok {
			return fmt.Errorf("column %s from %s already added by %s", c.Name, source, prev)
		}
		if seen[c.Name] {
			return fmt.Errorf("column %s appears twice in %s", c.Name, source)
		}
		seen[c.Name] = true
	}
	for _, c := range cols {
		a.source[c.Name] = source
		a.columns = append(a.columns, Column{Name: c.Name, Values: append([]float64(nil), c.Values...)})
	}
	return nil
}

// Table returns the columns in their canonical order: motion, mean signals,
// framewise displacement, DVARS, component columns by name, cosine columns by
// name, then anything else in the order it was added.
func (a *Assembler) Table() *Table {
	type entry struct {
		col         Column
		group, rank int
		encountered int
	}
	entries := make([]entry, len(a.columns))
	for i, c := range a.columns {
		g, r := classify(c.Name)
		entries[i] = entry{col: c, group: g, rank: r, encountered: i}
	}
	sort.Slice(entries, func(i, j int) bool {
		x, y := entries[i], entries[j]
		if x.group != y.group {
			return x.group < y.group
		}
		switch x.group {
		case groupComponent, groupCosine:
			return x.col.Name < y.col.Name
		case groupOther:
			return x.encountered < y.encountered
		}
		return x.rank < y.rank
	})

	t := &Table{Frames: a.frames, Columns: make([]Column, len(entries))}
	for i, e := range entries {
		t.Columns[i] = e.col
	}
	return t
}
