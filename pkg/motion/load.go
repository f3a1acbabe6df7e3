// Package motion reads rigid-body motion estimates and expands them into the
// 24-parameter motion model.
package motion

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"boldconfounds/internal/models"
)

// Load parses an MCFLIRT .par stream: one frame per line, six whitespace
// separated numbers (rot x, y, z in radians then trans x, y, z in mm).
// Blank lines and lines starting with '#' are skipped.
func Load(r io.Reader) (*models.MotionTrace, error) {
	trace := &models.MotionTrace{}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 6 {
			return nil, fmt.Errorf("line %d: expected 6 motion parameters, got %d", line, len(fields))
		}
		var row models.MotionParams
		for c, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d, column %d: %w", line, c+1, err)
			}
			row[c] = v
		}
		trace.Rows = append(trace.Rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(trace.Rows) == 0 {
		return nil, fmt.Errorf("no motion parameters found")
	}
	return trace, nil
}

// LoadFile reads a motion parameter file from disk.
func LoadFile(path string) (*models.MotionTrace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	trace, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse motion file %s: %w", path, err)
	}
	return trace, nil
}
