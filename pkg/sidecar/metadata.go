package sidecar

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"boldconfounds/pkg/compcor"
)

// ComponentMeta describes one CompCor component, retained or not.
type ComponentMeta struct {
	Method                      string  `json:"Method"`
	Mask                        string  `json:"Mask"`
	SingularValue               float64 `json:"SingularValue"`
	VarianceExplained           float64 `json:"VarianceExplained"`
	CumulativeVarianceExplained float64 `json:"CumulativeVarianceExplained"`
	Retained                    bool    `json:"Retained"`
}

// DriftMeta records how the cosine basis was built.
type DriftMeta struct {
	Method        string   `json:"Method"`
	CutoffSeconds float64  `json:"CutoffSeconds"`
	Columns       []string `json:"Columns"`
}

// OutlierMeta records the spike regressor thresholds.
type OutlierMeta struct {
	FDThreshold    float64 `json:"FramewiseDisplacementThreshold"`
	DVARSThreshold float64 `json:"StdDVARSThreshold"`
	Frames         []int   `json:"Frames"`
}

// Metadata is written next to the confound table.
type Metadata struct {
	RunID            string                   `json:"RunID"`
	Created          string                   `json:"Created"`
	QualityEstimator string                   `json:"QualityEstimatorVersion"`
	RepetitionTime   float64                  `json:"RepetitionTime"`
	Frames           int                      `json:"Frames"`
	Inputs           map[string]string        `json:"Inputs"`
	Components       map[string]ComponentMeta `json:"Components,omitempty"`
	SkippedTissues   []string                 `json:"SkippedTissues,omitempty"`
	Drift            DriftMeta                `json:"Drift"`
	Outliers         *OutlierMeta             `json:"Outliers,omitempty"`
}

// NewMetadata starts a metadata record with a fresh run id.
func NewMetadata(tr float64, frames int) *Metadata {
	return &Metadata{
		RunID:          uuid.New().String(),
		Created:        time.Now().UTC().Format(time.RFC3339),
		RepetitionTime: tr,
		Frames:         frames,
		Inputs:         make(map[string]string),
		Components:     make(map[string]ComponentMeta),
		Drift:          DriftMeta{Method: "DCT-II"},
	}
}

// AddComponents records every component of a CompCor result.
func (m *Metadata) AddComponents(res *compcor.Result) {
	method := "aCompCor"
	if strings.HasPrefix(res.Prefix, "t_") {
		method = "tCompCor"
	}
	for _, c := range res.Components {
		m.Components[c.Name] = ComponentMeta{
			Method:                      method,
			Mask:                        res.Mask,
			SingularValue:               c.SingularValue,
			VarianceExplained:           c.VarianceExplained,
			CumulativeVarianceExplained: c.CumulativeVarianceExplained,
			Retained:                    c.Retained,
		}
	}
}

// Write encodes the metadata as indented JSON.
func (m *Metadata) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	return nil
}

// WriteFile writes the metadata to path, creating parent directories.
func (m *Metadata) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := m.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
