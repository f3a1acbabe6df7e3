// Package sidecar reads BIDS JSON sidecars and writes the metadata file that
// accompanies a confound table.
package sidecar

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"boldconfounds/internal/models"
)

// boldSchema checks the types of the fields we read. RepetitionTime is not
// required here so that its absence surfaces as MissingMetadata.
const boldSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"RepetitionTime": {"type": "number", "exclusiveMinimum": 0},
		"TaskName": {"type": "string"},
		"SliceTiming": {"type": "array", "items": {"type": "number", "minimum": 0}}
	}
}`

var compiledBOLDSchema = jsonschema.MustCompileString("bold_sidecar.json", boldSchema)

// BOLD holds the sidecar fields the pipeline uses.
type BOLD struct {
	RepetitionTime float64   `json:"RepetitionTime"`
	TaskName       string    `json:"TaskName,omitempty"`
	SliceTiming    []float64 `json:"SliceTiming,omitempty"`
}

// ReadBOLD parses and validates a BOLD sidecar. A sidecar without
// RepetitionTime is a MissingMetadata error.
func ReadBOLD(r io.Reader) (*BOLD, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read sidecar: %w", err)
	}

	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse sidecar: %w", err)
	}
	if err := compiledBOLDSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("invalid sidecar: %w", err)
	}
	if obj, _ := raw.(map[string]interface{}); obj["RepetitionTime"] == nil {
		return nil, &models.MissingMetadataError{Field: "RepetitionTime"}
	}

	var meta BOLD
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&meta); err != nil {
		return nil, fmt.Errorf("failed to decode sidecar: %w", err)
	}
	return &meta, nil
}

// ReadBOLDFile reads the sidecar at path.
func ReadBOLDFile(path string) (*BOLD, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sidecar: %w", err)
	}
	defer f.Close()
	meta, err := ReadBOLD(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return meta, nil
}

// PathFor returns the sidecar path BIDS associates with an image file:
// the image path with its extension replaced by .json.
func PathFor(imagePath string) string {
	for _, ext := range []string{".nii.gz", ".nii", ".mgz", ".mgh"} {
		if strings.HasSuffix(imagePath, ext) {
			return strings.TrimSuffix(imagePath, ext) + ".json"
		}
	}
	return imagePath + ".json"
}
