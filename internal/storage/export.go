package storage

import (
	"encoding/json"
	"io"

	"github.com/san-kum/wbcsim/internal/controller"
)

type ExportData struct {
	Metadata   *RunMetadata         `json:"metadata"`
	Times      []float64            `json:"times"`
	Reference  []controller.Heights `json:"reference"`
	Measured   []controller.Heights `json:"measured"`
	Torques    [][]float64          `json:"torques"`
	Iterations []int                `json:"iterations"`
	Failed     []bool               `json:"failed"`
}

// ExportJSON writes a stored run as a single JSON document.
func (s *Store) ExportJSON(w io.Writer, runID string) error {
	meta, err := s.Load(runID)
	if err != nil {
		return err
	}
	series, err := s.LoadSeries(runID)
	if err != nil {
		return err
	}

	data := ExportData{
		Metadata:   meta,
		Times:      series.Times,
		Reference:  series.Reference,
		Measured:   series.Measured,
		Torques:    series.Torques,
		Iterations: series.Iterations,
		Failed:     series.Failed,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
