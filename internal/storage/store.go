// Package storage keeps closed-loop runs on disk, one directory per run
// holding metadata.json and ticks.csv.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/san-kum/wbcsim/internal/controller"
	"github.com/san-kum/wbcsim/internal/sim"
)

var ErrRunNotFound = errors.New("run not found")

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

// RunInfo describes how a run was configured.
type RunInfo struct {
	Preset     string  `json:"preset"`
	Profile    string  `json:"profile"`
	Dt         float64 `json:"dt"`
	Integrator string  `json:"integrator"`
}

type RunMetadata struct {
	RunInfo
	ID        string             `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Ticks     int                `json:"ticks"`
	Failures  int                `json:"failures"`
	Actuators int                `json:"actuators"`
	Metrics   map[string]float64 `json:"metrics"`
}

// Series is the per-tick record read back from ticks.csv.
type Series struct {
	Times      []float64
	Reference  []controller.Heights
	Measured   []controller.Heights
	Torques    [][]float64
	Iterations []int
	Failed     []bool
}

func (s *Series) Len() int { return len(s.Times) }

var fixedColumns = []string{
	"time",
	"ref_com", "ref_left_toe", "ref_right_toe",
	"com", "left_toe", "right_toe",
	"failed", "iterations", "solve_ms",
}

func (s *Store) Save(info RunInfo, result *sim.Result) (string, error) {
	now := time.Now()
	runID := fmt.Sprintf("%s_%d", info.Preset, now.UnixMilli())
	runDir := filepath.Join(s.baseDir, runID)
	for i := 1; ; i++ {
		err := os.Mkdir(runDir, 0755)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return "", err
		}
		runID = fmt.Sprintf("%s_%d_%d", info.Preset, now.UnixMilli(), i)
		runDir = filepath.Join(s.baseDir, runID)
	}

	actuators := 0
	if len(result.Steps) > 0 {
		actuators = len(result.Steps[0].Torque)
	}
	meta := RunMetadata{
		RunInfo:   info,
		ID:        runID,
		Timestamp: now,
		Ticks:     len(result.Steps),
		Failures:  result.Failures,
		Actuators: actuators,
		Metrics:   result.Metrics,
	}
	if err := writeJSON(filepath.Join(runDir, "metadata.json"), meta); err != nil {
		return "", err
	}
	if err := writeTicks(filepath.Join(runDir, "ticks.csv"), result.Steps, actuators); err != nil {
		return "", err
	}
	return runID, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTicks(path string, steps []sim.Step, actuators int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append([]string(nil), fixedColumns...)
	for i := 0; i < actuators; i++ {
		header = append(header, fmt.Sprintf("tau%d", i))
	}
	if err := w.Write(header); err != nil {
		return err
	}

	format := func(v float64) string { return strconv.FormatFloat(v, 'g', 10, 64) }
	for _, st := range steps {
		row := []string{
			format(st.Time),
			format(st.Reference.CoM), format(st.Reference.LeftToe), format(st.Reference.RightToe),
			format(st.Measured.CoM), format(st.Measured.LeftToe), format(st.Measured.RightToe),
			strconv.FormatBool(st.Failed),
			strconv.Itoa(st.Iterations),
			format(float64(st.SolveTime.Microseconds()) / 1000),
		}
		for _, tau := range st.Torque {
			row = append(row, format(tau))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// List returns the stored runs, newest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.After(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	return &meta, nil
}

func (s *Store) LoadSeries(runID string) (*Series, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, "ticks.csv"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}

	series := &Series{}
	if len(records) < 2 {
		return series, nil
	}
	for line, record := range records[1:] {
		if len(record) < len(fixedColumns) {
			return nil, fmt.Errorf("ticks.csv line %d: %d columns", line+2, len(record))
		}
		vals := make([]float64, len(record))
		for j, field := range record {
			if j == 7 {
				continue
			}
			if vals[j], err = strconv.ParseFloat(field, 64); err != nil {
				return nil, fmt.Errorf("ticks.csv line %d column %d: %w", line+2, j, err)
			}
		}
		failed, err := strconv.ParseBool(record[7])
		if err != nil {
			return nil, fmt.Errorf("ticks.csv line %d: %w", line+2, err)
		}

		series.Times = append(series.Times, vals[0])
		series.Reference = append(series.Reference, controller.Heights{CoM: vals[1], LeftToe: vals[2], RightToe: vals[3]})
		series.Measured = append(series.Measured, controller.Heights{CoM: vals[4], LeftToe: vals[5], RightToe: vals[6]})
		series.Failed = append(series.Failed, failed)
		series.Iterations = append(series.Iterations, int(vals[8]))
		series.Torques = append(series.Torques, vals[len(fixedColumns):])
	}
	return series, nil
}
