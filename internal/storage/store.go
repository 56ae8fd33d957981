package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/san-kum/cellode/internal/config"
	"github.com/san-kum/cellode/internal/dynamo"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Model           string             `json:"model"`
	Timestamp       time.Time          `json:"timestamp"`
	Dt              float64            `json:"dt"`
	Duration        float64            `json:"duration"`
	Integrator      string             `json:"integrator"`
	IntracellularDt float64            `json:"intracellular_dt"`
	Cells           int                `json:"cells"`
	Voxels          int                `json:"voxels"`
	Steps           int                `json:"steps"`
	FailedUpdates   int                `json:"failed_updates"`
	Metrics         map[string]float64 `json:"metrics"`
}

// Save writes a run directory holding metadata.json, the configuration as
// config.yaml and the samples as records.csv.
func (s *Store) Save(name string, cfg *config.Config, result *dynamo.Result) (string, error) {
	now := time.Now()
	runID := fmt.Sprintf("%s_%d", name, now.UnixNano())
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	model := cfg.Intracellular.Model
	if cfg.Intracellular.ModelFile != "" {
		model = filepath.Base(cfg.Intracellular.ModelFile)
	}

	meta := RunMetadata{
		ID:              runID,
		Name:            name,
		Model:           model,
		Timestamp:       now,
		Dt:              cfg.Run.Dt,
		Duration:        cfg.Run.Duration,
		Integrator:      cfg.Intracellular.Integrator,
		IntracellularDt: cfg.Intracellular.Dt,
		Cells:           cfg.Cells.Count,
		Voxels:          cfg.Microenvironment.Voxels,
		Steps:           result.Steps,
		FailedUpdates:   result.FailedUpdates,
		Metrics:         result.Metrics,
	}

	metaFile, err := os.Create(filepath.Join(runDir, "metadata.json"))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	if err := config.Save(filepath.Join(runDir, "config.yaml"), cfg); err != nil {
		return "", fmt.Errorf("writing config.yaml: %w", err)
	}

	csvFile, err := os.Create(filepath.Join(runDir, "records.csv"))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	if err := gocsv.Marshal(result.Records, csvFile); err != nil {
		return "", fmt.Errorf("writing records: %w", err)
	}

	return runID, nil
}

// List returns every readable run, oldest first.
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

	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, "metadata.json"))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}

	return &meta, nil
}

func (s *Store) LoadConfig(runID string) (*config.Config, error) {
	return config.Load(filepath.Join(s.baseDir, runID, "config.yaml"))
}

func (s *Store) LoadRecords(runID string) ([]dynamo.Record, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, "records.csv"))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var records []dynamo.Record
	if err := gocsv.UnmarshalFile(file, &records); err != nil {
		if errors.Is(err, gocsv.ErrEmptyCSVFile) {
			return []dynamo.Record{}, nil
		}
		return nil, err
	}
	return records, nil
}

// Series extracts the time series of one cell, kind and substrate.
func Series(records []dynamo.Record, cell int, kind, substrate string) (times, values []float64) {
	for _, r := range records {
		if r.Cell == cell && r.Kind == kind && r.Substrate == substrate {
			times = append(times, r.Time)
			values = append(values, r.Value)
		}
	}
	return times, values
}

// Substrates lists the distinct substrates of one kind in first-seen order.
func Substrates(records []dynamo.Record, kind string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range records {
		if r.Kind == kind && !seen[r.Substrate] {
			seen[r.Substrate] = true
			out = append(out, r.Substrate)
		}
	}
	return out
}
