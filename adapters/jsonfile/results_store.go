// Package jsonfile persists run records as one JSON document per experiment,
// results/<experiment>.results.json, rewritten after every completed method.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"covbench/domain/core"
	"covbench/domain/run"
	"covbench/ports"
)

const resultsSuffix = ".results.json"

// ResultsStore handles persistence of run records on disk
type ResultsStore struct {
	BaseDir string
	mu      sync.Mutex
}

// NewResultsStore creates a new results store rooted at baseDir
func NewResultsStore(baseDir string) *ResultsStore {
	return &ResultsStore{BaseDir: baseDir}
}

// Path returns the file a record for experiment is written to.
func (s *ResultsStore) Path(experiment string) string {
	return filepath.Join(s.BaseDir, experiment+resultsSuffix)
}

// Save writes the complete record, replacing the previous version. The file is
// written to a temporary name and renamed so readers never see a partial document.
func (s *ResultsStore) Save(ctx context.Context, rec *run.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.Manifest.Experiment == "" {
		return core.NewValidationError("experiment", "cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.BaseDir, 0755); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	path := s.Path(rec.Manifest.Experiment)
	tmp, err := os.CreateTemp(s.BaseDir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write results file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write results file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace results file: %w", err)
	}
	return nil
}

// Load reads the record stored for an experiment.
func (s *ResultsStore) Load(experiment string) (*run.Record, error) {
	rec, err := loadRecordFile(s.Path(experiment))
	if os.IsNotExist(err) {
		return nil, core.NewNotFoundError("experiment", experiment)
	}
	return rec, err
}

// ListRuns returns the manifests of every stored run, newest first.
func (s *ResultsStore) ListRuns(ctx context.Context, limit int) ([]run.Manifest, error) {
	files, err := s.listResultFiles()
	if err != nil {
		return nil, err
	}

	var manifests []run.Manifest
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := loadRecordFile(file)
		if err != nil {
			continue // Skip corrupted files
		}
		manifests = append(manifests, rec.Manifest)
	}

	sort.Slice(manifests, func(i, j int) bool {
		return manifests[j].StartedAt.Before(manifests[i].StartedAt)
	})
	if limit > 0 && len(manifests) > limit {
		manifests = manifests[:limit]
	}
	return manifests, nil
}

// GetRun retrieves a record by its run ID
func (s *ResultsStore) GetRun(ctx context.Context, runID core.RunID) (*run.Record, error) {
	files, err := s.listResultFiles()
	if err != nil {
		return nil, err
	}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := loadRecordFile(file)
		if err != nil {
			continue // Skip corrupted files
		}
		if rec.Manifest.RunID == runID {
			return rec, nil
		}
	}
	return nil, core.NewNotFoundError("run", runID.String())
}

func (s *ResultsStore) listResultFiles() ([]string, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read results directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), resultsSuffix) {
			continue
		}
		files = append(files, filepath.Join(s.BaseDir, entry.Name()))
	}
	return files, nil
}

func loadRecordFile(path string) (*run.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec run.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	if rec.Results == nil {
		rec.Results = make(map[string]run.MethodResult)
	}
	return &rec, nil
}

var _ ports.ResultsStore = (*ResultsStore)(nil)
