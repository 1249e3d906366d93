package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ybenali/salespipeline/logger"
	apperr "ybenali/salespipeline/pkg/errors"
)

// Stage artifacts are date-partitioned JSONL files. Re-running a stage
// for the same day replaces its artifact rather than appending.

// RawArtifactPath returns the extract artifact path for a site and day
func RawArtifactPath(dataDir, site string, day time.Time) string {
	return artifactPath(dataDir, "raw", site, day)
}

// ProcessedArtifactPath returns the normalize artifact path for a site and day
func ProcessedArtifactPath(dataDir, site string, day time.Time) string {
	return artifactPath(dataDir, "processed", site, day)
}

func artifactPath(dataDir, stage, site string, day time.Time) string {
	name := fmt.Sprintf("products_%s.jsonl", day.Format("20060102"))
	return filepath.Join(dataDir, stage, site, name)
}

// WriteJSONL writes records one JSON document per line. The artifact is
// written to a temp file and renamed so readers never observe a partial
// file.
func WriteJSONL[T any](path string, records []T) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.NewParsing("", fmt.Sprintf("failed to create artifact directory %s", dir), err)
	}

	tmp, err := os.CreateTemp(dir, ".products_*.jsonl")
	if err != nil {
		return apperr.NewParsing("", "failed to create artifact temp file", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, record := range records {
		if err := enc.Encode(record); err != nil {
			tmp.Close()
			return apperr.NewParsing("", "failed to encode artifact record", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return apperr.NewParsing("", "failed to flush artifact", err)
	}
	if err := tmp.Close(); err != nil {
		return apperr.NewParsing("", "failed to close artifact", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return apperr.NewParsing("", fmt.Sprintf("failed to move artifact into place at %s", path), err)
	}
	return nil
}

// ReadJSONL reads a JSONL artifact back. A malformed line is skipped
// with a warning so one corrupt record cannot sink the whole stage.
func ReadJSONL[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.NewParsing("", fmt.Sprintf("failed to open artifact %s", path), err)
	}
	defer f.Close()

	var records []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var record T
		if err := json.Unmarshal(raw, &record); err != nil {
			logger.Warn("Skipping malformed line %d of artifact %s: %v", line, path, err)
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperr.NewParsing("", fmt.Sprintf("failed reading artifact %s", path), err)
	}
	return records, nil
}
