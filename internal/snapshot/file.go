package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// WriteFile serializes v to a timestamped JSON file under dir, e.g.
// export-20240131-154500.json. Files are created exclusively and never
// overwritten; a name collision (two runs within the same second) gets a
// numeric suffix.
func WriteFile(dir, prefix string, v any) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s file: %w", prefix, err)
	}

	stamp := time.Now().Format("20060102-150405")
	for i := 0; ; i++ {
		name := fmt.Sprintf("%s-%s.json", prefix, stamp)
		if i > 0 {
			name = fmt.Sprintf("%s-%s-%d.json", prefix, stamp, i)
		}
		path := filepath.Join(dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create %s file: %w", prefix, err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", fmt.Errorf("failed to write %s file: %w", prefix, err)
		}
		return path, f.Close()
	}
}

// ReadExportFile loads a previously written export snapshot.
func ReadExportFile(path string) (*ExportResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read export file: %w", err)
	}
	var res ExportResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to parse export file %s: %w", path, err)
	}
	return &res, nil
}

// ReadTransformFile loads a previously written transformed dataset.
func ReadTransformFile(path string) (*TransformResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transform file: %w", err)
	}
	var res TransformResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to parse transform file %s: %w", path, err)
	}
	return &res, nil
}
