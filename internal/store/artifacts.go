package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNoArtifact is returned when a kind has no saved artifacts.
var ErrNoArtifact = errors.New("no cached artifact")

// ArtifactKind names a subdirectory of the artifact cache.
type ArtifactKind string

const (
	// RunArtifact is the full JSON of a finished run.
	RunArtifact ArtifactKind = "runs"
	// PageArtifact is page HTML captured when a scenario failed.
	PageArtifact ArtifactKind = "pages"
)

// generateFilename creates a sortable timestamped filename with the given
// extension.
func generateFilename(ext string) string {
	return time.Now().UTC().Format("2006-01-02T15-04-05.000000000") + ext
}

func artifactDir(root string, kind ArtifactKind) string {
	return filepath.Join(root, string(kind))
}

// SaveArtifact writes data as indented JSON under root/kind and returns the
// path of the new file.
func SaveArtifact[T any](root string, kind ArtifactKind, data T) (string, error) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s artifact: %w", kind, err)
	}
	return writeArtifact(root, kind, ".json", jsonData)
}

// SaveTextArtifact writes content under root/kind with the given extension.
func SaveTextArtifact(root string, kind ArtifactKind, content, ext string) (string, error) {
	return writeArtifact(root, kind, ext, []byte(content))
}

func writeArtifact(root string, kind ArtifactKind, ext string, data []byte) (string, error) {
	dir := artifactDir(root, kind)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create artifact dir: %w", err)
	}
	path := filepath.Join(dir, generateFilename(ext))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return path, nil
}

// LoadArtifact reads JSON data from a specific file path.
func LoadArtifact[T any](path string) (T, error) {
	var data T

	jsonData, err := os.ReadFile(path)
	if err != nil {
		return data, fmt.Errorf("failed to read artifact: %w", err)
	}
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return data, fmt.Errorf("failed to unmarshal artifact: %w", err)
	}
	return data, nil
}

// LoadLatestArtifact loads the most recent artifact of a kind and returns
// it with the path it was read from.
func LoadLatestArtifact[T any](root string, kind ArtifactKind) (T, string, error) {
	var zero T

	path, err := LatestArtifactFile(root, kind)
	if err != nil {
		return zero, "", err
	}
	data, err := LoadArtifact[T](path)
	if err != nil {
		return zero, "", err
	}
	return data, path, nil
}

// LatestArtifactFile returns the path of the most recent file of a kind.
func LatestArtifactFile(root string, kind ArtifactKind) (string, error) {
	dir := artifactDir(root, kind)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNoArtifact, kind)
		}
		return "", err
	}

	// os.ReadDir sorts by name, which is chronological for our timestamps
	var latest string
	for _, entry := range entries {
		if !entry.IsDir() {
			latest = entry.Name()
		}
	}
	if latest == "" {
		return "", fmt.Errorf("%w: %s", ErrNoArtifact, kind)
	}
	return filepath.Join(dir, latest), nil
}
