package genpass

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Artifact is a save file: the module's saved text under a derived name.
type Artifact struct {
	Name    string
	Content string
}

// ArtifactName returns "{baseName}_{timestamp}.txt".
func ArtifactName(c Category, timestamp string) string {
	return fmt.Sprintf("%s_%s.txt", c.BaseName(), timestamp)
}

// NewArtifact builds the artifact for snap. Empty or whitespace-only text is
// rejected with ErrNothingToSave.
func NewArtifact(snap *Snapshot) (*Artifact, error) {
	if snap == nil || strings.TrimSpace(snap.Saved) == "" {
		return nil, ErrNothingToSave
	}
	return &Artifact{
		Name:    ArtifactName(snap.Category, snap.Timestamp),
		Content: snap.Saved,
	}, nil
}

// Save writes the artifact into dir and returns the file path.
func (a *Artifact) Save(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(a.Name))
	if err := os.WriteFile(path, []byte(a.Content), 0o600); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return path, nil
}
