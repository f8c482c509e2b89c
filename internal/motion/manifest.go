package motion

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// MotionRef is one motion entry of an avatar manifest.
type MotionRef struct {
	File        string  `json:"File"`
	FadeInTime  float64 `json:"FadeInTime"`
	FadeOutTime float64 `json:"FadeOutTime"`
}

// Manifest is the subset of a Live2D *.model3.json the resolver reads.
// FileReferences.Motions maps group name to motion list; "ungrouped"
// models use a flat map of motion names to single-element lists.
type Manifest struct {
	FileReferences struct {
		Motions map[string][]MotionRef `json:"Motions"`
	} `json:"FileReferences"`

	// dir is the manifest's directory; motion file paths resolve
	// relative to it.
	dir string
}

// LoadManifest reads and parses an avatar's *.model3.json.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("motion: read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("motion: parse manifest %s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	return &m, nil
}

// motionPath resolves a manifest-relative motion file path.
func (m *Manifest) motionPath(ref MotionRef) string {
	if filepath.IsAbs(ref.File) {
		return ref.File
	}
	return filepath.Join(m.dir, ref.File)
}

// ungrouped reports whether the manifest declares a flat motion set:
// every group holds exactly one motion, so the group names are really
// motion names.
func (m *Manifest) ungrouped() bool {
	if len(m.FileReferences.Motions) == 0 {
		return false
	}
	for _, refs := range m.FileReferences.Motions {
		if len(refs) != 1 {
			return false
		}
	}
	return true
}
