// Package manifest reads YAML batch files for the submit command.
//
//	ciclo: "2026-A"
//	sector: Norte
//	ruta: R12
//	tecnico: Ana
//	files:
//	  - fotos/poste-1.jpg
//	  - /abs/path/poste-2.jpg
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/alexjbarnes/solara-sync/internal/uploader"
	"gopkg.in/yaml.v3"
)

// Manifest is one batch described on disk.
type Manifest struct {
	Ciclo   string   `yaml:"ciclo"`
	Sector  string   `yaml:"sector"`
	Ruta    string   `yaml:"ruta"`
	Tecnico string   `yaml:"tecnico"`
	Files   []string `yaml:"files"`
}

// Load parses the manifest at path. Relative file paths are resolved
// against the manifest's directory. Unknown keys are rejected so typos
// do not silently drop metadata.
func Load(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("manifest %s is empty", path)
		}

		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}

	base := filepath.Dir(path)
	for i, f := range m.Files {
		if !filepath.IsAbs(f) {
			m.Files[i] = filepath.Join(base, f)
		}
	}

	return &m, nil
}

// Batch converts the manifest into an orchestrator batch. Files are
// read lazily by the orchestrator.
func (m *Manifest) Batch() uploader.Batch {
	files := make([]uploader.File, len(m.Files))
	for i, p := range m.Files {
		files[i] = uploader.File{Name: filepath.Base(p), Path: p}
	}

	return uploader.Batch{
		Ciclo:   m.Ciclo,
		Sector:  m.Sector,
		Ruta:    m.Ruta,
		Tecnico: m.Tecnico,
		Files:   files,
	}
}
