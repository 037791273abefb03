// SPDX-License-Identifier: Apache-2.0
package gateway

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is the on-disk declaration of the tool set. It lets deployments
// adjust descriptions and schemas without a rebuild; providers are still
// bound in code.
type Manifest struct {
	Tools []ManifestTool `yaml:"tools"`
}

// ManifestTool is one descriptor in YAML form.
type ManifestTool struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Provider    string         `yaml:"provider"`
	SideEffect  string         `yaml:"side_effect"`
	Cacheable   bool           `yaml:"cacheable"`
	InputSchema map[string]any `yaml:"input_schema"`
}

// LoadManifest reads and parses a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// RegisterManifest registers every tool in the manifest. Providers named by
// the manifest must already be registered.
func RegisterManifest(r *Registry, m *Manifest) error {
	for _, t := range m.Tools {
		d := Descriptor{
			Name:        t.Name,
			Description: t.Description,
			Provider:    t.Provider,
			SideEffect:  SideEffect(t.SideEffect),
			Cacheable:   t.Cacheable,
			InputSchema: t.InputSchema,
		}
		if err := r.Register(d); err != nil {
			return fmt.Errorf("manifest tool %s: %w", t.Name, err)
		}
	}
	return nil
}
