/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Presets is the option set applied to every new context before initialization.
type Presets struct {
	Options map[string]string `yaml:"options"`
}

// DefaultPresets returns the options used when no presets file is configured.
func DefaultPresets() Presets {
	return Presets{Options: map[string]string{
		"force-window":           "yes",
		"osc":                    "yes",
		"input-default-bindings": "yes",
		"input-vo-keyboard":      "yes",
		"keep-open":              "no",
		"ytdl":                   "yes",
	}}
}

// Names returns the option names in a stable order.
func (p Presets) Names() []string {
	names := make([]string, 0, len(p.Options))
	for name := range p.Options {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply sets every option on h in name order and stops at the first failure.
func (p Presets) Apply(h Handle) error {
	for _, name := range p.Names() {
		if err := h.SetOption(name, p.Options[name]); err != nil {
			return fmt.Errorf("apply preset %s: %w", name, err)
		}
	}
	return nil
}

// LoadPresets reads a YAML presets file and layers it over DefaultPresets. An empty path
// returns the defaults. An empty value in the file removes a default option.
func LoadPresets(path string) (Presets, error) {
	p := DefaultPresets()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Presets{}, fmt.Errorf("read presets: %w", err)
	}
	var file Presets
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Presets{}, fmt.Errorf("parse presets %s: %w", path, err)
	}
	for name, value := range file.Options {
		if name == "" {
			return Presets{}, fmt.Errorf("parse presets %s: empty option name", path)
		}
		if value == "" {
			delete(p.Options, name)
			continue
		}
		p.Options[name] = value
	}
	return p, nil
}
