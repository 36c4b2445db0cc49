// Package presets stores named parameter sets in a YAML file alongside the
// built-in ones.
package presets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/stevecastle/retouch/restore"
)

var (
	ErrUnknownPreset = errors.New("unknown preset")
	ErrBuiltin       = errors.New("built-in presets cannot be changed")
)

// Builtin returns the presets every installation has.
func Builtin() map[string]restore.Params {
	auto := restore.Auto()
	return map[string]restore.Params{
		"auto": auto,
		"gentle": {
			Strength:   auto.Strength / 2,
			Scratch:    auto.Scratch / 2,
			Smooth:     auto.Smooth / 2,
			Detail:     auto.Detail / 2,
			Contrast:   auto.Contrast / 2,
			Saturation: auto.Saturation / 2,
			Warmth:     auto.Warmth / 2,
		},
		"none": {},
	}
}

// Store is a set of presets backed by a YAML file. It is safe for
// concurrent use.
type Store struct {
	mu     sync.RWMutex
	path   string
	custom map[string]restore.Params
}

// Load reads presets from path. A missing file yields only the built-ins.
//
// The file maps preset names to parameter fields:
//
//	faded:
//	  strength: 0.8
//	  contrastAmount: 0.4
func Load(path string) (*Store, error) {
	s := &Store{path: path, custom: map[string]restore.Params{}}
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	custom, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.custom = custom
	return s, nil
}

// Parse decodes a preset document. Field names follow the JSON wire names,
// including the sharpenAmount alias.
func Parse(data []byte) (map[string]restore.Params, error) {
	var raw map[string]map[string]float64
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	out := make(map[string]restore.Params, len(raw))
	for name, fields := range raw {
		var p restore.Params
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			// detailAmount wins over its alias.
			if _, both := fields["detailAmount"]; both && k == "sharpenAmount" {
				continue
			}
			if err := p.Set(k, fields[k]); err != nil {
				return nil, fmt.Errorf("preset %q: %w", name, err)
			}
		}
		out[normalize(name)] = p
	}
	return out, nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Get looks a preset up by name, custom presets first. The result is
// clamped.
func (s *Store) Get(name string) (restore.Params, error) {
	name = normalize(name)
	s.mu.RLock()
	p, ok := s.custom[name]
	s.mu.RUnlock()
	if !ok {
		p, ok = Builtin()[name]
	}
	if !ok {
		return restore.Params{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return p.Clamped(), nil
}

// Names lists every preset, built-in and custom, sorted.
func (s *Store) Names() []string {
	seen := map[string]bool{}
	for n := range Builtin() {
		seen[n] = true
	}
	s.mu.RLock()
	for n := range s.custom {
		seen[n] = true
	}
	s.mu.RUnlock()
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// All returns every preset by name.
func (s *Store) All() map[string]restore.Params {
	out := Builtin()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for n, p := range s.custom {
		out[n] = p.Clamped()
	}
	return out
}

// Put adds or replaces a custom preset and writes the file.
func (s *Store) Put(name string, p restore.Params) error {
	name = normalize(name)
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrUnknownPreset)
	}
	if _, ok := Builtin()[name]; ok {
		return fmt.Errorf("%w: %q", ErrBuiltin, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.custom[name] = p.Clamped()
	return s.save()
}

func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(s.custom)
	if err != nil {
		return fmt.Errorf("marshal presets: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}
