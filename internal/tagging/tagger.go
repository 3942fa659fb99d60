// Package tagging assigns topical tags to answered questions by keyword
// matching against a static table.
package tagging

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/jurist/internal/storage"
)

//go:embed tags.yaml
var defaultTable []byte

type entry struct {
	Name     string   `yaml:"name"`
	Color    string   `yaml:"color"`
	Keywords []string `yaml:"keywords"`
}

type table struct {
	Tags []entry `yaml:"tags"`
}

// Tagger classifies text against an immutable tag table.
type Tagger struct {
	entries []entry
}

// Default returns a Tagger over the built-in table.
func Default() (*Tagger, error) {
	return Parse(defaultTable)
}

// Load reads a tag table from path. An empty path selects the built-in table.
func Load(path string) (*Tagger, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tag table: %w", err)
	}
	return Parse(data)
}

// Parse builds a Tagger from YAML. Keywords are lower-cased; entries without
// a name or keywords are rejected.
func Parse(data []byte) (*Tagger, error) {
	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing tag table: %w", err)
	}
	seen := make(map[string]bool, len(t.Tags))
	for i := range t.Tags {
		e := &t.Tags[i]
		if e.Name == "" {
			return nil, fmt.Errorf("tag %d has no name", i)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("duplicate tag %q", e.Name)
		}
		seen[e.Name] = true
		if len(e.Keywords) == 0 {
			return nil, fmt.Errorf("tag %q has no keywords", e.Name)
		}
		for j, kw := range e.Keywords {
			e.Keywords[j] = strings.ToLower(kw)
		}
	}
	return &Tagger{entries: t.Tags}, nil
}

// Classify returns the tags whose keywords occur in question or answer, in
// table order. Empty input yields no tags.
func (t *Tagger) Classify(question, answer string) []storage.Tag {
	text := strings.ToLower(question + " " + answer)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var out []storage.Tag
	for _, e := range t.entries {
		for _, kw := range e.Keywords {
			if strings.Contains(text, kw) {
				out = append(out, storage.Tag{Name: e.Name, Color: e.Color})
				break
			}
		}
	}
	return out
}

// Tags lists every tag in the table.
func (t *Tagger) Tags() []storage.Tag {
	out := make([]storage.Tag, len(t.entries))
	for i, e := range t.entries {
		out[i] = storage.Tag{Name: e.Name, Color: e.Color}
	}
	return out
}
