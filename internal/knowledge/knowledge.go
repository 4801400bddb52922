// Package knowledge holds the small, static reference set the assistant may
// cite. Entries are loaded once at startup and never change afterwards.
package knowledge

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed knowledge.yaml
var defaultEntries []byte

// Entry is one citable reference.
type Entry struct {
	ID       string   `yaml:"id"`
	Keywords []string `yaml:"keywords"`
	Citation string   `yaml:"citation"`
	Link     string   `yaml:"link,omitempty"`
	Summary  string   `yaml:"summary"`
}

type file struct {
	Entries []Entry `yaml:"entries"`
}

// Base is an immutable, concurrency-safe entry set.
type Base struct {
	entries []Entry
}

// Default returns the embedded knowledge set.
func Default() (*Base, error) {
	return Parse(defaultEntries)
}

// Load reads a YAML knowledge file. An empty path yields the embedded set.
func Load(path string) (*Base, error) {
	if path == "" {
		return Default()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge file %s: %w", path, err)
	}
	base, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("knowledge file %s: %w", path, err)
	}
	return base, nil
}

// Parse decodes and validates a YAML knowledge document.
func Parse(data []byte) (*Base, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	seen := make(map[string]bool, len(f.Entries))
	for i, e := range f.Entries {
		if e.ID == "" || e.Citation == "" {
			return nil, fmt.Errorf("entry %d: id and citation are required", i)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("entry %d: duplicate id %q", i, e.ID)
		}
		if len(e.Keywords) == 0 {
			return nil, fmt.Errorf("entry %q: at least one keyword is required", e.ID)
		}
		seen[e.ID] = true
		for j, kw := range e.Keywords {
			f.Entries[i].Keywords[j] = strings.ToLower(strings.TrimSpace(kw))
		}
	}
	return &Base{entries: f.Entries}, nil
}

// New builds a base from entries already in memory.
func New(entries []Entry) *Base {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e
		out[i].Keywords = make([]string, len(e.Keywords))
		for j, kw := range e.Keywords {
			out[i].Keywords[j] = strings.ToLower(kw)
		}
	}
	return &Base{entries: out}
}

// Len returns the number of entries.
func (b *Base) Len() int { return len(b.entries) }

// Scored is an entry together with its keyword hit count.
type Scored struct {
	Entry
	Score int
}

// Rank scores every entry by case-insensitive keyword hits in text and
// returns up to limit entries with a positive score, best first. Ties keep
// file order.
func (b *Base) Rank(text string, limit int) []Scored {
	if b == nil || limit <= 0 {
		return nil
	}
	lower := strings.ToLower(text)
	var hits []Scored
	for _, e := range b.entries {
		score := 0
		for _, kw := range e.Keywords {
			if kw != "" && strings.Contains(lower, kw) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, Scored{Entry: e, Score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}
