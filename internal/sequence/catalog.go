package sequence

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nyashahama/consulting-leads-backend/internal/lead"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Catalog is the immutable set of sequences known to the process.
type Catalog struct {
	byID map[string]*Sequence
	ids  []string
}

// NewCatalog validates seqs and indexes them by id. Steps are sorted by day.
func NewCatalog(seqs ...*Sequence) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]*Sequence, len(seqs))}
	for _, s := range seqs {
		if err := s.validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("sequence: duplicate id %q", s.ID)
		}
		sort.SliceStable(s.Steps, func(i, j int) bool { return s.Steps[i].Day < s.Steps[j].Day })
		c.byID[s.ID] = s
		c.ids = append(c.ids, s.ID)
	}
	sort.Strings(c.ids)
	return c, nil
}

// LoadBuiltin returns the catalog bundled with the binary.
func LoadBuiltin() (*Catalog, error) {
	seqs, err := builtinSequences()
	if err != nil {
		return nil, err
	}
	return NewCatalog(seqs...)
}

// Load returns the builtin catalog with any *.yaml / *.yml files in dir
// layered on top. A file whose id matches a builtin replaces it. An empty or
// missing dir yields the builtin catalog.
func Load(dir string) (*Catalog, error) {
	seqs, err := builtinSequences()
	if err != nil {
		return nil, err
	}
	overrides, err := loadDir(dir)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*Sequence, len(seqs)+len(overrides))
	for _, s := range seqs {
		byID[s.ID] = s
	}
	for _, s := range overrides {
		byID[s.ID] = s
	}
	merged := make([]*Sequence, 0, len(byID))
	for _, s := range byID {
		merged = append(merged, s)
	}
	return NewCatalog(merged...)
}

// Get returns the sequence with the given id.
func (c *Catalog) Get(id string) (*Sequence, error) {
	s, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSequenceNotFound, id)
	}
	return s, nil
}

// IDs returns every sequence id in lexical order.
func (c *Catalog) IDs() []string {
	return append([]string(nil), c.ids...)
}

// All returns the sequences in id order.
func (c *Catalog) All() []*Sequence {
	out := make([]*Sequence, len(c.ids))
	for i, id := range c.ids {
		out[i] = c.byID[id]
	}
	return out
}

// StepKeys lists the key of every step in the catalog, in id then day
// order.
func (c *Catalog) StepKeys() []lead.StepKey {
	var out []lead.StepKey
	for _, id := range c.ids {
		for _, st := range c.byID[id].Steps {
			out = append(out, lead.StepKey{SequenceID: id, Day: st.Day})
		}
	}
	return out
}

// Templates lists every template id the catalog references.
func (c *Catalog) Templates() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, id := range c.ids {
		for _, st := range c.byID[id].Steps {
			if _, ok := seen[st.Template]; ok {
				continue
			}
			seen[st.Template] = struct{}{}
			out = append(out, st.Template)
		}
	}
	return out
}

// ─── LOADING ─────────────────────────────────────────────────────────────────

func builtinSequences() ([]*Sequence, error) {
	entries, err := fs.ReadDir(builtinFS, "builtin")
	if err != nil {
		return nil, fmt.Errorf("sequence: read builtin: %w", err)
	}
	seqs := make([]*Sequence, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := builtinFS.ReadFile("builtin/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("sequence: read builtin %s: %w", entry.Name(), err)
		}
		s, err := parse(data)
		if err != nil {
			return nil, fmt.Errorf("sequence: parse builtin %s: %w", entry.Name(), err)
		}
		s.Source = "builtin"
		seqs = append(seqs, s)
	}
	return seqs, nil
}

func loadDir(dir string) ([]*Sequence, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sequence: read dir %s: %w", dir, err)
	}

	var seqs []*Sequence
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("sequence: read %s: %w", path, err)
		}
		s, err := parse(data)
		if err != nil {
			return nil, fmt.Errorf("sequence: parse %s: %w", path, err)
		}
		s.Source = path
		seqs = append(seqs, s)
	}
	return seqs, nil
}

func parse(data []byte) (*Sequence, error) {
	var s Sequence
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, err
	}
	return &s, nil
}
