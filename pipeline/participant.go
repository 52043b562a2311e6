package pipeline

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/contrail-ai/contrail/document"
)

// Participant describes one analysis service the dispatcher can target.
type Participant struct {
	// Name is the participant's routing key, used in subjects and results.
	Name string `yaml:"name" json:"name"`
	// Endpoint is the HTTP URL the adapter invokes.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// Sections are glob patterns over section names selecting the subset
	// this participant receives. Empty means the whole bag.
	Sections []string `yaml:"sections,omitempty" json:"sections,omitempty"`
	// Timeout bounds one invocation. Zero uses the adapter default.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	// Disabled removes the participant from dispatch without deleting it.
	Disabled bool `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// Validate checks the participant definition, including its section patterns.
func (p Participant) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("participant name is required")
	}
	if p.Endpoint == "" {
		return fmt.Errorf("participant %s: endpoint is required", p.Name)
	}
	for _, pat := range p.Sections {
		if !doublestar.ValidatePattern(pat) {
			return fmt.Errorf("participant %s: invalid section pattern %q", p.Name, pat)
		}
	}
	return nil
}

// Wants reports whether the bag has content in any section this participant's
// patterns select. Participants with no patterns want every non-empty bag.
func (p Participant) Wants(bag *document.SectionBag) bool {
	return !bag.Subset(p.Sections).Empty()
}

// DefaultParticipants is the built-in routing table used when no participant
// file is configured. Endpoints follow the docker-compose service names.
func DefaultParticipants() []Participant {
	return []Participant{
		{
			Name:     "legal",
			Endpoint: "http://ai-legal:8080/analyze",
			Sections: []string{"part_*"},
		},
		{
			Name:     "econom",
			Endpoint: "http://ai-econom:8080/analyze",
			Sections: []string{"part_2", "part_16"},
		},
		{
			Name:     "accountant",
			Endpoint: "http://ai-accountant:8080/analyze",
			Sections: []string{"part_2", "part_3", "part_16"},
		},
		{
			Name:     "security",
			Endpoint: "http://sb-ai:8080/analyze",
			Sections: []string{"part_0", "part_1", "part_14", "part_15"},
		},
		{
			Name:     "extractor",
			Endpoint: "http://contract-extractor:8080/analyze",
		},
	}
}

// Table is the live participant routing table. Replace swaps the whole set
// atomically, which is how the file watcher applies hot reloads.
type Table struct {
	mu           sync.RWMutex
	participants map[string]Participant
}

// NewTable builds a table from the given participants. Duplicate names and
// invalid definitions are rejected.
func NewTable(participants []Participant) (*Table, error) {
	t := &Table{}
	if err := t.Replace(participants); err != nil {
		return nil, err
	}
	return t, nil
}

// Replace validates and installs a new participant set.
func (t *Table) Replace(participants []Participant) error {
	next := make(map[string]Participant, len(participants))
	for _, p := range participants {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, dup := next[p.Name]; dup {
			return fmt.Errorf("duplicate participant %s", p.Name)
		}
		next[p.Name] = p
	}
	if len(next) == 0 {
		return fmt.Errorf("participant table must not be empty")
	}

	t.mu.Lock()
	t.participants = next
	t.mu.Unlock()
	return nil
}

// Get returns a participant by name.
func (t *Table) Get(name string) (Participant, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.participants[name]
	return p, ok
}

// All returns the enabled participants sorted by name.
func (t *Table) All() []Participant {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Participant, 0, len(t.participants))
	for _, p := range t.participants {
		if !p.Disabled {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Targets returns the enabled participants whose patterns select content
// from the bag, in name order.
func (t *Table) Targets(bag *document.SectionBag) []Participant {
	var out []Participant
	for _, p := range t.All() {
		if p.Wants(bag) {
			out = append(out, p)
		}
	}
	return out
}

// LoadParticipants reads a participant table from a YAML file. The file
// holds a top-level "participants" list.
func LoadParticipants(path string) ([]Participant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read participant file: %w", err)
	}

	var doc struct {
		Participants []Participant `yaml:"participants"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse participant file %s: %w", path, err)
	}
	if len(doc.Participants) == 0 {
		return nil, fmt.Errorf("participant file %s defines no participants", path)
	}
	return doc.Participants, nil
}
