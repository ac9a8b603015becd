package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/Bidon15/mpoolctl/internal/deployerr"
)

// Marker statuses.
const (
	StatusComplete     = "complete"
	StatusCompleteSoft = "complete-soft"
)

// Marker records a completed step and the outputs it produced.
type Marker struct {
	CompletedAt time.Time                  `json:"completedAt"`
	Status      string                     `json:"status"`
	RunID       string                     `json:"runId,omitempty"`
	Outputs     map[string]json.RawMessage `json:"outputs,omitempty"`
}

type orchestratorState struct {
	Revision uint64             `json:"revision"`
	Markers  map[string]*Marker `json:"markers"`
}

// document is the structured view: named sections of fields plus the
// reserved orchestrator section.
type document struct {
	sections map[string]map[string]json.RawMessage
	state    orchestratorState
}

func newDocument() *document {
	return &document{
		sections: make(map[string]map[string]json.RawMessage),
		state:    orchestratorState{Markers: make(map[string]*Marker)},
	}
}

func parseDocument(data []byte) (*document, error) {
	doc := newDocument()
	if len(data) == 0 {
		return doc, nil
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("%w: structured file: %v", deployerr.ErrConfigCorrupt, err)
	}

	for name, raw := range top {
		if name == OrchestratorSection {
			if err := json.Unmarshal(raw, &doc.state); err != nil {
				return nil, fmt.Errorf("%w: %s section: %v", deployerr.ErrConfigCorrupt, name, err)
			}
			if doc.state.Markers == nil {
				doc.state.Markers = make(map[string]*Marker)
			}
			continue
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("%w: section %q is not an object", deployerr.ErrConfigCorrupt, name)
		}
		doc.sections[name] = fields
	}
	return doc, nil
}

func (d *document) field(section, name string) (string, bool) {
	raw, ok := d.sections[section][name]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return string(raw), true
}

func (d *document) setField(section, name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s.%s: %w", section, name, err)
	}
	fields, ok := d.sections[section]
	if !ok {
		fields = make(map[string]json.RawMessage)
		d.sections[section] = fields
	}
	fields[name] = raw
	return nil
}

func (d *document) render() ([]byte, error) {
	top := make(map[string]any, len(d.sections)+1)
	for name, fields := range d.sections {
		top[name] = fields
	}
	top[OrchestratorSection] = d.state
	return json.MarshalIndent(top, "", "  ")
}

func (d *document) sectionNames() []string {
	names := make([]string, 0, len(d.sections))
	for name := range d.sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
