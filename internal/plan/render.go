package plan

import (
	"gopkg.in/yaml.v3"
)

type renderedStep struct {
	Kind StepKind `yaml:"kind"`
	Spec Step     `yaml:"spec"`
}

type renderedPlan struct {
	Name       string         `yaml:"name"`
	Section    string         `yaml:"section,omitempty"`
	MinBalance string         `yaml:"minBalanceWei"`
	Inputs     []Input        `yaml:"inputs,omitempty"`
	Steps      []renderedStep `yaml:"steps"`
	Bindings   []Binding      `yaml:"bindings,omitempty"`
	Records    []Record       `yaml:"records,omitempty"`
	Checks     []Check        `yaml:"verify,omitempty"`
}

// MarshalYAML renders the plan for dry-run inspection.
func (p *Plan) MarshalYAML() (any, error) {
	out := renderedPlan{
		Name:     p.Name,
		Section:  p.Section,
		Inputs:   p.Inputs,
		Bindings: p.Bindings,
		Records:  p.Records,
		Checks:   p.Checks,
	}
	if p.MinBalance != nil {
		out.MinBalance = p.MinBalance.String()
	}
	for _, s := range p.Steps {
		out.Steps = append(out.Steps, renderedStep{Kind: s.Kind(), Spec: s})
	}
	return out, nil
}

// Render returns the YAML form of the plan.
func Render(p *Plan) ([]byte, error) {
	return yaml.Marshal(p)
}
