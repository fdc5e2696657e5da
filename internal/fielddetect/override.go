// File: internal/fielddetect/override.go
package fielddetect

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/veilkit/pane/api/schemas"
)

// Descriptor is the on-disk override for one registration domain. A
// descriptor fully replaces generic detection for its domain; there is no
// merging of the two.
type Descriptor struct {
	Domain         string     `yaml:"domain"`
	NavigationURL  string     `yaml:"navigation_url,omitempty"`
	Steps          []StepSpec `yaml:"steps,omitempty"`
	SubmitSelector string     `yaml:"submit_selector,omitempty"`
	SuccessSignals []string   `yaml:"success_signals,omitempty"`

	// NoForm flips the flow to generate-and-extract: the machine clicks
	// GenerateSelector and reads the issued token from TokenSelector.
	NoForm           bool   `yaml:"no_form,omitempty"`
	GenerateSelector string `yaml:"generate_selector,omitempty"`
	TokenSelector    string `yaml:"token_selector,omitempty"`

	// EmbeddedFrame routes field operations into the iframe whose URL
	// contains FrameURLFragment.
	EmbeddedFrame    bool   `yaml:"embedded_frame,omitempty"`
	FrameURLFragment string `yaml:"frame_url_fragment,omitempty"`
}

// StepSpec is one declared fill step. Either the logical field supplies
// the value, or From names another logical field to copy it from.
type StepSpec struct {
	Field    LogicalField `yaml:"field"`
	Selector string       `yaml:"selector"`
	From     LogicalField `yaml:"from,omitempty"`
}

// ParseDescriptor decodes and validates one YAML descriptor.
func ParseDescriptor(raw []byte) (Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return Descriptor{}, fmt.Errorf("decode override: %w", err)
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// Validate enforces the structural rules a descriptor must satisfy before
// it is admitted to the registry.
func (d Descriptor) Validate() error {
	if d.Domain == "" {
		return fmt.Errorf("override missing domain")
	}
	if d.NoForm {
		if d.GenerateSelector == "" {
			return fmt.Errorf("override %s: no_form requires generate_selector", d.Domain)
		}
		if d.TokenSelector == "" {
			return fmt.Errorf("override %s: no_form requires token_selector", d.Domain)
		}
	} else if len(d.Steps) == 0 {
		return fmt.Errorf("override %s: needs steps or no_form", d.Domain)
	}
	for i, s := range d.Steps {
		if s.Selector == "" {
			return fmt.Errorf("override %s: step %d missing selector", d.Domain, i)
		}
		if s.Field == "" && s.From == "" {
			return fmt.Errorf("override %s: step %d needs field or from", d.Domain, i)
		}
	}
	if d.EmbeddedFrame && d.FrameURLFragment == "" {
		return fmt.Errorf("override %s: embedded_frame requires frame_url_fragment", d.Domain)
	}
	return nil
}

// override adapts a Descriptor to the Strategy interface.
type override struct {
	d Descriptor
}

func (o *override) Name() string { return o.d.Domain }

func (o *override) NavigationURL(target string) string {
	if o.d.NavigationURL != "" {
		return o.d.NavigationURL
	}
	return target
}

func (o *override) FrameFragment() (string, bool) {
	if o.d.EmbeddedFrame {
		return o.d.FrameURLFragment, true
	}
	return "", false
}

func (o *override) ResolveFields(ec schemas.EnrollmentContext) []Step {
	steps := make([]Step, 0, len(o.d.Steps))
	for _, s := range o.d.Steps {
		source := s.Field
		if s.From != "" {
			source = s.From
		}
		value := valueFor(source, ec)
		if value == "" {
			continue
		}
		steps = append(steps, Step{
			Field:     s.Field,
			Selectors: []string{s.Selector},
			Value:     value,
		})
	}
	return steps
}

func (o *override) SubmitSelectors() []string {
	if o.d.SubmitSelector == "" {
		return nil
	}
	return []string{o.d.SubmitSelector}
}

func (o *override) SuccessSignals() []string { return o.d.SuccessSignals }

func (o *override) NoForm() (NoFormFlow, bool) {
	if !o.d.NoForm {
		return NoFormFlow{}, false
	}
	return NoFormFlow{
		GenerateSelector: o.d.GenerateSelector,
		TokenSelector:    o.d.TokenSelector,
	}, true
}
