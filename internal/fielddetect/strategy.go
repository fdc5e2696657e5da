// File: internal/fielddetect/strategy.go
package fielddetect

import "github.com/veilkit/pane/api/schemas"

// Strategy answers the four questions the state machine asks about a
// target: which fields to fill, how to submit, what success looks like,
// and whether the flow has a form at all. Overrides answer from their
// descriptor; the generic strategy answers from the built-in tables.
type Strategy interface {
	// Name identifies the strategy in logs ("generic" or the domain).
	Name() string

	// NavigationURL returns the URL to open. Overrides may pin a known
	// signup URL; otherwise the caller's target passes through.
	NavigationURL(target string) string

	// FrameFragment reports the URL substring of the embedded signup
	// frame, when the flow lives inside one.
	FrameFragment() (string, bool)

	// ResolveFields produces the ordered fill plan for the context.
	ResolveFields(ec schemas.EnrollmentContext) []Step

	// SubmitSelectors returns candidate submit controls in priority order.
	SubmitSelectors() []string

	// SuccessSignals returns the override's outcome signals, or nil to use
	// the classifier defaults.
	SuccessSignals() []string

	// NoForm reports the generate-and-extract flow for targets that mint
	// an artifact without a signup form.
	NoForm() (NoFormFlow, bool)
}

// NoFormFlow describes a formless target: one control to click and the
// place the issued token appears afterwards.
type NoFormFlow struct {
	GenerateSelector string
	TokenSelector    string
}

// generic is the fallback strategy built from the package tables. The
// zero value is not usable; construct through the registry so the tables
// are copied once and stay immutable afterwards.
type generic struct {
	matchers map[LogicalField][]string
	order    []LogicalField
	submit   []string
}

func newGeneric() *generic {
	return &generic{
		matchers: genericMatchers,
		order:    genericOrder,
		submit:   genericSubmitSelectors,
	}
}

func (g *generic) Name() string { return "generic" }

func (g *generic) NavigationURL(target string) string { return target }

func (g *generic) FrameFragment() (string, bool) { return "", false }

func (g *generic) ResolveFields(ec schemas.EnrollmentContext) []Step {
	steps := make([]Step, 0, len(g.order))
	for _, field := range g.order {
		value := valueFor(field, ec)
		if value == "" {
			continue
		}
		step := Step{
			Field:     field,
			Selectors: g.matchers[field],
			Value:     value,
		}
		if field == FieldFullName {
			step.SkipIfFilled = []LogicalField{FieldFirstName, FieldLastName}
		}
		steps = append(steps, step)
	}
	return steps
}

func (g *generic) SubmitSelectors() []string { return g.submit }

func (g *generic) SuccessSignals() []string { return nil }

func (g *generic) NoForm() (NoFormFlow, bool) { return NoFormFlow{}, false }
