// File: internal/fielddetect/fielddetect_test.go
package fielddetect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/veilkit/pane/api/schemas"
)

func testContext() schemas.EnrollmentContext {
	return schemas.EnrollmentContext{
		Name: "maple-circuit",
		Identity: schemas.Identity{
			Seed:      "maple-circuit",
			FirstName: "Avery",
			LastName:  "Mercer",
			FullName:  "Avery Mercer",
			Phone:     "(503) 555-0137",
		},
		Alias:    schemas.AliasResult{ID: "al_1", Email: "maple-circuit-9f3@relay.veilkit.dev"},
		Username: "maple_circuit42",
		Password: "S3cure!Example#Pass",
	}
}

func TestGenericResolveFields(t *testing.T) {
	g := newGeneric()
	steps := g.ResolveFields(testContext())

	var order []LogicalField
	for _, s := range steps {
		order = append(order, s.Field)
		assert.NotEmpty(t, s.Selectors, "field %s has no selectors", s.Field)
		assert.NotEmpty(t, s.Value, "field %s has no value", s.Field)
	}
	assert.Equal(t, []LogicalField{
		FieldEmail, FieldUsername, FieldFirstName, FieldLastName,
		FieldFullName, FieldPassword, FieldPhone,
	}, order)

	for _, s := range steps {
		if s.Field == FieldFullName {
			assert.ElementsMatch(t, []LogicalField{FieldFirstName, FieldLastName}, s.SkipIfFilled)
		} else {
			assert.Empty(t, s.SkipIfFilled)
		}
	}
}

func TestGenericResolveFieldsSkipsEmptyValues(t *testing.T) {
	ec := testContext()
	ec.Identity.Phone = ""
	ec.Username = ""

	steps := newGeneric().ResolveFields(ec)
	for _, s := range steps {
		assert.NotEqual(t, FieldPhone, s.Field)
		assert.NotEqual(t, FieldUsername, s.Field)
	}
}

func TestGenericTables(t *testing.T) {
	g := newGeneric()
	assert.Equal(t, "generic", g.Name())
	assert.Equal(t, "https://example.com/signup", g.NavigationURL("https://example.com/signup"))
	assert.NotEmpty(t, g.SubmitSelectors())
	assert.Nil(t, g.SuccessSignals())

	_, ok := g.NoForm()
	assert.False(t, ok)
	_, ok = g.FrameFragment()
	assert.False(t, ok)

	// Password list must bottom out at any password-typed input.
	pw := genericMatchers[FieldPassword]
	assert.Equal(t, `input[type='password']`, pw[len(pw)-1])
}

func TestParseDescriptor(t *testing.T) {
	raw := []byte(`
domain: example.com
navigation_url: https://example.com/join
steps:
  - field: email
    selector: "#email"
  - field: username
    selector: "#user"
    from: email
  - field: password
    selector: "#pass"
submit_selector: "button.join"
success_signals: ["welcome aboard"]
`)
	d, err := ParseDescriptor(raw)
	require.NoError(t, err)
	assert.Equal(t, "example.com", d.Domain)
	require.Len(t, d.Steps, 3)
	assert.Equal(t, FieldEmail, d.Steps[1].From)

	o := &override{d: d}
	assert.Equal(t, "https://example.com/join", o.NavigationURL("https://example.com/other"))
	assert.Equal(t, []string{"button.join"}, o.SubmitSelectors())
	assert.Equal(t, []string{"welcome aboard"}, o.SuccessSignals())

	steps := o.ResolveFields(testContext())
	require.Len(t, steps, 3)
	// Declared order is preserved and the derived step copies the email.
	assert.Equal(t, FieldEmail, steps[0].Field)
	assert.Equal(t, FieldUsername, steps[1].Field)
	assert.Equal(t, steps[0].Value, steps[1].Value)
	assert.Equal(t, []string{"#user"}, steps[1].Selectors)
}

func TestParseDescriptorRejectsBroken(t *testing.T) {
	cases := map[string]string{
		"NoDomain":          "steps:\n  - field: email\n    selector: '#e'\n",
		"NoSteps":           "domain: example.com\n",
		"StepNoSelector":    "domain: example.com\nsteps:\n  - field: email\n",
		"NoFormNoGenerate":  "domain: example.com\nno_form: true\ntoken_selector: '#t'\n",
		"NoFormNoToken":     "domain: example.com\nno_form: true\ngenerate_selector: '#g'\n",
		"FrameNoFragment":   "domain: example.com\nembedded_frame: true\nsteps:\n  - field: email\n    selector: '#e'\n",
		"InvalidYAMLSyntax": "domain: [unterminated\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDescriptor([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestNoFormDescriptor(t *testing.T) {
	d, err := ParseDescriptor([]byte(`
domain: tokens.example.org
no_form: true
generate_selector: "button.generate"
token_selector: "code.token"
`))
	require.NoError(t, err)

	o := &override{d: d}
	flow, ok := o.NoForm()
	require.True(t, ok)
	assert.Equal(t, "button.generate", flow.GenerateSelector)
	assert.Equal(t, "code.token", flow.TokenSelector)
	assert.Empty(t, o.ResolveFields(testContext()))
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	require.NoError(t, r.Register(Descriptor{
		Domain: "Example.co.uk",
		Steps:  []StepSpec{{Field: FieldEmail, Selector: "#email"}},
	}))

	t.Run("SubdomainKeysToRegistration", func(t *testing.T) {
		s := r.ForURL("https://signup.example.co.uk/join?x=1")
		assert.Equal(t, "example.co.uk", s.Name())
	})

	t.Run("UnknownDomainFallsBack", func(t *testing.T) {
		s := r.ForURL("https://nothing-registered.net/")
		assert.Equal(t, "generic", s.Name())
	})

	t.Run("UnparsableURLFallsBack", func(t *testing.T) {
		s := r.ForURL("::not a url::")
		assert.Equal(t, "generic", s.Name())
	})
}

func TestRegistryLoadDir(t *testing.T) {
	dir := t.TempDir()
	good := []byte("domain: example.com\nsteps:\n  - field: email\n    selector: '#e'\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "example.yaml"), good, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	r := NewRegistry(zaptest.NewLogger(t))
	require.NoError(t, r.LoadDir(dir))
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, "example.com", r.ForURL("https://www.example.com/signup").Name())

	t.Run("MissingDirIsFine", func(t *testing.T) {
		r := NewRegistry(zaptest.NewLogger(t))
		require.NoError(t, r.LoadDir(filepath.Join(dir, "does-not-exist")))
		assert.Equal(t, 0, r.Len())
	})

	t.Run("BrokenDescriptorFails", func(t *testing.T) {
		bad := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(bad, "bad.yaml"), []byte("domain: ''\n"), 0o644))
		r := NewRegistry(zaptest.NewLogger(t))
		assert.Error(t, r.LoadDir(bad))
	})
}

func TestRegistrationDomain(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://signup.example.com/a/b", "example.com"},
		{"https://example.co.uk", "example.co.uk"},
		{"https://deep.sub.example.co.uk/x", "example.co.uk"},
	}
	for _, tc := range cases {
		got, err := RegistrationDomain(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := RegistrationDomain("not-a-url")
	assert.Error(t, err)
}
