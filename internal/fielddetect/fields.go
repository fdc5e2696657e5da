// File: internal/fielddetect/fields.go
package fielddetect

import "github.com/veilkit/pane/api/schemas"

// LogicalField names one slot of a signup form independent of how any
// particular site spells it in markup.
type LogicalField string

const (
	FieldEmail     LogicalField = "email"
	FieldFirstName LogicalField = "first_name"
	FieldLastName  LogicalField = "last_name"
	FieldFullName  LogicalField = "full_name"
	FieldUsername  LogicalField = "username"
	FieldPassword  LogicalField = "password"
	FieldPhone     LogicalField = "phone"
)

// Step is one fill instruction. Selectors are tried in order; the first
// visible and enabled match receives Value. SkipIfFilled suppresses the
// step when any of the named fields already got a value, which is how the
// full-name rule avoids double-filling a split name.
type Step struct {
	Field        LogicalField
	Selectors    []string
	Value        string
	SkipIfFilled []LogicalField
}

// -- genericMatchers holds the ordered selector lists per logical field, most specific first --

var genericMatchers = map[LogicalField][]string{
	FieldEmail: {
		`input[type='email']`,
		`input[autocomplete='email']`,
		`input[name*='email' i]`,
		`input[id*='email' i]`,
		`input[placeholder*='email' i]`,
	},
	FieldFirstName: {
		`input[autocomplete='given-name']`,
		`input[name*='first' i]`,
		`input[id*='first' i]`,
		`input[placeholder*='first name' i]`,
	},
	FieldLastName: {
		`input[autocomplete='family-name']`,
		`input[name*='last' i]`,
		`input[id*='last' i]`,
		`input[placeholder*='last name' i]`,
	},
	FieldFullName: {
		`input[autocomplete='name']`,
		`input[name='name']`,
		`input[name*='fullname' i]`,
		`input[id*='fullname' i]`,
		`input[placeholder*='full name' i]`,
		`input[placeholder*='your name' i]`,
	},
	FieldUsername: {
		`input[autocomplete='username']:not([type='email'])`,
		`input[name='username']`,
		`input[id*='username' i]`,
		`input[name*='user' i]:not([name*='email' i])`,
	},
	FieldPassword: {
		`input[autocomplete='new-password']`,
		`input[name*='password' i]`,
		`input[id*='password' i]`,
		// Narrower matches first; any password-typed input is the floor.
		`input[type='password']`,
	},
	FieldPhone: {
		`input[type='tel']`,
		`input[autocomplete='tel']`,
		`input[name*='phone' i]`,
		`input[id*='phone' i]`,
		`input[placeholder*='phone' i]`,
	},
}

// genericOrder fixes the fill sequence for generic detection. Full name
// comes after the split-name fields so its skip rule can observe them.
var genericOrder = []LogicalField{
	FieldEmail,
	FieldUsername,
	FieldFirstName,
	FieldLastName,
	FieldFullName,
	FieldPassword,
	FieldPhone,
}

// genericSubmitSelectors is the prioritized fallback used when no override
// names a submit control.
var genericSubmitSelectors = []string{
	`button[type='submit']`,
	`input[type='submit']`,
	`form button:not([type='button'])`,
	`button[id*='submit' i]`,
	`button[name*='submit' i]`,
	`button[class*='submit' i]`,
	`[role='button'][id*='sign' i]`,
}

// valueFor maps a logical field onto the enrollment context.
func valueFor(field LogicalField, ec schemas.EnrollmentContext) string {
	switch field {
	case FieldEmail:
		return ec.Alias.Email
	case FieldFirstName:
		return ec.Identity.FirstName
	case FieldLastName:
		return ec.Identity.LastName
	case FieldFullName:
		return ec.Identity.FullName
	case FieldUsername:
		return ec.Username
	case FieldPassword:
		return ec.Password
	case FieldPhone:
		return ec.Identity.Phone
	default:
		return ""
	}
}
