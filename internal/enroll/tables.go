// File: internal/enroll/tables.go
package enroll

// Lookup tables for page furniture the machine has to get past or read.
// All of them are tried in order and none is load-bearing: a miss degrades,
// it never fails a run. Tests substitute the consent tables through Deps.

// defaultConsentTexts are exact button labels of the common cookie and
// consent prompts. Matching is trimmed, case-sensitive, first hit wins.
var defaultConsentTexts = []string{
	"Accept all",
	"Accept All",
	"Allow all",
	"Allow All",
	"I agree",
	"I Agree",
	"Agree",
	"Accept cookies",
	"Accept",
	"Got it",
	"OK",
}

// defaultConsentSelectors are structural fallbacks for consent managers
// whose buttons carry no stable label (localized sites, icon buttons).
// The id-based entries cover the big hosted CMPs.
var defaultConsentSelectors = []string{
	`#onetrust-accept-btn-handler`,
	`#CybotCookiebotDialogBodyLevelButtonLevelOptinAllowAll`,
	`button[data-testid='uc-accept-all-button']`,
	`.qc-cmp2-summary-buttons button[mode='primary']`,
	`.fc-cta-consent`,
	`.cc-allow`,
	`button[id*='accept-all' i]`,
	`button[id*='cookie-accept' i]`,
	`button[aria-label*='accept' i]`,
}

// formMarkerSelectors detect that a signup form is still on the page after
// submission. A surviving password box or submit control is the tell.
var formMarkerSelectors = []string{
	`input[type='password']`,
	`form button[type='submit']`,
	`form input[type='submit']`,
}

// errorTextSelectors locate visible validation text near a rejected form.
var errorTextSelectors = []string{
	`[role='alert']`,
	`.invalid-feedback`,
	`.field-error`,
	`.form-error`,
	`.error-message`,
	`.alert-danger`,
	`.error`,
}
