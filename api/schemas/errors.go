package schemas

import "errors"

// ErrNoMatch is the contract sentinel for element lookups: ClickText,
// ClickFirst and FindFirst return it (possibly wrapped) when none of the
// candidates resolves to a visible, enabled element. Callers branch on it
// with errors.Is to tell "not on this page" apart from a broken session.
var ErrNoMatch = errors.New("no matching element found")
