package schemas

import "time"

// -- Identity & Envelope Schemas --

// Address is the postal part of a synthetic identity.
type Address struct {
	Street string `json:"street"`
	City   string `json:"city"`
	State  string `json:"state"`
	Zip    string `json:"zip"`
}

// Identity is a synthetic person, deterministically derived from a seed.
// Two generations with the same seed produce identical identities.
type Identity struct {
	Seed      string  `json:"seed"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	FullName  string  `json:"full_name"`
	DOB       string  `json:"dob"` // ISO date, YYYY-MM-DD
	Phone     string  `json:"phone"`
	Address   Address `json:"address"`
	Timezone  string  `json:"timezone"`
}

// AliasResult is the provider-side record of a disposable forwarding email.
type AliasResult struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// AliasRequest is the input to AliasProvider.Create.
type AliasRequest struct {
	// Name is the context label the alias belongs to (the seed).
	Name     string   `json:"name"`
	Identity Identity `json:"identity"`
}

// CardResult is the provider-side record of a disposable payment token.
type CardResult struct {
	Token    string `json:"token"`
	LastFour string `json:"lastFour"`
}

// CardRequest is the input to CardProvider.Create.
type CardRequest struct {
	Memo            string `json:"memo"`
	SpendLimitCents int64  `json:"spendLimitCents"`
}

// EnrollmentContext is the immutable input bundle for one enrollment run.
// It is owned exclusively by the run that receives it; the engine never
// mutates it and never shares it across jobs.
type EnrollmentContext struct {
	// Name is the human-chosen context label (normally the seed).
	Name     string      `json:"name"`
	Identity Identity    `json:"identity"`
	Alias    AliasResult `json:"alias"`
	Card     CardResult  `json:"card"`
	Username string      `json:"username"`
	Password string      `json:"password"`
}

// Envelope is the persisted form of a context: one alias, one card, one
// identity and the target it was spent on, keyed by the context name.
type Envelope struct {
	Name         string      `json:"name"`
	TargetURL    string      `json:"target_url"`
	Identity     Identity    `json:"identity"`
	Alias        AliasResult `json:"alias"`
	Card         CardResult  `json:"card"`
	Username     string      `json:"username"`
	Password     string      `json:"password"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	TombstonedAt *time.Time  `json:"tombstoned_at,omitempty"`
}

// Tombstoned reports whether the envelope has been deliberately terminated
// (alias burned, card frozen). Tombstoned envelopes are kept forever as a
// record of the relationship; they are never hard-deleted.
func (e *Envelope) Tombstoned() bool {
	return e.TombstonedAt != nil
}

// Context assembles the run input bundle from the persisted envelope.
func (e *Envelope) Context() EnrollmentContext {
	return EnrollmentContext{
		Name:     e.Name,
		Identity: e.Identity,
		Alias:    e.Alias,
		Card:     e.Card,
		Username: e.Username,
		Password: e.Password,
	}
}

// EnrollmentResult is the terminal value of one run. Produced exactly once
// and recorded as the job's terminal event.
type EnrollmentResult struct {
	Success bool `json:"success"`
	// MatchedSignal is the success substring that classified the outcome,
	// empty when the outcome was unconfirmed.
	MatchedSignal string `json:"matchedSignal,omitempty"`
	// Unconfirmed marks a submission that produced no recognizable success
	// signal. Many targets defer confirmation to an email the engine cannot
	// inspect, so this is still reported as success, qualified.
	Unconfirmed bool `json:"unconfirmed,omitempty"`
	// FormError carries visible validation text when the page appears to
	// still be showing the form after submission. Kept separate from
	// Unconfirmed so callers can tell a rejected submission apart from a
	// merely silent one.
	FormError string `json:"formError,omitempty"`
	// Token is the provider-issued artifact extracted by no-form flows.
	Token       string   `json:"token,omitempty"`
	Screenshots []string `json:"screenshots,omitempty"`
	Error       string   `json:"error,omitempty"`
	// FailureKind is the taxonomy kind when Error is set; empty otherwise.
	FailureKind string `json:"failureKind,omitempty"`
}
