package schemas

// Step identifies one stage of an enrollment run in progress events.
type Step string

// The step vocabulary is fixed; front ends key display logic off these
// exact strings.
const (
	StepLaunch   Step = "launch"
	StepNavigate Step = "navigate"
	StepConsent  Step = "consent"
	StepForm     Step = "form"
	StepFill     Step = "fill"
	StepSubmit   Step = "submit"
	StepVerify   Step = "verify"
	StepError    Step = "error"
	StepComplete Step = "complete"
)

// ProgressEvent is the externally observable effect of a state transition.
// PercentComplete is monotonically non-decreasing within one run.
type ProgressEvent struct {
	Step            Step   `json:"step"`
	Message         string `json:"message"`
	PercentComplete int    `json:"percentComplete"`
	ScreenshotURL   string `json:"screenshotUrl,omitempty"`
}

// ProgressFunc receives progress events synchronously. Used by callers that
// want a callback instead of a job subscription; implementations must not
// block for long, the run goroutine invokes them inline.
type ProgressFunc func(ev ProgressEvent)
