// File: internal/enroll/machine.go

// Package enroll implements the enrollment state machine. One run drives a
// single isolated browser session from launch through outcome
// classification and always terminates in a result; failures are folded
// into the result instead of escaping as errors.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/veilkit/pane/api/schemas"
	"github.com/veilkit/pane/internal/browser/fingerprint"
	"github.com/veilkit/pane/internal/classify"
	"github.com/veilkit/pane/internal/config"
	"github.com/veilkit/pane/internal/fielddetect"
	"github.com/veilkit/pane/internal/metrics"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultSettleDelay       = 3 * time.Second
	defaultConsentTimeout    = 8 * time.Second
	defaultRunTimeout        = 4 * time.Minute

	// consentSettleDelay absorbs the banner teardown after a consent click
	// so the first field probe does not race the overlay.
	consentSettleDelay = time.Second

	screenshotTimeout      = 10 * time.Second
	sessionTeardownTimeout = 10 * time.Second
)

// FingerprintSource rolls a fresh environment per run. Concurrent jobs must
// never share a fingerprint, so the machine draws one for every session.
type FingerprintSource interface {
	RollFingerprint() schemas.Fingerprint
}

// rollerFunc adapts a bare roll function to FingerprintSource.
type rollerFunc func() schemas.Fingerprint

func (f rollerFunc) RollFingerprint() schemas.Fingerprint { return f() }

// Deps carries the machine's collaborators. Backend is required; the rest
// degrade when nil: no registry means generic detection only, no artifact
// sink means no screenshots, no metrics sink means nothing recorded.
type Deps struct {
	Backend      schemas.BrowserBackend
	Fingerprints FingerprintSource
	Registry     *fielddetect.Registry
	Classifier   *classify.Classifier
	Artifacts    schemas.ArtifactSink
	Metrics      metrics.Sink
	Logger       *zap.Logger

	// ConsentTexts and ConsentSelectors replace the built-in consent
	// tables when non-nil.
	ConsentTexts     []string
	ConsentSelectors []string
}

// Machine executes enrollment runs. It holds no per-run state and is safe
// for concurrent use; every Run opens its own session.
type Machine struct {
	backend      schemas.BrowserBackend
	fingerprints FingerprintSource
	registry     *fielddetect.Registry
	classifier   *classify.Classifier
	artifacts    schemas.ArtifactSink
	metrics      metrics.Sink
	logger       *zap.Logger
	cfg          config.EnrollConfig

	consentTexts     []string
	consentSelectors []string
}

// NewMachine wires a machine from its dependencies and normalized config.
func NewMachine(cfg config.EnrollConfig, deps Deps) *Machine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Fingerprints == nil {
		if src, ok := deps.Backend.(FingerprintSource); ok {
			deps.Fingerprints = src
		} else {
			deps.Fingerprints = rollerFunc(fingerprint.NewRandomizer(nil).Roll)
		}
	}
	if deps.Registry == nil {
		deps.Registry = fielddetect.NewRegistry(logger)
	}
	if deps.Classifier == nil {
		deps.Classifier = classify.New(logger)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoopSink()
	}
	texts := deps.ConsentTexts
	if texts == nil {
		texts = defaultConsentTexts
	}
	selectors := deps.ConsentSelectors
	if selectors == nil {
		selectors = defaultConsentSelectors
	}

	return &Machine{
		backend:          deps.Backend,
		fingerprints:     deps.Fingerprints,
		registry:         deps.Registry,
		classifier:       deps.Classifier,
		artifacts:        deps.Artifacts,
		metrics:          deps.Metrics,
		logger:           logger.Named("enroll"),
		cfg:              normalizeConfig(cfg),
		consentTexts:     texts,
		consentSelectors: selectors,
	}
}

func normalizeConfig(cfg config.EnrollConfig) config.EnrollConfig {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.ConsentTimeout <= 0 {
		cfg.ConsentTimeout = defaultConsentTimeout
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultRunTimeout
	}
	return cfg
}

// stepPercent fixes the progress schedule per step. Terminal steps land on
// 100; emit keeps the reported value monotonic regardless of which states a
// given flow visits.
var stepPercent = map[schemas.Step]int{
	schemas.StepLaunch:   10,
	schemas.StepNavigate: 25,
	schemas.StepConsent:  35,
	schemas.StepForm:     45,
	schemas.StepFill:     65,
	schemas.StepSubmit:   80,
	schemas.StepVerify:   90,
	schemas.StepError:    100,
	schemas.StepComplete: 100,
}

// Run executes one enrollment against targetURL using the given context
// bundle. It always returns a terminal result: step failures, panics and
// cancellation all classify into the result's failure fields rather than
// propagating. The session is closed before Run returns.
func (m *Machine) Run(ctx context.Context, targetURL string, ec schemas.EnrollmentContext, progress schemas.ProgressFunc) *schemas.EnrollmentResult {
	if m.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.RunTimeout)
		defer cancel()
	}

	domain, err := fielddetect.RegistrationDomain(targetURL)
	if err != nil {
		domain = "page"
	}
	r := &run{
		m:         m,
		targetURL: targetURL,
		ec:        ec,
		progress:  progress,
		domain:    domain,
		result:    &schemas.EnrollmentResult{},
		logger: m.logger.With(
			zap.String("target", targetURL),
			zap.String("enrollContext", ec.Name),
		),
	}
	defer r.teardown()

	if runErr := r.execute(ctx); runErr != nil {
		r.failed(runErr)
	}
	return r.result
}

// run is the per-execution state: one session, one strategy, one result.
type run struct {
	m         *Machine
	targetURL string
	ec        schemas.EnrollmentContext
	progress  schemas.ProgressFunc
	domain    string
	logger    *zap.Logger

	session  schemas.BrowserSession
	strategy fielddetect.Strategy
	result   *schemas.EnrollmentResult

	percent    int
	lastFilled string
}

// execute walks the states in order. It returns nil only when the run
// reached a terminal outcome; any *RunError is fatal and becomes the
// result's failure. Panics inside a run are contained here.
func (r *run) execute(ctx context.Context) (runErr *RunError) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Run panicked.",
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))
			runErr = failf(FailureUnhandled, "run panic: %v", rec)
		}
	}()

	if err := r.launch(ctx); err != nil {
		return err
	}

	r.strategy = r.m.registry.ForURL(r.targetURL)
	navURL := r.strategy.NavigationURL(r.targetURL)
	r.logger.Info("Strategy selected.",
		zap.String("strategy", r.strategy.Name()),
		zap.String("navigationURL", navURL))

	if err := r.navigate(ctx, navURL); err != nil {
		return err
	}

	r.dismissConsent(ctx)
	if ctx.Err() != nil {
		return r.aborted(ctx)
	}

	fragment, hasFrame := r.strategy.FrameFragment()
	flow, formless := r.strategy.NoForm()
	switch {
	case hasFrame:
		r.emit(schemas.StepForm, "locating embedded signup frame")
	case formless:
		r.emit(schemas.StepForm, "locating generate control")
	default:
		r.emit(schemas.StepForm, "detecting signup fields")
	}

	if hasFrame {
		if err := r.session.UseFrame(ctx, fragment); err != nil {
			if ctx.Err() != nil {
				return r.aborted(ctx)
			}
			return failf(FailureNoForm, "embedded signup frame: %w", err)
		}
	}
	if formless {
		return r.executeNoForm(ctx, flow)
	}

	steps := r.strategy.ResolveFields(r.ec)
	r.emit(schemas.StepFill, fmt.Sprintf("filling up to %d fields", len(steps)))
	filled, err := r.fillFields(ctx, steps)
	if err != nil {
		return err
	}
	if filled == 0 {
		return failf(FailureNoForm, "no signup form detected on %s", r.domain)
	}
	r.m.metrics.FieldsFilled(filled)

	r.emit(schemas.StepSubmit, fmt.Sprintf("submitting form (%d fields filled)", filled))
	if err := r.submit(ctx); err != nil {
		return err
	}
	if err := r.session.WaitSettled(ctx, r.m.cfg.SettleDelay); err != nil && ctx.Err() != nil {
		return r.aborted(ctx)
	}

	r.emit(schemas.StepVerify, "classifying outcome")
	outcome, err := r.classifyOutcome(ctx)
	if err != nil {
		return err
	}
	r.result.Success = outcome.Success
	r.result.MatchedSignal = outcome.MatchedSignal
	r.result.Unconfirmed = outcome.Unconfirmed
	r.result.FormError = outcome.FormError

	ref := r.screenshot("outcome")
	switch {
	case outcome.FormError != "":
		r.emitRef(schemas.StepComplete, fmt.Sprintf("form rejected the submission: %s", outcome.FormError), ref)
	case outcome.Unconfirmed:
		r.emitRef(schemas.StepComplete, "submitted; no outcome signal found, reporting unconfirmed", ref)
	default:
		r.emitRef(schemas.StepComplete, fmt.Sprintf("enrollment confirmed (signal %q)", outcome.MatchedSignal), ref)
	}
	return nil
}

func (r *run) launch(ctx context.Context) *RunError {
	r.emit(schemas.StepLaunch, "launching isolated browser session")
	fp := r.m.fingerprints.RollFingerprint()
	session, err := r.m.backend.NewSession(ctx, fp)
	if err != nil {
		return failf(FailureLaunch, "browser session: %w", err)
	}
	r.session = session
	r.m.metrics.SessionOpened()
	r.logger.Debug("Session opened.", zap.String("sessionID", session.ID()))
	return nil
}

func (r *run) navigate(ctx context.Context, navURL string) *RunError {
	r.emit(schemas.StepNavigate, fmt.Sprintf("navigating to %s", navURL))
	navCtx, cancel := context.WithTimeout(ctx, r.m.cfg.NavigationTimeout)
	defer cancel()

	err := r.session.Navigate(navCtx, navURL)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return r.aborted(ctx)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failf(FailureNavigation, "navigation to %s timed out after %s", navURL, r.m.cfg.NavigationTimeout)
	}
	return failf(FailureUnhandled, "navigation to %s: %w", navURL, err)
}

// dismissConsent clears cookie and consent prompts. Strictly best effort:
// label matches first, structural selectors second, and any miss or error
// just moves the run along since many pages show no prompt at all.
func (r *run) dismissConsent(ctx context.Context) {
	r.emit(schemas.StepConsent, "scanning for consent prompts")
	consentCtx, cancel := context.WithTimeout(ctx, r.m.cfg.ConsentTimeout)
	defer cancel()

	text, err := r.session.ClickText(consentCtx, r.m.consentTexts)
	if err == nil {
		r.logger.Debug("Consent dismissed by label.", zap.String("text", text))
		_ = r.session.WaitSettled(ctx, consentSettleDelay)
		return
	}
	if !errors.Is(err, schemas.ErrNoMatch) {
		r.logger.Debug("Consent label scan failed.", zap.Error(err))
	}
	if consentCtx.Err() != nil {
		return
	}

	selector, err := r.session.ClickFirst(consentCtx, r.m.consentSelectors)
	if err == nil {
		r.logger.Debug("Consent dismissed by selector.", zap.String("selector", selector))
		_ = r.session.WaitSettled(ctx, consentSettleDelay)
		return
	}
	if !errors.Is(err, schemas.ErrNoMatch) {
		r.logger.Debug("Consent selector scan failed.", zap.Error(err))
	}
}

// fillFields executes the fill plan. A step whose selectors match nothing is
// skipped; a step whose fill fails is logged and skipped; only cancellation
// or a broken session stops the loop. Returns how many fields got a value.
func (r *run) fillFields(ctx context.Context, steps []fielddetect.Step) (int, *RunError) {
	filledSet := make(map[fielddetect.LogicalField]bool, len(steps))
	filled := 0

	for _, step := range steps {
		if ctx.Err() != nil {
			return filled, r.aborted(ctx)
		}
		if skipStep(step, filledSet) {
			r.logger.Debug("Step suppressed, counterpart already filled.",
				zap.String("field", string(step.Field)))
			continue
		}

		selector, err := r.session.FindFirst(ctx, step.Selectors)
		if errors.Is(err, schemas.ErrNoMatch) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return filled, r.aborted(ctx)
			}
			return filled, failf(FailureUnhandled, "probing %s: %w", step.Field, err)
		}

		if err := r.session.Fill(ctx, selector, step.Value); err != nil {
			if ctx.Err() != nil {
				return filled, r.aborted(ctx)
			}
			r.logger.Warn("Field fill failed, skipping.",
				zap.String("field", string(step.Field)),
				zap.String("selector", selector),
				zap.Error(err))
			continue
		}

		filledSet[step.Field] = true
		r.lastFilled = selector
		filled++
		r.logger.Debug("Field filled.",
			zap.String("field", string(step.Field)),
			zap.String("selector", selector))
	}
	return filled, nil
}

func skipStep(step fielddetect.Step, filled map[fielddetect.LogicalField]bool) bool {
	for _, f := range step.SkipIfFilled {
		if filled[f] {
			return true
		}
	}
	return false
}

// submit clicks the strategy's submit control. When none matches, the run
// degrades to a confirm keystroke in the last filled field rather than
// failing; plenty of single-field signups submit on Enter only.
func (r *run) submit(ctx context.Context) *RunError {
	selector, err := r.session.ClickFirst(ctx, r.strategy.SubmitSelectors())
	switch {
	case err == nil:
		r.logger.Debug("Submit clicked.", zap.String("selector", selector))
		return nil
	case errors.Is(err, schemas.ErrNoMatch):
		if kerr := r.session.PressEnter(ctx, r.lastFilled); kerr != nil {
			if ctx.Err() != nil {
				return r.aborted(ctx)
			}
			return failf(FailureUnhandled, "confirm keystroke: %w", kerr)
		}
		r.logger.Info("No submit control found; sent confirm keystroke.",
			zap.String("selector", r.lastFilled))
		return nil
	default:
		if ctx.Err() != nil {
			return r.aborted(ctx)
		}
		return failf(FailureUnhandled, "submit: %w", err)
	}
}

// classifyOutcome snapshots the page and hands the evidence to the
// classifier, probing for a surviving form and visible error text first.
func (r *run) classifyOutcome(ctx context.Context) (classify.Outcome, *RunError) {
	state, err := r.session.PageState(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return classify.Outcome{}, r.aborted(ctx)
		}
		return classify.Outcome{}, failf(FailureUnhandled, "page state: %w", err)
	}

	evidence := classify.Evidence{
		URL:      state.URL,
		Title:    state.Title,
		BodyText: state.BodyText,
	}
	if _, err := r.session.FindFirst(ctx, formMarkerSelectors); err == nil {
		evidence.FormPresent = true
		if sel, err := r.session.FindFirst(ctx, errorTextSelectors); err == nil {
			if text, terr := r.session.ElementText(ctx, sel); terr == nil {
				evidence.VisibleError = text
			}
		}
	}
	return r.m.classifier.Classify(evidence, r.strategy.SuccessSignals()), nil
}

// executeNoForm handles generate-and-extract targets: click one control,
// wait, read the issued token off the page.
func (r *run) executeNoForm(ctx context.Context, flow fielddetect.NoFormFlow) *RunError {
	if _, err := r.session.ClickFirst(ctx, []string{flow.GenerateSelector}); err != nil {
		if ctx.Err() != nil {
			return r.aborted(ctx)
		}
		if errors.Is(err, schemas.ErrNoMatch) {
			return failf(FailureNoForm, "generate control %s not found", flow.GenerateSelector)
		}
		return failf(FailureUnhandled, "generate click: %w", err)
	}
	if err := r.session.WaitSettled(ctx, r.m.cfg.SettleDelay); err != nil && ctx.Err() != nil {
		return r.aborted(ctx)
	}

	r.emit(schemas.StepVerify, "extracting issued token")
	token, err := r.session.ElementText(ctx, flow.TokenSelector)
	if err != nil {
		if ctx.Err() != nil {
			return r.aborted(ctx)
		}
		return failf(FailureUnhandled, "token extraction from %s: %w", flow.TokenSelector, err)
	}
	if token == "" {
		return failf(FailureUnhandled, "token element %s is empty", flow.TokenSelector)
	}

	r.result.Success = true
	r.result.Token = token
	ref := r.screenshot("token")
	r.emitRef(schemas.StepComplete, "token issued and captured", ref)
	return nil
}

// aborted maps context expiry into the failure taxonomy. Cancellation and
// the run deadline both land on the unhandled kind; the job layer knows
// whether it asked for the cancel.
func (r *run) aborted(ctx context.Context) *RunError {
	return failf(FailureUnhandled, "run aborted: %w", ctx.Err())
}

// failed records a fatal run error on the result, captures a diagnostic
// screenshot and emits the terminal error event.
func (r *run) failed(runErr *RunError) {
	r.logger.Warn("Run failed.",
		zap.String("kind", string(runErr.Kind)),
		zap.Error(runErr.Err))
	r.result.Success = false
	r.result.Error = runErr.Error()
	r.result.FailureKind = string(runErr.Kind)
	ref := r.screenshot("failure")
	r.emitRef(schemas.StepError, runErr.Error(), ref)
}

// teardown closes the session on a detached timeout so a canceled run still
// releases its browser context.
func (r *run) teardown() {
	if r.session == nil {
		return
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), sessionTeardownTimeout)
	defer cancel()
	if err := r.session.Close(closeCtx); err != nil {
		r.logger.Warn("Session close failed.", zap.Error(err))
	}
	r.m.metrics.SessionClosed()
	r.session = nil
}

func (r *run) emit(step schemas.Step, message string) {
	r.emitRef(step, message, "")
}

// emitRef publishes one progress event. The percent is the schedule value
// for the step or the previous percent, whichever is higher, so skipped
// states never make progress move backwards.
func (r *run) emitRef(step schemas.Step, message, ref string) {
	if pct, ok := stepPercent[step]; ok && pct > r.percent {
		r.percent = pct
	}
	if ref == "" && r.m.cfg.StepScreenshots && step != schemas.StepComplete && step != schemas.StepError {
		ref = r.screenshot(string(step))
	}
	r.logger.Info("Progress.",
		zap.String("step", string(step)),
		zap.Int("percent", r.percent),
		zap.String("message", message))
	if r.progress != nil {
		r.progress(schemas.ProgressEvent{
			Step:            step,
			Message:         message,
			PercentComplete: r.percent,
			ScreenshotURL:   ref,
		})
	}
}

// screenshot captures and stores a diagnostic image, returning its
// reference. Best effort on a detached timeout: a canceled run can still
// record what the page looked like, and any failure here only logs.
func (r *run) screenshot(label string) string {
	if r.session == nil || r.m.artifacts == nil {
		return ""
	}
	shotCtx, cancel := context.WithTimeout(context.Background(), screenshotTimeout)
	defer cancel()

	data, err := r.session.Screenshot(shotCtx)
	if err != nil {
		r.logger.Debug("Screenshot capture failed.", zap.String("label", label), zap.Error(err))
		return ""
	}
	name := screenshotName(r.domain, label, time.Now().UTC())
	ref, err := r.m.artifacts.Save(shotCtx, name, data)
	if err != nil {
		r.logger.Warn("Screenshot save failed.", zap.String("name", name), zap.Error(err))
		return ""
	}
	r.result.Screenshots = append(r.result.Screenshots, ref)
	return ref
}

func screenshotName(domain, label string, at time.Time) string {
	if domain == "" {
		domain = "page"
	}
	return fmt.Sprintf("%s-%s-%s.png", domain, at.Format("20060102T150405"), label)
}

// OutcomeLabel maps a terminal result onto the metrics outcome vocabulary.
func OutcomeLabel(res *schemas.EnrollmentResult) string {
	switch {
	case res == nil:
		return string(FailureUnhandled)
	case res.Error != "":
		if res.FailureKind != "" {
			return res.FailureKind
		}
		return string(FailureUnhandled)
	case res.FormError != "":
		return metrics.OutcomeFormRejected
	case res.Unconfirmed:
		return metrics.OutcomeUnconfirmed
	default:
		return metrics.OutcomeEnrolled
	}
}
