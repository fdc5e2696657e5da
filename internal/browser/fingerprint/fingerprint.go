// Package fingerprint draws the synthetic browser environment for one
// session and turns it into CDP actions: user agent, platform, viewport,
// timezone, locale, and a countermeasure script that masks automation
// signals and perturbs canvas reads.
package fingerprint

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/veilkit/pane/api/schemas"
)

//go:embed evasions.js
var evasionsScript string

// BuildScript renders the countermeasure script for one session, binding
// the fingerprint's geometry, languages and noise seed into the template.
func BuildScript(fp schemas.Fingerprint) string {
	quoted := make([]string, 0, len(fp.Languages))
	for _, lang := range fp.Languages {
		quoted = append(quoted, strconv.Quote(lang))
	}

	return strings.NewReplacer(
		"__LANGUAGES__", "["+strings.Join(quoted, ",")+"]",
		"__WIDTH__", strconv.FormatInt(fp.Width, 10),
		"__HEIGHT__", strconv.FormatInt(fp.Height, 10),
		"__AVAIL_WIDTH__", strconv.FormatInt(fp.AvailWidth, 10),
		"__AVAIL_HEIGHT__", strconv.FormatInt(fp.AvailHeight, 10),
		"__COLOR_DEPTH__", strconv.FormatInt(fp.ColorDepth, 10),
		"__NOISE_SEED__", strconv.FormatInt(fp.NoiseSeed, 10),
	).Replace(evasionsScript)
}

// Apply constructs a sequence of Chrome DevTools Protocol actions that bind
// a fresh session to its fingerprint. Must run before the first navigation
// so the new-document script covers every page the session ever sees.
func Apply(fp schemas.Fingerprint, logger *zap.Logger) chromedp.Tasks {
	logger.Debug("Applying session fingerprint",
		zap.String("userAgent", fp.UserAgent),
		zap.String("platform", fp.Platform),
		zap.String("timezone", fp.Timezone),
		zap.Int64("width", fp.Width),
		zap.Int64("height", fp.Height),
	)

	script := BuildScript(fp)
	acceptLang := acceptLanguage(fp.Languages)

	return chromedp.Tasks{
		// 1. User agent, platform and Accept-Language in one override so
		// the header and navigator values can never disagree.
		emulation.SetUserAgentOverride(fp.UserAgent).
			WithPlatform(fp.Platform).
			WithAcceptLanguage(acceptLang),

		// 2. Viewport geometry.
		emulation.SetDeviceMetricsOverride(fp.Width, fp.Height, 1.0, false),

		// 3. Inject the countermeasure script. Needs an ActionFunc wrapper
		// because its Do() returns two values, which doesn't match the
		// chromedp.Action interface.
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			if err != nil {
				return fmt.Errorf("failed to inject countermeasure script: %w", err)
			}
			return nil
		}),

		// 4. Timezone.
		emulation.SetTimezoneOverride(fp.Timezone),

		// 5. Locale, via the builder pattern: `SetLocaleOverride()` takes no
		// arguments, the locale rides in through `WithLocale()`.
		emulation.SetLocaleOverride().WithLocale(fp.Locale),

		// 6. Extra headers matching the persona's language settings.
		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": acceptLang,
		}),
	}
}

// acceptLanguage renders the header value for the persona's language list.
func acceptLanguage(langs []string) string {
	switch len(langs) {
	case 0:
		return "en-US,en;q=0.9"
	case 1:
		return langs[0]
	default:
		return fmt.Sprintf("%s,%s;q=0.9", langs[0], langs[1])
	}
}
