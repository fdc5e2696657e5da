// File: internal/classify/classify.go
package classify

import (
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// maxBodyChars bounds how much page text participates in classification.
// Success banners live above the fold; scanning whole documents only adds
// false positives from footers and marketing copy.
const maxBodyChars = 1000

// defaultSignals are the generic success markers, tested in this order.
var defaultSignals = []string{
	"welcome",
	"dashboard",
	"confirm",
	"verify",
	"check your email",
	"success",
	"sent",
	"inbox",
}

// Evidence is the post-submission snapshot the classifier judges.
type Evidence struct {
	URL      string
	Title    string
	BodyText string

	// FormPresent reports that the submitted form is still in the DOM,
	// and VisibleError carries the text of any visible validation message.
	// Together they distinguish a rejected submission from a silent one.
	FormPresent  bool
	VisibleError string
}

// Outcome is the classification verdict. Exactly one of the three shapes
// holds: a matched signal, a form rejection, or an unconfirmed success.
type Outcome struct {
	Success       bool
	MatchedSignal string
	Unconfirmed   bool
	FormError     string
}

// Classifier decides what a page says about a submission. It holds no
// per-run state and is safe for concurrent use.
type Classifier struct {
	logger  *zap.Logger
	signals []string
}

// New builds a classifier around the default signal table.
func New(logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		logger:  logger.Named("classify"),
		signals: defaultSignals,
	}
}

// Classify tests each candidate signal as a substring of the case-folded
// body head, title, and URL; the first match wins. With no match, a page
// still showing the form with visible error text is reported as a form
// rejection; anything else is an unconfirmed success, because many targets
// defer confirmation to an email this engine never sees.
func (c *Classifier) Classify(ev Evidence, signals []string) Outcome {
	body := strings.ToLower(truncate(ev.BodyText, maxBodyChars))
	title := strings.ToLower(ev.Title)
	url := strings.ToLower(ev.URL)

	if len(signals) == 0 {
		signals = c.signals
	}
	for _, signal := range signals {
		needle := strings.ToLower(signal)
		if needle == "" {
			continue
		}
		if strings.Contains(body, needle) || strings.Contains(title, needle) || strings.Contains(url, needle) {
			c.logger.Debug("Outcome signal matched.", zap.String("signal", signal))
			return Outcome{Success: true, MatchedSignal: signal}
		}
	}

	if ev.FormPresent && strings.TrimSpace(ev.VisibleError) != "" {
		c.logger.Debug("Submission rejected on form.",
			zap.String("error", strings.TrimSpace(ev.VisibleError)))
		return Outcome{FormError: strings.TrimSpace(ev.VisibleError)}
	}

	c.logger.Debug("No outcome signal matched, reporting unconfirmed success.")
	return Outcome{Success: true, Unconfirmed: true}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
