// File: internal/browser/js.go
package browser

import (
	"encoding/json"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// evaluate wraps chromedp.Evaluate with the parameters every in-page script
// here wants: plain JSON values back, promises resolved, and no console
// noise from the page's own error handlers.
func evaluate(script string, out interface{}) chromedp.Action {
	return chromedp.Evaluate(script, out, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
	})
}

// jsonEncode renders a Go value as a JavaScript literal for injection into
// the script templates. Selectors and text candidates come from descriptor
// files, so they must be escaped, never spliced.
func jsonEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// actionableJS reports whether the selector resolves to an element a user
// could act on: present, laid out, visible and not disabled.
const actionableJS = `(function(sel) {
	let el;
	try { el = document.querySelector(sel); } catch (e) { return false; }
	if (!el || el.disabled) return false;
	const rect = el.getBoundingClientRect();
	if (rect.width <= 0 || rect.height <= 0) return false;
	const style = window.getComputedStyle(el);
	return style.visibility !== 'hidden' && style.display !== 'none' && style.opacity !== '0';
})(%s)`

// clickTextJS walks the clickable candidates and clicks the first visible
// one whose trimmed text equals a wanted string, honoring the order of the
// wanted list. Returns the matched text, or '' when nothing matched.
const clickTextJS = `(function(wanted) {
	const visible = (el) => {
		const rect = el.getBoundingClientRect();
		if (rect.width <= 0 || rect.height <= 0) return false;
		const style = window.getComputedStyle(el);
		return style.visibility !== 'hidden' && style.display !== 'none' && style.opacity !== '0';
	};
	const candidates = Array.from(document.querySelectorAll(
		"button, a, [role='button'], input[type='button'], input[type='submit']"));
	for (const want of wanted) {
		for (const el of candidates) {
			const text = (el.innerText || el.value || '').trim();
			if (text === want && !el.disabled && visible(el)) {
				el.click();
				return want;
			}
		}
	}
	return '';
})(%s)`

// bodyTextJS grabs the leading slice of the rendered body text. The
// classifier only folds the head of the page, so there is no point hauling
// whole documents over the wire.
const bodyTextJS = `(function() {
	if (!document.body) return '';
	return (document.body.innerText || '').slice(0, 2000);
})()`

// elementGeometryJS scrolls the element into view and returns its viewport
// rectangle, or found:false when the element is missing or has no layout.
const elementGeometryJS = `(function(sel) {
	let el;
	try { el = document.querySelector(sel); } catch (e) { return {found: false}; }
	if (!el) return {found: false};
	el.scrollIntoView({block: 'center', inline: 'center'});
	const rect = el.getBoundingClientRect();
	if (rect.width <= 0 || rect.height <= 0) return {found: false};
	return {found: true, x: rect.x, y: rect.y, w: rect.width, h: rect.height};
})(%s)`
