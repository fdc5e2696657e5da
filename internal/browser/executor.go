// File: internal/browser/executor.go
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
)

// cdpExecutor adapts a session to the humanoid's low-level input contract.
// Keystrokes ride the DOM key path; clicks go through the raw input domain
// so press and release carry a real hold duration between them.
type cdpExecutor struct {
	s *Session
}

type elementGeometry struct {
	Found  bool    `json:"found"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"w"`
	Height float64 `json:"h"`
}

// Sleep pauses without holding the CDP connection, honoring both the
// caller's context and the session's lifetime.
func (e *cdpExecutor) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.s.ctx.Done():
		return e.s.ctx.Err()
	}
}

// SendKeys dispatches keystrokes to the element through the DOM key path,
// one call per burst the humanoid decides on.
func (e *cdpExecutor) SendKeys(ctx context.Context, selector, keys string) error {
	return e.s.run(ctx, chromedp.SendKeys(selector, keys, chromedp.ByQuery))
}

// PressAndRelease performs a raw mouse click on the element's center with
// the given hold between button-down and button-up.
func (e *cdpExecutor) PressAndRelease(ctx context.Context, selector string, hold time.Duration) error {
	var geo elementGeometry
	script := fmt.Sprintf(elementGeometryJS, jsonEncode(selector))
	if err := e.s.run(ctx, evaluate(script, &geo)); err != nil {
		return fmt.Errorf("element geometry %s: %w", selector, err)
	}
	if !geo.Found {
		return fmt.Errorf("%w: %s", ErrNoMatch, selector)
	}

	x := geo.X + geo.Width/2
	y := geo.Y + geo.Height/2

	press := input.DispatchMouseEvent(input.MousePressed, x, y).
		WithButton(input.Left).
		WithClickCount(1)
	release := input.DispatchMouseEvent(input.MouseReleased, x, y).
		WithButton(input.Left).
		WithClickCount(1)

	if err := e.s.run(ctx, press); err != nil {
		return fmt.Errorf("mouse press %s: %w", selector, err)
	}
	if err := e.Sleep(ctx, hold); err != nil {
		return err
	}
	if err := e.s.run(ctx, release); err != nil {
		return fmt.Errorf("mouse release %s: %w", selector, err)
	}
	return nil
}
