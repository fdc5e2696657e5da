// File: internal/humanoid/executor.go
package humanoid

import (
	"context"
	"time"
)

// Executor is the device the humanoid drives. The browser session supplies
// the real implementation; tests use a recorder.
type Executor interface {
	// Sleep waits for d or until ctx is canceled.
	Sleep(ctx context.Context, d time.Duration) error

	// SendKeys dispatches keystrokes to the element at selector. Control
	// characters travel as-is, so "\b" erases the previous character.
	SendKeys(ctx context.Context, selector, keys string) error

	// PressAndRelease clicks the element at selector holding the primary
	// button down for hold.
	PressAndRelease(ctx context.Context, selector string, hold time.Duration) error
}

// KeyBackspace is the control character understood by SendKeys
// implementations as a single backspace keystroke.
const KeyBackspace = "\b"
