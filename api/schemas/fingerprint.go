package schemas

// Fingerprint is the synthetic browser environment chosen once at session
// start and held for the run's lifetime. It is never persisted and never
// reused verbatim across runs; each run draws independently so sessions
// cannot be linked through environment signals.
type Fingerprint struct {
	UserAgent   string   `json:"userAgent"`
	Platform    string   `json:"platform"`
	Languages   []string `json:"languages"`
	Width       int64    `json:"width"`
	Height      int64    `json:"height"`
	AvailWidth  int64    `json:"availWidth"`
	AvailHeight int64    `json:"availHeight"`
	ColorDepth  int64    `json:"colorDepth"`
	Timezone    string   `json:"timezoneId"`
	Locale      string   `json:"locale"`
	// NoiseSeed drives the single-bit canvas perturbation, fixed per session
	// so repeated reads within one page stay self-consistent.
	NoiseSeed int64 `json:"noiseSeed"`
}

// DefaultFingerprint is the fallback environment when no randomizer output
// is supplied (tests, debugging).
var DefaultFingerprint = Fingerprint{
	UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	Platform:    "Win32",
	Languages:   []string{"en-US", "en"},
	Width:       1920,
	Height:      1080,
	AvailWidth:  1920,
	AvailHeight: 1040,
	ColorDepth:  24,
	Timezone:    "America/New_York",
	Locale:      "en-US",
}
