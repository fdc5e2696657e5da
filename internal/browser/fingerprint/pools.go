package fingerprint

import (
	"math/rand"
	"sync"
	"time"

	"github.com/veilkit/pane/api/schemas"
)

// agentProfile pairs a user agent string with the platform value the
// navigator must report alongside it. Mismatched pairs are a detection
// signal, so the two are only ever drawn together.
type agentProfile struct {
	userAgent string
	platform  string
}

// viewport is one screen geometry draw. Avail dimensions run slightly short
// of the full screen to account for OS chrome.
type viewport struct {
	width       int64
	height      int64
	availWidth  int64
	availHeight int64
}

// The pools below are fixed at build time and never mutated; Randomizer
// copies the slice headers so tests can substitute their own tables.
var agentPool = []agentProfile{
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36", "Win32"},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36", "Win32"},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36", "Win32"},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36", "MacIntel"},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36", "MacIntel"},
	{"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36", "Linux x86_64"},
}

var viewportPool = []viewport{
	{1920, 1080, 1920, 1040},
	{1536, 864, 1536, 824},
	{1440, 900, 1440, 860},
	{1366, 768, 1366, 728},
	{2560, 1440, 2560, 1400},
}

var zonePool = []string{
	"America/New_York",
	"America/Chicago",
	"America/Denver",
	"America/Phoenix",
	"America/Los_Angeles",
}

// Randomizer draws session fingerprints. Safe for concurrent use; every
// call draws independently, so two jobs never share an environment by
// construction rather than by luck.
type Randomizer struct {
	mu        sync.Mutex
	rng       *rand.Rand
	agents    []agentProfile
	viewports []viewport
	zones     []string
}

// NewRandomizer builds a Randomizer over the built-in pools. A nil rng gets
// a time-seeded source; tests pass a fixed-seed source for determinism.
func NewRandomizer(rng *rand.Rand) *Randomizer {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Randomizer{
		rng:       rng,
		agents:    agentPool,
		viewports: viewportPool,
		zones:     zonePool,
	}
}

// Roll draws a complete session fingerprint.
func (r *Randomizer) Roll() schemas.Fingerprint {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent := r.agents[r.rng.Intn(len(r.agents))]
	vp := r.viewports[r.rng.Intn(len(r.viewports))]
	zone := r.zones[r.rng.Intn(len(r.zones))]

	return schemas.Fingerprint{
		UserAgent:   agent.userAgent,
		Platform:    agent.platform,
		Languages:   []string{"en-US", "en"},
		Width:       vp.width,
		Height:      vp.height,
		AvailWidth:  vp.availWidth,
		AvailHeight: vp.availHeight,
		ColorDepth:  24,
		Timezone:    zone,
		Locale:      "en-US",
		NoiseSeed:   r.rng.Int63(),
	}
}
