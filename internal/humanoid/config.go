// File: internal/humanoid/config.go
package humanoid

// Config holds the parameters of the typing and clicking model.
type Config struct {
	Enabled bool

	// Inter-key delay (IKD) model, all in milliseconds.
	KeyPauseMeanMs   float64
	KeyPauseStdDevMs float64
	KeyPauseMinMs    float64

	// Common digraphs/trigraphs are typed faster than cold pairs.
	NgramFactor2 float64
	NgramFactor3 float64

	// Fatigue stretches pauses as more keys accumulate; idle time recovers.
	FatigueIncreaseRate   float64
	FatigueRecoveryRate   float64
	KeyPauseFatigueFactor float64

	// Dwell time a key stays down after the press.
	KeyHoldMeanMs   float64
	KeyHoldStdDevMs float64

	// Perlin jitter layered over every pause so delays drift smoothly
	// instead of scattering independently.
	JitterAmplitudeMs float64

	// Typo behavior. TypoRate is the per-keystroke probability; the four
	// kind rates are conditional and normalized to sum to one.
	TypoRate             float64
	TypoNeighborRate     float64
	TypoTransposeRate    float64
	TypoOmissionRate     float64
	TypoInsertionRate    float64
	CorrectionPauseScale float64

	// Cognitive pause before starting to interact with an element.
	CognitivePauseMeanMs   float64
	CognitivePauseStdDevMs float64

	// Mouse button hold window for clicks.
	ClickHoldMinMs int
	ClickHoldMaxMs int

	// Seed fixes the RNG and noise field for reproducible runs; zero draws
	// a fresh seed per instance.
	Seed int64
}

// DefaultConfig returns the parameters of an average typist.
func DefaultConfig() Config {
	c := Config{
		Enabled:                true,
		KeyPauseMeanMs:         70.0,
		KeyPauseStdDevMs:       28.0,
		KeyPauseMinMs:          35.0,
		NgramFactor2:           0.7,
		NgramFactor3:           0.55,
		FatigueIncreaseRate:    0.005,
		FatigueRecoveryRate:    0.01,
		KeyPauseFatigueFactor:  0.3,
		KeyHoldMeanMs:          55.0,
		KeyHoldStdDevMs:        15.0,
		JitterAmplitudeMs:      12.0,
		TypoRate:               0.04,
		TypoNeighborRate:       0.40,
		TypoTransposeRate:      0.25,
		TypoOmissionRate:       0.20,
		TypoInsertionRate:      0.15,
		CorrectionPauseScale:   1.8,
		CognitivePauseMeanMs:   260.0,
		CognitivePauseStdDevMs: 90.0,
		ClickHoldMinMs:         50,
		ClickHoldMaxMs:         120,
	}
	c.NormalizeTypoRates()
	return c
}

// NormalizeTypoRates scales the conditional typo kind rates to sum to one.
func (c *Config) NormalizeTypoRates() {
	total := c.TypoNeighborRate + c.TypoTransposeRate + c.TypoOmissionRate + c.TypoInsertionRate
	if total <= 1e-9 {
		if c.TypoRate > 0 {
			c.TypoNeighborRate = 0.25
			c.TypoTransposeRate = 0.25
			c.TypoOmissionRate = 0.25
			c.TypoInsertionRate = 0.25
		}
		return
	}
	c.TypoNeighborRate /= total
	c.TypoTransposeRate /= total
	c.TypoOmissionRate /= total
	c.TypoInsertionRate /= total
}

// sanitize clamps the model into a usable range.
func (c *Config) sanitize() {
	if c.KeyPauseMeanMs <= 0 {
		c.KeyPauseMeanMs = 70.0
	}
	if c.KeyPauseMinMs <= 0 {
		c.KeyPauseMinMs = 20.0
	}
	if c.KeyPauseStdDevMs < 0 {
		c.KeyPauseStdDevMs = 0
	}
	if c.KeyHoldMeanMs < 20.0 {
		c.KeyHoldMeanMs = 20.0
	}
	if c.TypoRate < 0 {
		c.TypoRate = 0
	}
	if c.TypoRate > 0.25 {
		c.TypoRate = 0.25
	}
	if c.CorrectionPauseScale <= 0 {
		c.CorrectionPauseScale = 1.8
	}
	if c.ClickHoldMaxMs <= c.ClickHoldMinMs {
		c.ClickHoldMaxMs = c.ClickHoldMinMs + 1
	}
	c.NormalizeTypoRates()
}
