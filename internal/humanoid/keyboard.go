// File: internal/humanoid/keyboard.go
package humanoid

import (
	"context"
	"strings"
	"unicode"
)

// keyboardNeighbors maps characters to their adjacent keys on QWERTY.
var keyboardNeighbors = map[rune]string{
	'1': "2q`", '2': "13wq", '3': "24we", '4': "35er", '5': "46rt", '6': "57ty",
	'7': "68yu", '8': "79ui", '9': "80io", '0': "9-op",
	'q': "wa1s", 'w': "qase23", 'e': "wsdr34", 'r': "edft45", 't': "rfgy56",
	'y': "tghu67", 'u': "yhji78", 'i': "ujko89", 'o': "iklp90", 'p': "ol;0-",
	'a': "qwsz", 's': "awedxz", 'd': "serfcx", 'f': "drtgvc", 'g': "ftyhbv",
	'h': "gyujnb", 'j': "huikmn", 'k': "jiol,m", 'l': "kop;.",
	'z': "asx", 'x': "zsdc", 'c': "xdfv", 'v': "cfgb", 'b': "vghn", 'n': "bhjm", 'm': "njk,",
}

// commonNgrams are letter runs typed in one motor chunk, noticeably faster
// than unfamiliar pairs.
var commonNgrams = map[string]bool{
	"th": true, "he": true, "in": true, "er": true, "an": true, "re": true,
	"es": true, "on": true, "st": true, "nt": true,
	"the": true, "and": true, "ing": true, "ion": true, "tio": true,
}

// ngramFactor returns the pause multiplier for the keystroke at index.
func ngramFactor(cfg Config, runes []rune, index int) float64 {
	if runes == nil || index < 1 || index >= len(runes) {
		return 1.0
	}
	if index > 1 {
		trigraph := strings.ToLower(string(runes[index-2 : index+1]))
		if commonNgrams[trigraph] {
			return cfg.NgramFactor3
		}
	}
	digraph := strings.ToLower(string(runes[index-1 : index+1]))
	if commonNgrams[digraph] {
		return cfg.NgramFactor2
	}
	return 1.0
}

// typeCharacter emits the keystroke at index i, possibly as a corrected
// typo. It reports advanced when it consumed runes[i+1] as well.
func (h *Humanoid) typeCharacter(ctx context.Context, selector string, runes []rune, i int) (advanced bool, err error) {
	if err := h.keyPause(ctx, 1.0, 1.0, runes, i); err != nil {
		return false, err
	}

	h.mu.Lock()
	// Fatigue raises the slip rate the same way it stretches pauses.
	rate := h.cfg.TypoRate * (1.0 + h.fatigue)
	shouldTypo := h.rng.Float64() < rate
	h.mu.Unlock()

	if shouldTypo {
		introduced, advanced, err := h.introduceTypo(ctx, selector, runes, i)
		if err != nil {
			return false, err
		}
		if introduced {
			return advanced, nil
		}
	}

	return false, h.sendString(ctx, selector, string(runes[i]))
}

// introduceTypo picks a slip kind by the normalized conditional rates.
// Every slip is corrected before the method returns: the values being
// typed are addresses and credentials, and an uncorrected character would
// poison the enrollment.
func (h *Humanoid) introduceTypo(ctx context.Context, selector string, runes []rune, i int) (introduced, advanced bool, err error) {
	char := runes[i]

	h.mu.Lock()
	p := h.rng.Float64()
	h.mu.Unlock()

	switch {
	case p < h.cfg.TypoNeighborRate:
		return h.neighborTypo(ctx, selector, char)
	case p < h.cfg.TypoNeighborRate+h.cfg.TypoTransposeRate:
		var next rune
		if i+1 < len(runes) {
			next = runes[i+1]
		}
		return h.transpositionTypo(ctx, selector, char, next)
	case p < h.cfg.TypoNeighborRate+h.cfg.TypoTransposeRate+h.cfg.TypoOmissionRate:
		return h.omissionTypo(ctx, selector, char)
	default:
		return h.insertionTypo(ctx, selector, char)
	}
}

// neighborTypo hits an adjacent key, notices, erases, retypes.
func (h *Humanoid) neighborTypo(ctx context.Context, selector string, char rune) (bool, bool, error) {
	wrong, ok := h.neighborOf(char)
	if !ok {
		return false, false, nil
	}
	seq := []string{string(wrong), KeyBackspace, string(char)}
	if err := h.correctedSequence(ctx, selector, seq); err != nil {
		return true, false, err
	}
	return true, false, nil
}

// transpositionTypo types the pair swapped, then erases both and retypes
// them in order. Consumes two characters.
func (h *Humanoid) transpositionTypo(ctx context.Context, selector string, char, next rune) (bool, bool, error) {
	if next == 0 || unicode.IsSpace(char) || unicode.IsSpace(next) {
		return false, false, nil
	}
	seq := []string{
		string(next), string(char),
		KeyBackspace, KeyBackspace,
		string(char), string(next),
	}
	if err := h.correctedSequence(ctx, selector, seq); err != nil {
		return true, true, err
	}
	return true, true, nil
}

// omissionTypo skips the key for a beat, then types it after the catch-up
// pause.
func (h *Humanoid) omissionTypo(ctx context.Context, selector string, char rune) (bool, bool, error) {
	if unicode.IsSpace(char) {
		return false, false, nil
	}
	if err := h.keyPause(ctx, h.cfg.CorrectionPauseScale, 0.6, nil, 0); err != nil {
		return true, false, err
	}
	if err := h.sendString(ctx, selector, string(char)); err != nil {
		return true, false, err
	}
	return true, false, nil
}

// insertionTypo slips in an extra adjacent key, erases it, continues.
func (h *Humanoid) insertionTypo(ctx context.Context, selector string, char rune) (bool, bool, error) {
	wrong, ok := h.neighborOf(char)
	if !ok {
		return false, false, nil
	}
	seq := []string{string(wrong), KeyBackspace, string(char)}
	if err := h.correctedSequence(ctx, selector, seq); err != nil {
		return true, false, err
	}
	return true, false, nil
}

// correctedSequence sends keys with a long realization pause after the
// first (wrong) keystroke and normal correction pacing after it.
func (h *Humanoid) correctedSequence(ctx context.Context, selector string, keys []string) error {
	for n, k := range keys {
		if n == 1 {
			if err := h.keyPause(ctx, h.cfg.CorrectionPauseScale, 0.6, nil, 0); err != nil {
				return err
			}
		} else if n > 1 {
			if err := h.keyPause(ctx, 1.1, 0.4, nil, 0); err != nil {
				return err
			}
		}
		if err := h.sendString(ctx, selector, k); err != nil {
			return err
		}
	}
	return nil
}

// neighborOf picks a random adjacent key for char, preserving its case.
func (h *Humanoid) neighborOf(char rune) (rune, bool) {
	neighbors, ok := keyboardNeighbors[unicode.ToLower(char)]
	if !ok || len(neighbors) == 0 {
		return 0, false
	}
	h.mu.Lock()
	wrong := rune(neighbors[h.rng.Intn(len(neighbors))])
	h.mu.Unlock()
	if unicode.IsUpper(char) {
		wrong = unicode.ToUpper(wrong)
	}
	return wrong, true
}
