// File: internal/identity/seeds.go
package identity

import (
	crand "crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// ErrPoolExhausted is returned when a batch request exceeds the number of
// unique word pairs the pools can produce.
var ErrPoolExhausted = errors.New("identity: seed pool exhausted")

// NewSeed draws one "adjective-noun" seed from OS entropy.
func NewSeed() (string, error) {
	adj, err := drawWord(seedAdjectives)
	if err != nil {
		return "", err
	}
	noun, err := drawWord(seedNouns)
	if err != nil {
		return "", err
	}
	return adj + "-" + noun, nil
}

// NewSeedBatch returns n distinct seeds. Collisions are redrawn, so the
// batch never contains duplicates.
func NewSeedBatch(n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("identity: batch size must be positive, got %d", n)
	}
	capacity := len(seedAdjectives) * len(seedNouns)
	if n > capacity {
		return nil, fmt.Errorf("%w: requested %d of %d possible pairs", ErrPoolExhausted, n, capacity)
	}

	seen := make(map[string]struct{}, n)
	out := make([]string, 0, n)
	for len(out) < n {
		seed, err := NewSeed()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[seed]; dup {
			continue
		}
		seen[seed] = struct{}{}
		out = append(out, seed)
	}
	return out, nil
}

func drawWord(pool []string) (string, error) {
	idx, err := crand.Int(crand.Reader, big.NewInt(int64(len(pool))))
	if err != nil {
		return "", fmt.Errorf("identity: entropy read failed: %w", err)
	}
	return pool[idx.Int64()], nil
}
