// File: internal/identity/credentials.go
package identity

import (
	crand "crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const passwordLength = 18

// Character classes signup policies commonly require. The symbol set stays
// clear of quoting hazards in shells and HTML attributes.
const (
	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars  = "0123456789"
	symbolChars = "!@#$%^&*-_+="
)

// Username derives a login handle from the seed: hyphens become underscores
// and a random two digit suffix is appended.
func Username(seed string) (string, error) {
	n, err := crand.Int(crand.Reader, big.NewInt(100))
	if err != nil {
		return "", fmt.Errorf("identity: entropy read failed: %w", err)
	}
	return fmt.Sprintf("%s%02d", strings.ReplaceAll(seed, "-", "_"), n.Int64()), nil
}

// NewPassword returns an 18 character password drawn from OS entropy with at
// least one character from every class.
func NewPassword() (string, error) {
	pools := []string{lowerChars, upperChars, digitChars, symbolChars}
	all := strings.Join(pools, "")

	buf := make([]byte, 0, passwordLength)
	for _, pool := range pools {
		c, err := drawChar(pool)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}
	for len(buf) < passwordLength {
		c, err := drawChar(all)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}

	// Shuffle; the guaranteed class picks must not sit at fixed positions.
	for i := len(buf) - 1; i > 0; i-- {
		n, err := crand.Int(crand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", fmt.Errorf("identity: entropy read failed: %w", err)
		}
		j := int(n.Int64())
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf), nil
}

func drawChar(pool string) (byte, error) {
	idx, err := crand.Int(crand.Reader, big.NewInt(int64(len(pool))))
	if err != nil {
		return 0, fmt.Errorf("identity: entropy read failed: %w", err)
	}
	return pool[idx.Int64()], nil
}
