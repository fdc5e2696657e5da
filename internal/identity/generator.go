// File: internal/identity/generator.go
package identity

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"
	"time"

	"github.com/veilkit/pane/api/schemas"
)

// Generator derives synthetic identities from seed strings. The derivation
// is a pure function of the seed: the seed is hashed, the hash primes a
// PRNG, and every field is drawn from that PRNG in a fixed order.
type Generator struct {
	now func() time.Time
}

// NewGenerator returns a generator anchored to the wall clock for age
// calculations.
func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

// Generate builds the identity for seed. An empty seed is replaced with a
// fresh random seed first; the seed actually used is always reported back
// on the returned identity.
func (g *Generator) Generate(seed string) (schemas.Identity, error) {
	if seed == "" {
		fresh, err := NewSeed()
		if err != nil {
			return schemas.Identity{}, fmt.Errorf("identity: generating fallback seed: %w", err)
		}
		seed = fresh
	}

	sum := sha256.Sum256([]byte(seed))
	rng := rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(sum[:8]))))

	first := firstNames[rng.Intn(len(firstNames))]
	last := lastNames[rng.Intn(len(lastNames))]

	// Between 21 and 65 years old. Day capped at 28 so every month is valid.
	age := 21 + rng.Intn(45)
	dob := time.Date(
		g.now().Year()-age,
		time.Month(1+rng.Intn(12)),
		1+rng.Intn(28),
		0, 0, 0, 0, time.UTC,
	)

	// NANP shape with the fictional 555 exchange so the number can never
	// route to a real subscriber.
	area := 200 + rng.Intn(800)
	line := rng.Intn(10000)

	loc := cityPool[rng.Intn(len(cityPool))]
	addr := schemas.Address{
		Street: fmt.Sprintf("%d %s", 100+rng.Intn(9900), streetNames[rng.Intn(len(streetNames))]),
		City:   loc.City,
		State:  loc.State,
		Zip:    loc.Zip,
	}

	return schemas.Identity{
		Seed:      seed,
		FirstName: first,
		LastName:  last,
		FullName:  first + " " + last,
		DOB:       dob.Format("2006-01-02"),
		Phone:     fmt.Sprintf("(%03d) 555-%04d", area, line),
		Address:   addr,
		Timezone:  timezonePool[rng.Intn(len(timezonePool))],
	}, nil
}
