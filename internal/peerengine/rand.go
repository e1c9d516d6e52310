package peerengine

import (
	"math/rand"
	"time"
)

// Rand abstracts the query engine's random-walk choice so tests can drive
// it deterministically (spec.md §9: "abstract the randomness source").
type Rand interface {
	// Choice returns one element of pool chosen uniformly at random.
	// pool is never empty when called.
	Choice(pool []int) int
}

type defaultRand struct{ r *rand.Rand }

// NewRand returns the production randomness source; seed == 0 selects an
// unpredictable seed.
func NewRand(seed int64) Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &defaultRand{r: rand.New(rand.NewSource(seed))}
}

func (d *defaultRand) Choice(pool []int) int {
	return pool[d.r.Intn(len(pool))]
}
