package manager

import (
	"math/rand"
	"time"
)

// Rand abstracts the randomness source so tests can inject a deterministic
// sequence (REDESIGN FLAGS: "abstract the randomness source").
type Rand interface {
	// Sample returns k distinct elements of pool chosen uniformly at
	// random, without replacement. It panics if k > len(pool), matching
	// the precondition the caller (setup-dht) already checked.
	Sample(pool []string, k int) []string
	// Choice returns one element of pool chosen uniformly at random.
	Choice(pool []string) string
}

type defaultRand struct{ r *rand.Rand }

// NewRand returns the production randomness source. seed == 0 selects an
// unpredictable seed; any other value makes selection deterministic, for
// tests.
func NewRand(seed int64) Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &defaultRand{r: rand.New(rand.NewSource(seed))}
}

func (d *defaultRand) Sample(pool []string, k int) []string {
	shuffled := append([]string(nil), pool...)
	d.r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[:k]
}

func (d *defaultRand) Choice(pool []string) string {
	return pool[d.r.Intn(len(pool))]
}
