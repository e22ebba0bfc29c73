package util

import (
	"hash/fnv"
	"math/rand"
)

func New(seed int64) *rand.Rand {
	if seed == 0 {
		seed = 1
	}
	src := rand.NewSource(seed)
	return rand.New(src)
}

// Derive mixes a base seed with a slot index so sibling workers do not
// share a stream.
func Derive(base int64, index int) int64 {
	return base*1_000_003 + int64(index)*7919 + 1
}

// SeedFor hashes a string key to a seed.
func SeedFor(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int64(h.Sum64() >> 1)
}
