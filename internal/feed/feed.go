// Package feed orders and publishes the list of videos shown to the user.
// The remote folder is the only source of truth: every refresh replaces the
// published list wholesale.
package feed

import (
	"math/rand/v2"

	"github.com/tonimelisma/abide/internal/drive"
)

// Filter returns the items with at least one tag containing tag, ignoring
// case. An empty tag returns items unchanged.
func Filter(items []drive.MediaItem, tag string) []drive.MediaItem {
	if tag == "" {
		return items
	}

	out := make([]drive.MediaItem, 0, len(items))

	for _, it := range items {
		if drive.MatchesTag(it.Tags, tag) {
			out = append(out, it)
		}
	}

	return out
}

// NewRand returns a generator whose sequence is fully determined by seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

// Shuffle permutes items in place with a Fisher-Yates pass driven by rng.
// A nil rng uses the global source.
func Shuffle[T any](items []T, rng *rand.Rand) {
	swap := func(i, j int) { items[i], items[j] = items[j], items[i] }

	if rng == nil {
		rand.Shuffle(len(items), swap)
		return
	}

	rng.Shuffle(len(items), swap)
}
