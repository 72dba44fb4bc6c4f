package utils

import (
	"hash/fnv"
	"math/rand/v2"
)

// Stream names keep simulator and extrapolator noise independent per entity.
const (
	StreamSimulation = "simulation"
	StreamRegressor  = "regressor"
)

// EntityRand returns a generator seeded from the master seed, the entity id and
// a stream name. Equal inputs always yield the same sequence.
func EntityRand(seed uint64, entityID, stream string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(entityID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(stream))
	return rand.New(rand.NewPCG(seed, h.Sum64()))
}
