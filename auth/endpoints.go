package auth

import (
	"math/rand"
	"sync"
)

// apiEndpoints is the pool of equivalent API hosts. Rotation keeps load off
// any single host and avoids hitting the same one twice in a row.
var apiEndpoints = []string{
	"https://api2.axiom.trade",
	"https://api3.axiom.trade",
	"https://api6.axiom.trade",
	"https://api7.axiom.trade",
	"https://api8.axiom.trade",
	"https://api9.axiom.trade",
	"https://api10.axiom.trade",
}

// endpointRotation picks endpoints uniformly at random, excluding the host
// used by the immediately preceding call. State is per client instance so
// separate clients never interfere with each other's rotation.
type endpointRotation struct {
	mu   sync.Mutex
	pool []string
	last string
}

func newEndpointRotation(pool []string) *endpointRotation {
	return &endpointRotation{pool: pool}
}

// next returns a random endpoint different from the previous choice and
// records it.
func (r *endpointRotation) next() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	available := r.pool
	if r.last != "" && len(r.pool) > 1 {
		available = make([]string, 0, len(r.pool)-1)
		for _, e := range r.pool {
			if e != r.last {
				available = append(available, e)
			}
		}
	}

	r.last = available[rand.Intn(len(available))]
	return r.last
}

// current returns the endpoint chosen by the most recent call, if any.
func (r *endpointRotation) current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
