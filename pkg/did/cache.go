package did

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache holds recent resolution results keyed by DID.
type Cache interface {
	Get(did string) (*ResolutionResult, bool)
	Set(did string, res *ResolutionResult)
	Delete(did string)
}

// MemCache is an in-process LRU cache whose entries expire after a TTL.
type MemCache struct {
	results *expirable.LRU[string, *ResolutionResult]
}

// NewMemCache returns a cache of at most size entries that each live for ttl.
func NewMemCache(size int, ttl time.Duration) *MemCache {
	return &MemCache{
		results: expirable.NewLRU[string, *ResolutionResult](size, nil, ttl),
	}
}

func (m *MemCache) Get(did string) (*ResolutionResult, bool) {
	return m.results.Get(did)
}

func (m *MemCache) Set(did string, res *ResolutionResult) {
	m.results.Add(did, res)
}

func (m *MemCache) Delete(did string) {
	m.results.Remove(did)
}

// Len returns the number of live entries.
func (m *MemCache) Len() int {
	return m.results.Len()
}

var _ Cache = (*MemCache)(nil)
