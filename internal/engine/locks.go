package engine

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// stripedLocks serializes work per key without a mutex per lineage.
type stripedLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (s *stripedLocks) Lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &s.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}
