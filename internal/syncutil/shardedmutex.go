// Package syncutil holds small concurrency helpers.
package syncutil

import (
	"hash/fnv"
	"sync"
)

const shardCount = 128

// ShardedMutex serializes operations per string key using a fixed pool
// of mutexes. Memory stays bounded no matter how many keys pass
// through; two keys landing in the same shard simply wait on each
// other.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock locks the shard owning key and returns the matching unlock.
func (m *ShardedMutex) Lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &m.shards[h.Sum32()%shardCount]
	mu.Lock()
	return mu.Unlock
}
