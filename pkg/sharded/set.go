// Package sharded provides a string set split into independently locked
// shards, so concurrent publish workers rarely contend on the same mutex.
package sharded

import (
	"strings"
	"sync"
)

type setShard struct {
	mu    sync.Mutex
	items map[string]struct{}
}

// Set is a concurrent set of names. With FoldCase, names differing only in
// case are the same member, matching a case-insensitive filesystem.
type Set struct {
	shards   []*setShard
	foldCase bool
}

// NewSet returns a set with numShards shards. numShards must be a power of 2.
func NewSet(numShards int, foldCase bool) *Set {
	if !isPowerOfTwo(numShards) {
		panic("num shards must be a power of 2")
	}
	s := &Set{shards: make([]*setShard, numShards), foldCase: foldCase}
	for i := range numShards {
		s.shards[i] = &setShard{items: make(map[string]struct{})}
	}
	return s
}

func (s *Set) key(name string) string {
	if s.foldCase {
		return strings.ToLower(name)
	}
	return name
}

func (s *Set) getShard(key string) *setShard {
	return s.shards[getShardIndex(key, len(s.shards))]
}

// Claim adds name and reports whether it was newly added. Exactly one of
// several concurrent callers with the same name wins.
func (s *Set) Claim(name string) bool {
	key := s.key(name)
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if _, ok := shard.items[key]; ok {
		return false
	}
	shard.items[key] = struct{}{}
	return true
}

// Count returns the number of members.
func (s *Set) Count() int {
	n := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		n += len(shard.items)
		shard.mu.Unlock()
	}
	return n
}
