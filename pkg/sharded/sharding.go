package sharded

import "hash/fnv"

// getShardIndex hashes key with FNV-1a. numShards must be a power of 2.
func getShardIndex(key string, numShards int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() & uint32(numShards-1))
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
