package partition

import "hash/fnv"

// Count is the fixed number of logical partitions a natural key hashes into.
const Count = 256

// For returns the logical partition of a natural key.
// Stable and deterministic: same key always maps to the same partition.
func For(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % Count)
}

// Shard maps a natural key onto one of n workers through its logical partition,
// so a key is always owned by the same worker for a given n.
// n <= 1 always yields 0.
func Shard(key string, n int) int {
	if n <= 1 {
		return 0
	}
	return For(key) % n
}
