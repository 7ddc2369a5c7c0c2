package internal

// JumpHash maps key to a bucket in [0, buckets) with the Jump consistent hash
// (Lamping and Veach, https://arxiv.org/abs/1406.2294). Growing buckets from
// n to n+1 only moves keys into the new bucket.
func JumpHash(key uint64, buckets int) int {
	if buckets <= 0 {
		return 0
	}

	b, j := int64(-1), int64(0)
	for j < int64(buckets) {
		b = j
		key = key*2862933555777941757 + 1
		j = int64(float64(b+1) * (float64(int64(1)<<31) / float64((key>>33)+1)))
	}
	return int(b)
}
