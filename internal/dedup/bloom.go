// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

package dedup

import (
	"hash/fnv"
	"math"
)

// bloomFilter is a probabilistic set-membership structure used as the fast
// negative path in front of each bucket's exact key set.
//
// Key characteristics:
//   - No false negatives: if test() returns false, the key was never added
//   - Possible false positives: a true result must be confirmed exactly
//   - ~10 bits per key for a 1% false positive rate
//
// It is not safe for concurrent use; the guard holds its own lock.
type bloomFilter struct {
	bits    []uint64
	size    uint64
	hashFns int
}

// newBloomFilter sizes a filter for the expected number of keys and target
// false positive rate using the standard optimal-parameter formulas.
func newBloomFilter(expectedKeys int, falsePositiveRate float64) *bloomFilter {
	if expectedKeys <= 0 {
		expectedKeys = 1024
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	// m = -n*ln(p)/ln(2)^2, k = (m/n)*ln(2)
	ln2 := math.Ln2
	m := int(math.Ceil(-float64(expectedKeys) * math.Log(falsePositiveRate) / (ln2 * ln2)))
	if m < 64 {
		m = 64
	}
	k := int(math.Round(float64(m) / float64(expectedKeys) * ln2))
	if k < 1 {
		k = 1
	}
	if k > 10 {
		k = 10
	}

	words := (m + 63) / 64
	return &bloomFilter{
		bits:    make([]uint64, words),
		size:    uint64(words * 64), //nolint:gosec // words is small and positive
		hashFns: k,
	}
}

// add sets the key's bits.
func (bf *bloomFilter) add(key string) {
	h1, h2 := bf.baseHashes(key)
	for i := 0; i < bf.hashFns; i++ {
		idx := (h1 + uint64(i)*h2) % bf.size //nolint:gosec // i < 10
		bf.bits[idx/64] |= 1 << (idx % 64)
	}
}

// test reports whether the key might have been added.
func (bf *bloomFilter) test(key string) bool {
	h1, h2 := bf.baseHashes(key)
	for i := 0; i < bf.hashFns; i++ {
		idx := (h1 + uint64(i)*h2) % bf.size //nolint:gosec // i < 10
		if bf.bits[idx/64]&(1<<(idx%64)) == 0 {
			return false
		}
	}
	return true
}

// baseHashes derives the two seeds for double hashing: h(i) = h1 + i*h2.
func (bf *bloomFilter) baseHashes(key string) (uint64, uint64) {
	f1 := fnv.New64a()
	_, _ = f1.Write([]byte(key))

	f2 := fnv.New64()
	_, _ = f2.Write([]byte(key))
	_, _ = f2.Write([]byte{0xff})

	return f1.Sum64(), f2.Sum64()
}
