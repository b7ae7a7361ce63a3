// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package hashkey implements the multiplicative hash used to place a
// group-by key into a power-of-two sized bucket array. It has no
// state and no dependencies: a hash table's bucket index only needs
// five lines of arithmetic, so no third-party hashing library is
// wired in here.
package hashkey

// Multiplier is the odd 64-bit constant the aggregation engine's
// original Cieslewicz/Ross implementation used for key hashing. It
// must not change: strategy selection and bucket placement are only
// reproducible bit-for-bit if every build uses the same multiplier.
const Multiplier = 0xB16538F871F2375D

// Log2 returns the smallest k such that 1<<k >= n, with a floor of
// min. Both the global table (floor 32 buckets) and the private table
// (fixed 512 buckets) need their size expressed as a power of two so
// Hash can extract an index with a single shift.
func Log2(n, min int) uint {
	size := min
	for size < n {
		size <<= 1
	}
	var k uint
	for 1<<k < size {
		k++
	}
	return k
}

// Hash maps key into [0, 1<<logSize) using the fixed multiplicative
// hash: (key * Multiplier) >> (64 - logSize). logSize must be the
// table's Log2 as returned above.
func Hash(key uint64, logSize uint) uint64 {
	if logSize == 0 {
		return 0
	}
	return (key * Multiplier) >> (64 - logSize)
}
