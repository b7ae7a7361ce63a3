// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package tuple defines the immutable input record the aggregation
// engine operates on.
package tuple

// MaxValues is the widest value vector any flavor carries (the SUM
// flavor's four value columns). MIN/MAX uses one, DISTINCT uses none;
// unused slots are simply ignored by the combine flavor in question.
const MaxValues = 4

// Tuple is one input record: a group-by key plus up to MaxValues
// payload columns. Tuples are supplied by the caller in a process-wide
// read-only slice and are never mutated by the engine.
type Tuple struct {
	Key    uint64
	Values [MaxValues]uint64
}
