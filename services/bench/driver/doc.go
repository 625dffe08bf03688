// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package driver runs adaptive micro-benchmarks over a range of input sizes.

# Overview

The Driver measures one Kernel at a time. For every requested size it
allocates an input, optionally warms the kernel up, and then repeats the
kernel until the cumulative elapsed time reaches the minimum-time budget.
The loop always executes at least once, so a size whose single call
exceeds the budget still produces a measurement with one repetition.

	Request{Sizes, MinTime}
	        │
	        ▼
	┌──────────────────────────────────────────────┐
	│ Driver.Run                                   │
	│   for each size (in order):                  │
	│     AllocateInput ──► warmup ──► do { Invoke │
	│     } while total < MinTime ──► ReleaseInput │
	│     Record ──► observers ──► yield           │
	└──────────────────────────────────────────────┘
	        │
	        ▼
	[]Record (one per size, same order)

# Failure Isolation

A failure while allocating or invoking the kernel for one size becomes a
failure Record for that size. The run continues with the next size. Only
an invalid Request aborts a run before anything is measured.

# Cancellation

The context is checked between sizes, never inside the timed region.
A cancelled run returns the records completed so far together with an
error wrapping ErrCancelled.

# Thread Safety

A Driver is stateless between runs and may be shared, but a single Run is
strictly sequential. Concurrent runs against the same Kernel are only safe
if the Kernel itself is.
*/
package driver
