// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command kernelbench measures compute kernels across input sizes.
//
// For every size the kernel is invoked repeatedly until the cumulative
// time reaches the minimum-time budget; the mean per-call time and the
// derived throughput are reported per size.
//
// Usage:
//
//	kernelbench run --kernel fft-forward --sizes pow2:16..8192 --min-time 500ms
//	kernelbench run --sizes 64,128 --save main
//	kernelbench run --sizes 64,128 --compare main
//	kernelbench serve --addr :8080
//	kernelbench baseline list
//	kernelbench kernels
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}
