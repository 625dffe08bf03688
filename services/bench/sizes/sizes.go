// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sizes parses size lists such as "16,32,64" or "pow2:16..8192".
package sizes

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalid indicates a size list could not be parsed.
var ErrInvalid = errors.New("invalid size list")

// MaxExpanded bounds the number of sizes one expression may produce.
const MaxExpanded = 4096

// Parse expands a comma separated list of sizes and ranges.
//
// Description:
//
//	Each comma separated term is one of:
//	  - a positive integer: "64"
//	  - a power-of-two range: "pow2:16..8192" (both ends powers of two)
//	  - a linear range with step: "100..1000:100"
//	Whitespace around terms is ignored, as are empty terms. Sizes keep
//	their order and duplicates are kept.
//
// Outputs:
//   - []int: The sizes.
//   - error: Wraps ErrInvalid with the offending term.
func Parse(list string) ([]int, error) {
	var out []int
	for _, term := range strings.Split(list, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}

		var (
			expanded []int
			err      error
		)
		switch {
		case strings.HasPrefix(term, "pow2:"):
			expanded, err = parsePow2(strings.TrimPrefix(term, "pow2:"))
		case strings.Contains(term, ".."):
			expanded, err = parseLinear(term)
		default:
			var n int
			n, err = parsePositive(term)
			expanded = []int{n}
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalid, term, err)
		}
		out = append(out, expanded...)
		if len(out) > MaxExpanded {
			return nil, fmt.Errorf("%w: more than %d sizes", ErrInvalid, MaxExpanded)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no sizes in %q", ErrInvalid, list)
	}
	return out, nil
}

// Format renders sizes as a comma separated list.
func Format(sizes []int) string {
	parts := make([]string, len(sizes))
	for i, n := range sizes {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

func parsePositive(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("%d is not positive", n)
	}
	return n, nil
}

func parseBounds(s string) (int, int, error) {
	lo, hi, ok := strings.Cut(s, "..")
	if !ok {
		return 0, 0, errors.New("range needs lo..hi")
	}
	from, err := parsePositive(lo)
	if err != nil {
		return 0, 0, err
	}
	to, err := parsePositive(hi)
	if err != nil {
		return 0, 0, err
	}
	if from > to {
		return 0, 0, fmt.Errorf("range start %d exceeds end %d", from, to)
	}
	return from, to, nil
}

func parsePow2(s string) ([]int, error) {
	from, to, err := parseBounds(s)
	if err != nil {
		return nil, err
	}
	if from&(from-1) != 0 || to&(to-1) != 0 {
		return nil, errors.New("pow2 bounds must be powers of two")
	}
	var out []int
	for n := from; n <= to; n <<= 1 {
		out = append(out, n)
		if n > to/2 {
			break
		}
	}
	return out, nil
}

func parseLinear(s string) ([]int, error) {
	bounds, stepStr, hasStep := strings.Cut(s, ":")
	from, to, err := parseBounds(bounds)
	if err != nil {
		return nil, err
	}
	step := 1
	if hasStep {
		if step, err = parsePositive(stepStr); err != nil {
			return nil, fmt.Errorf("step: %w", err)
		}
	}
	if (to-from)/step+1 > MaxExpanded {
		return nil, fmt.Errorf("range expands to more than %d sizes", MaxExpanded)
	}
	var out []int
	for n := from; ; n += step {
		out = append(out, n)
		// n+step must not wrap past math.MaxInt.
		if n > to-step {
			break
		}
	}
	return out, nil
}
