// Package cos provides common low-level types and utilities
/*
 * Copyright (c) 2024-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import "strconv"

// FormatBigI64 groups thousands: 1234567 => "1,234,567"
func FormatBigI64(n int64) string {
	if n > -1000 && n < 1000 {
		return strconv.FormatInt(n, 10)
	}
	var (
		digits = strconv.FormatInt(n, 10)
		lead   = 0
	)
	if digits[0] == '-' {
		lead = 1
	}
	head := (len(digits) - lead) % 3
	if head == 0 {
		head = 3
	}
	b := make([]byte, 0, len(digits)+len(digits)/3)
	b = append(b, digits[:lead+head]...)
	for i := lead + head; i < len(digits); i += 3 {
		b = append(b, ',')
		b = append(b, digits[i:i+3]...)
	}
	return string(b)
}
