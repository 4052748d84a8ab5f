// Package utils provides small helpers shared by the HTTP and service layers
// that carry no domain logic.
package utils

import "strconv"

// AtoiDefault parses s as a base-10 int, returning def when s is empty or
// not a valid int. Whitespace is not trimmed.
func AtoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// ClampPage normalizes 1-based pagination: page below 1 becomes 1, a
// non-positive size becomes def and sizes above max are capped.
func ClampPage(page, size, def, max int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = def
	}
	if max > 0 && size > max {
		size = max
	}
	return page, size
}

// Offset is the row offset of a clamped page.
func Offset(page, size int) int {
	return (page - 1) * size
}
