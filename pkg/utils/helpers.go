// Package utils holds small generic helpers shared across packages.
package utils

import (
	"regexp"
	"strings"
)

// NormalizeAddress lower-cases an address or hash so it can be compared and stored consistently.
func NormalizeAddress(a string) string {
	return strings.ToLower(strings.TrimSpace(a))
}

var notSnake = regexp.MustCompile(`[_.\-]`)

// SnakeCase converts a string to snake_case by replacing hyphens, dots and other
// separator characters with underscores.
//
// Parameters:
//   - s: String to convert
//
// Returns:
//   - string: The input string converted to snake_case
func SnakeCase(s string) string {
	return notSnake.ReplaceAllString(s, "_")
}

// Map applies f to every element of coll.
func Map[A any, B any](coll []A, f func(A, uint64) B) []B {
	out := make([]B, len(coll))
	for i, a := range coll {
		out[i] = f(a, uint64(i))
	}
	return out
}

// Filter returns the elements of coll for which f returns true.
func Filter[A any](coll []A, f func(A) bool) []A {
	out := make([]A, 0)
	for _, a := range coll {
		if f(a) {
			out = append(out, a)
		}
	}
	return out
}

// ChunkSlice splits items into consecutive chunks of at most size elements.
// A non-positive size yields a single chunk.
func ChunkSlice[A any](items []A, size int) [][]A {
	if len(items) == 0 {
		return [][]A{}
	}
	if size <= 0 {
		return [][]A{items}
	}
	chunks := make([][]A, 0, (len(items)+size-1)/size)
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[i:end])
	}
	return chunks
}
