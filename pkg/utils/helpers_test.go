package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Helpers(t *testing.T) {
	t.Run("Should normalize addresses", func(t *testing.T) {
		assert.Equal(t, "0xabcdef", NormalizeAddress(" 0xABCdef "))
	})
	t.Run("Should snake case metric names", func(t *testing.T) {
		assert.Equal(t, "logs_parseFailed", SnakeCase("logs.parseFailed"))
		assert.Equal(t, "a_b_c", SnakeCase("a-b_c"))
	})
	t.Run("Should chunk slices", func(t *testing.T) {
		chunks := ChunkSlice([]int{1, 2, 3, 4, 5}, 2)
		assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, chunks)

		assert.Equal(t, [][]int{{1, 2}}, ChunkSlice([]int{1, 2}, 0))
		assert.Len(t, ChunkSlice([]int{}, 3), 0)
	})
	t.Run("Should map and filter", func(t *testing.T) {
		doubled := Map([]int{1, 2, 3}, func(i int, idx uint64) int { return i * 2 })
		assert.Equal(t, []int{2, 4, 6}, doubled)

		evens := Filter([]int{1, 2, 3, 4}, func(i int) bool { return i%2 == 0 })
		assert.Equal(t, []int{2, 4}, evens)
	})
}
