package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitPages(t *testing.T) {
	t.Run("partitions all pages", func(t *testing.T) {
		ranges := SplitPages(20, 8)
		assert.Equal(t, []PageRange{{0, 8}, {8, 16}, {16, 20}}, ranges)

		total := 0
		for i, r := range ranges {
			total += r.Len()
			if i > 0 {
				assert.Equal(t, ranges[i-1].End, r.Start, "区间应首尾相接")
			}
		}
		assert.Equal(t, 20, total)
	})

	t.Run("exact multiple", func(t *testing.T) {
		ranges := SplitPages(16, 8)
		assert.Len(t, ranges, 2)
		assert.Equal(t, 16, ranges[1].End)
	})

	t.Run("smaller than chunk", func(t *testing.T) {
		assert.Equal(t, []PageRange{{0, 3}}, SplitPages(3, 8))
	})

	t.Run("empty document", func(t *testing.T) {
		assert.Empty(t, SplitPages(0, 8))
	})

	t.Run("non-positive size falls back to default", func(t *testing.T) {
		ranges := SplitPages(10, 0)
		assert.Equal(t, []PageRange{{0, DefaultChunkSize}, {DefaultChunkSize, 10}}, ranges)
	})
}

func TestPageRangeString(t *testing.T) {
	assert.Equal(t, "page 3", PageRange{Start: 2, End: 3}.String())
	assert.Equal(t, "pages 1-8", PageRange{Start: 0, End: 8}.String())
}
