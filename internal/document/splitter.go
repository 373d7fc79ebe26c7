package document

import "fmt"

// DefaultChunkSize 每个分块包含的页数
const DefaultChunkSize = 8

// PageRange 连续的页码区间 [Start, End)，从0开始
type PageRange struct {
	Start int
	End   int
}

// Len 区间包含的页数
func (r PageRange) Len() int {
	return r.End - r.Start
}

// String 以1开始的页码描述区间，用于日志
func (r PageRange) String() string {
	if r.Len() <= 1 {
		return fmt.Sprintf("page %d", r.Start+1)
	}
	return fmt.Sprintf("pages %d-%d", r.Start+1, r.End)
}

// SplitPages 把total页按size页一组切分
// 各区间首尾相接且覆盖全部页面，最后一组可能不足size页
func SplitPages(total, size int) []PageRange {
	if total <= 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}

	ranges := make([]PageRange, 0, (total+size-1)/size)
	for start := 0; start < total; start += size {
		end := start + size
		if end > total {
			end = total
		}
		ranges = append(ranges, PageRange{Start: start, End: end})
	}
	return ranges
}
