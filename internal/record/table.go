package record

import "sync"

// Table 只追加的结果表，跨块保持到达顺序
type Table struct {
	mu      sync.RWMutex
	records []QuestionRecord
}

// NewTable 创建空表
func NewTable() *Table {
	return &Table{}
}

// Append 追加记录
func (t *Table) Append(records ...QuestionRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, records...)
}

// Len 返回记录数
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Records 返回记录的副本
func (t *Table) Records() []QuestionRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]QuestionRecord, len(t.records))
	copy(out, t.records)
	return out
}
