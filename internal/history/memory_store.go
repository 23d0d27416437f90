package history

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore 以内存方式保存成交记录，是默认的存储驱动。
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append 实现 Store 接口。
func (m *MemoryStore) Append(_ context.Context, record *Record) error {
	if err := validate(record); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *record
	if clone.CreatedAt == 0 {
		clone.CreatedAt = time.Now().Unix()
	}
	m.records = append(m.records, &clone)
	return nil
}

// ListByUser 返回指定用户的成交记录，最新的在前。
func (m *MemoryStore) ListByUser(_ context.Context, userID int64, limit int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*Record, 0)
	for _, record := range m.records {
		if record.UserID == userID {
			clone := *record
			matched = append(matched, &clone)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt > matched[j].CreatedAt
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error {
	return nil
}
