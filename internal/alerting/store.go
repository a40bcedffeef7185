package alerting

import (
	"sync"
	"time"

	"github.com/Sarang2401/Precursor-Main/internal/models"

	"github.com/google/uuid"
)

// Store 有界报警日志，最新在前；超过容量时丢弃最旧的一条
// 独立于设备锁，所有读写都在同一把锁内完成
type Store struct {
	mu       sync.RWMutex
	alerts   []models.Alert // alerts[0] 为最新
	capacity int
	now      func() time.Time
}

// NewStore 创建报警日志；capacity <= 0 时使用 200
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 200
	}
	return &Store{
		alerts:   make([]models.Alert, 0, capacity),
		capacity: capacity,
		now:      time.Now,
	}
}

// Insert 写入一条报警并返回写入后的副本（已分配 AlertID / CreatedAt）
func (s *Store) Insert(alert models.Alert) models.Alert {
	a := alert.Clone()
	if a.AlertID == "" {
		a.AlertID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.alerts) < s.capacity {
		s.alerts = append(s.alerts, models.Alert{})
	}
	// 整体后移一位（满时最后一条被覆盖）
	copy(s.alerts[1:], s.alerts[:len(s.alerts)-1])
	s.alerts[0] = a

	return a.Clone()
}

// Recent 返回最新的 limit 条（最新在前）；limit <= 0 返回全部
func (s *Store) Recent(limit int) []models.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.alerts)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]models.Alert, n)
	for i := 0; i < n; i++ {
		out[i] = s.alerts[i].Clone()
	}
	return out
}

// Len 当前条数
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts)
}

// Capacity 容量
func (s *Store) Capacity() int {
	return s.capacity
}
