package buffer

import (
	"sync"

	"github.com/Sarang2401/Precursor-Main/internal/models"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

// deviceBuffer 单个设备的滑动窗口（按到达顺序，不按 timestamp 排序）
type deviceBuffer struct {
	mu       sync.Mutex
	readings []models.Reading
}

type shard struct {
	mu      sync.RWMutex
	devices map[string]*deviceBuffer
}

// Store 设备缓冲区存储
// 同一设备的追加+评估互斥（设备级锁），不同设备之间互不阻塞（分片 map + 设备级锁）
type Store struct {
	capacity int
	shards   [shardCount]*shard
}

// NewStore 创建缓冲区存储，capacity 即 SEQ_LEN
func NewStore(capacity int) *Store {
	if capacity < 1 {
		capacity = 1
	}
	s := &Store{capacity: capacity}
	for i := range s.shards {
		s.shards[i] = &shard{devices: make(map[string]*deviceBuffer)}
	}
	return s
}

// Capacity 缓冲区容量
func (s *Store) Capacity() int {
	return s.capacity
}

// Append 追加读数并返回追加后缓冲区的副本
func (s *Store) Append(deviceID string, reading models.Reading) []models.Reading {
	return s.AppendAndThen(deviceID, reading, nil)
}

// AppendAndThen 追加读数后在持有设备锁的情况下执行 fn
// fn 收到的是快照副本；同一设备的 AppendAndThen 调用完全串行
func (s *Store) AppendAndThen(deviceID string, reading models.Reading, fn func(snapshot []models.Reading)) []models.Reading {
	buf := s.getOrCreate(deviceID)

	buf.mu.Lock()
	defer buf.mu.Unlock()

	if len(buf.readings) >= s.capacity {
		// 满了：丢弃最旧的一条（FIFO）
		copy(buf.readings, buf.readings[1:])
		buf.readings[len(buf.readings)-1] = reading
	} else {
		buf.readings = append(buf.readings, reading)
	}

	snapshot := make([]models.Reading, len(buf.readings))
	copy(snapshot, buf.readings)

	if fn != nil {
		fn(snapshot)
	}

	return snapshot
}

// Snapshot 返回设备当前缓冲区副本（设备不存在时返回 nil）
func (s *Store) Snapshot(deviceID string) []models.Reading {
	sh := s.shardFor(deviceID)
	sh.mu.RLock()
	buf, ok := sh.devices[deviceID]
	sh.mu.RUnlock()
	if !ok {
		return nil
	}

	buf.mu.Lock()
	defer buf.mu.Unlock()
	snapshot := make([]models.Reading, len(buf.readings))
	copy(snapshot, buf.readings)
	return snapshot
}

// DeviceCount 已跟踪的设备数量
func (s *Store) DeviceCount() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.devices)
		sh.mu.RUnlock()
	}
	return total
}

func (s *Store) getOrCreate(deviceID string) *deviceBuffer {
	sh := s.shardFor(deviceID)

	sh.mu.RLock()
	buf, ok := sh.devices[deviceID]
	sh.mu.RUnlock()
	if ok {
		return buf
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	// double check：其他 goroutine 可能已创建
	if buf, ok := sh.devices[deviceID]; ok {
		return buf
	}
	buf = &deviceBuffer{readings: make([]models.Reading, 0, s.capacity)}
	sh.devices[deviceID] = buf
	return buf
}

func (s *Store) shardFor(deviceID string) *shard {
	return s.shards[xxhash.Sum64String(deviceID)%shardCount]
}
