package queue

import (
	"sync/atomic"
)

// Statistics tracks queue activity
type Statistics struct {
	puts    atomic.Int64
	gets    atomic.Int64
	rejects atomic.Int64
	size    atomic.Int64
	maxSize atomic.Int64
}

func (s *Statistics) put(size int) {
	s.puts.Add(1)
	s.updateSize(size)
}

func (s *Statistics) get(size int) {
	s.gets.Add(1)
	s.updateSize(size)
}

func (s *Statistics) reject() {
	s.rejects.Add(1)
}

func (s *Statistics) updateSize(size int) {
	n := int64(size)
	s.size.Store(n)
	for {
		cur := s.maxSize.Load()
		if n <= cur || s.maxSize.CompareAndSwap(cur, n) {
			return
		}
	}
}

// Puts returns the number of accepted items
func (s *Statistics) Puts() int64 { return s.puts.Load() }

// Gets returns the number of removed items
func (s *Statistics) Gets() int64 { return s.gets.Load() }

// Rejects returns the number of TryPut calls refused because the queue was full
func (s *Statistics) Rejects() int64 { return s.rejects.Load() }

// CurrentSize returns the depth after the last operation
func (s *Statistics) CurrentSize() int64 { return s.size.Load() }

// MaxSize returns the highest depth observed
func (s *Statistics) MaxSize() int64 { return s.maxSize.Load() }

// StatsSummary is a point-in-time copy of Statistics
type StatsSummary struct {
	Puts        int64 `json:"puts"`
	Gets        int64 `json:"gets"`
	Rejects     int64 `json:"rejects"`
	CurrentSize int64 `json:"current_size"`
	MaxSize     int64 `json:"max_size"`
}

// Summary returns a snapshot of all statistics
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Puts:        s.Puts(),
		Gets:        s.Gets(),
		Rejects:     s.Rejects(),
		CurrentSize: s.CurrentSize(),
		MaxSize:     s.MaxSize(),
	}
}
