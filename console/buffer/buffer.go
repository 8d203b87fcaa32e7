// Package buffer implements a first-in-first-out (FIFO) fixed-capacity list of task records
package buffer

import (
	"sync"

	"code.linksmart.eu/dt/ops-console/model"
)

func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		capacity: capacity,
	}
}

type Buffer struct {
	mutex    sync.RWMutex
	list     []model.TaskRecord
	capacity int
	index    int
}

// Insert adds a record, replacing the oldest one when the buffer is full
func (b *Buffer) Insert(record model.TaskRecord) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if len(b.list) < b.capacity { // buffer expanding
		b.list = append(b.list, record)
	} else { // buffer full
		if b.index == len(b.list) {
			b.index = 0
		}
		b.list[b.index] = record
		b.index++
	}
}

// Collect returns the records from oldest to newest
func (b *Buffer) Collect() []model.TaskRecord {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	collected := make([]model.TaskRecord, 0, len(b.list))
	collected = append(collected, b.list[b.index:]...)
	return append(collected, b.list[:b.index]...)
}

// Find returns the newest record with the given id
func (b *Buffer) Find(id string) (model.TaskRecord, bool) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	for i := range b.list {
		// walk backwards from the newest
		j := (b.index - 1 - i + 2*len(b.list)) % len(b.list)
		if b.list[j].ID == id {
			return b.list[j], true
		}
	}
	return model.TaskRecord{}, false
}
