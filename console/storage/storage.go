// Package storage keeps the history of finished tasks
package storage

import (
	"sort"

	"code.linksmart.eu/dt/ops-console/console/buffer"
	"code.linksmart.eu/dt/ops-console/model"
)

type Storage interface {
	AddTask(*model.TaskRecord) error
	GetTask(id string) (*model.TaskRecord, error) // nil if not found
	GetTasks() ([]model.TaskRecord, error)        // newest first
}

// memory keeps the most recent tasks in a ring buffer
type memory struct {
	buffer *buffer.Buffer
}

func NewMemoryStorage(capacity int) Storage {
	return &memory{buffer: buffer.NewBuffer(capacity)}
}

func (m *memory) AddTask(task *model.TaskRecord) error {
	m.buffer.Insert(*task)
	return nil
}

func (m *memory) GetTask(id string) (*model.TaskRecord, error) {
	task, found := m.buffer.Find(id)
	if !found {
		return nil, nil
	}
	return &task, nil
}

func (m *memory) GetTasks() ([]model.TaskRecord, error) {
	tasks := m.buffer.Collect()
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Created.After(tasks[j].Created)
	})
	return tasks, nil
}
