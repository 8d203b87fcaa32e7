// Package scheduler runs pipelines synchronously or as detached background tasks with observable state
package scheduler

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"code.linksmart.eu/dt/ops-console/model"
	"github.com/cskr/pubsub"
	"github.com/satori/go.uuid"
)

// TopicTasks is the pubsub topic on which every task state change is published as a model.TaskRecord
const TopicTasks = "tasks"

// Runner executes one pipeline
type Runner interface {
	Run(ctx context.Context, p *model.Pipeline) *model.PipelineRun
}

// History keeps finished tasks
type History interface {
	AddTask(*model.TaskRecord) error
	GetTask(id string) (*model.TaskRecord, error) // nil if not found
	GetTasks() ([]model.TaskRecord, error)
}

// Task is the handle of a scheduled pipeline
type Task struct {
	mutex  sync.RWMutex
	record model.TaskRecord
	done   chan struct{}
}

func (t *Task) ID() string {
	return t.record.ID
}

// Record returns a snapshot of the task
func (t *Task) Record() model.TaskRecord {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.record
}

// Done is closed once the task has finished
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) set(state model.TaskState, run *model.PipelineRun) model.TaskRecord {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.record.State = state
	t.record.Updated = time.Now()
	if run != nil {
		t.record.Run = run
	}
	return t.record
}

// Scheduler starts pipelines and keeps track of their tasks.
// Pipelines on the same target are not serialized, an overlap is only reported in the log.
type Scheduler struct {
	runner  Runner
	events  *pubsub.PubSub
	history History

	mutex sync.RWMutex
	tasks map[string]*Task
	wg    sync.WaitGroup
}

// New returns a scheduler. events and history are optional.
func New(runner Runner, events *pubsub.PubSub, history History) *Scheduler {
	return &Scheduler{
		runner:  runner,
		events:  events,
		history: history,
		tasks:   make(map[string]*Task),
	}
}

// RunSync executes the pipeline and returns its run once finished
func (s *Scheduler) RunSync(ctx context.Context, p *model.Pipeline) (*model.PipelineRun, *Task) {
	task := s.add(p)
	s.execute(ctx, task, p)
	return task.Record().Run, task
}

// RunAsync returns immediately. The pipeline runs to completion or failure and cannot be cancelled.
func (s *Scheduler) RunAsync(p *model.Pipeline) *Task {
	task := s.add(p)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(context.Background(), task, p)
	}()
	return task
}

// Wait blocks until all background tasks have finished
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Get returns the task record with the given id, nil if it is unknown
func (s *Scheduler) Get(id string) (*model.TaskRecord, error) {
	s.mutex.RLock()
	task, found := s.tasks[id]
	s.mutex.RUnlock()
	if found {
		record := task.Record()
		return &record, nil
	}
	if s.history == nil {
		return nil, nil
	}
	return s.history.GetTask(id)
}

// List returns live and finished tasks, newest first
func (s *Scheduler) List() ([]model.TaskRecord, error) {
	var records []model.TaskRecord
	seen := make(map[string]bool)

	s.mutex.RLock()
	for _, task := range s.tasks {
		record := task.Record()
		records = append(records, record)
		seen[record.ID] = true
	}
	s.mutex.RUnlock()

	if s.history != nil {
		finished, err := s.history.GetTasks()
		if err != nil {
			return nil, err
		}
		for _, record := range finished {
			if !seen[record.ID] {
				records = append(records, record)
			}
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Created.After(records[j].Created)
	})
	return records, nil
}

func (s *Scheduler) add(p *model.Pipeline) *Task {
	now := time.Now()
	task := &Task{
		record: model.TaskRecord{
			ID:       uuid.NewV4().String(),
			Intent:   p.Intent,
			TargetID: p.TargetID,
			State:    model.TaskPending,
			Created:  now,
			Updated:  now,
		},
		done: make(chan struct{}),
	}

	s.mutex.Lock()
	for _, other := range s.tasks {
		r := other.Record()
		if r.TargetID == p.TargetID && !r.Finished() {
			log.Printf("scheduler: warning: %s on %s overlaps with %s task %s", p.Intent, p.TargetID, r.Intent, r.ID)
		}
	}
	s.tasks[task.ID()] = task
	s.mutex.Unlock()

	s.publish(task.Record())
	return task
}

func (s *Scheduler) execute(ctx context.Context, task *Task, p *model.Pipeline) {
	defer close(task.done)
	s.publish(task.set(model.TaskRunning, nil))
	log.Printf("scheduler: task %s running %s on %s", task.ID(), p.Intent, p.TargetID)

	run := s.runner.Run(ctx, p)

	state := model.TaskSucceeded
	if !run.Success {
		state = model.TaskFailed
	}
	record := task.set(state, run)
	log.Printf("scheduler: task %s %s: %s", task.ID(), state, run.Message)

	if s.history != nil {
		if err := s.history.AddTask(&record); err != nil {
			log.Printf("scheduler: error storing task %s: %s", task.ID(), err)
		} else {
			s.mutex.Lock()
			delete(s.tasks, task.ID())
			s.mutex.Unlock()
		}
	}
	s.publish(record)
}

func (s *Scheduler) publish(record model.TaskRecord) {
	if s.events != nil {
		s.events.TryPub(record, TopicTasks)
	}
}
