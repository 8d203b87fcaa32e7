package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"code.linksmart.eu/dt/ops-console/model"
	"github.com/cskr/pubsub"
)

// blockingRunner blocks every run until release is closed
type blockingRunner struct {
	release chan struct{}
	fail    bool
}

func (r *blockingRunner) Run(ctx context.Context, p *model.Pipeline) *model.PipelineRun {
	if r.release != nil {
		<-r.release
	}
	return &model.PipelineRun{Intent: p.Intent, TargetID: p.TargetID, Success: !r.fail, Message: "done"}
}

type memoryHistory struct {
	mutex   sync.Mutex
	records map[string]model.TaskRecord
}

func (h *memoryHistory) AddTask(r *model.TaskRecord) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.records[r.ID] = *r
	return nil
}

func (h *memoryHistory) GetTask(id string) (*model.TaskRecord, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	r, found := h.records[id]
	if !found {
		return nil, nil
	}
	return &r, nil
}

func (h *memoryHistory) GetTasks() ([]model.TaskRecord, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	var list []model.TaskRecord
	for _, r := range h.records {
		list = append(list, r)
	}
	return list, nil
}

func TestRunSync(t *testing.T) {
	s := New(&blockingRunner{fail: true}, nil, nil)
	run, task := s.RunSync(context.Background(), &model.Pipeline{Intent: model.IntentKillAll, TargetID: "qa"})
	if run == nil || run.Success {
		t.Fatalf("unexpected run: %+v", run)
	}
	select {
	case <-task.Done():
	default:
		t.Fatal("sync task not done")
	}
	if task.Record().State != model.TaskFailed {
		t.Errorf("State = %s, want failed", task.Record().State)
	}
}

func TestRunAsync(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	history := &memoryHistory{records: make(map[string]model.TaskRecord)}
	events := pubsub.New(10)
	ch := events.Sub(TopicTasks)
	defer events.Unsub(ch, TopicTasks)

	s := New(runner, events, history)
	task := s.RunAsync(&model.Pipeline{Intent: model.IntentRestart, TargetID: "qa"})

	// acknowledged before the pipeline finished
	if task.Record().Finished() {
		t.Fatal("task finished before release")
	}
	record, err := s.Get(task.ID())
	if err != nil || record == nil {
		t.Fatalf("task not found: %v", err)
	}

	close(runner.release)
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
	}
	s.Wait()

	if task.Record().State != model.TaskSucceeded || task.Record().Run == nil {
		t.Fatalf("unexpected record: %+v", task.Record())
	}
	record, err = s.Get(task.ID())
	if err != nil || record == nil || record.State != model.TaskSucceeded {
		t.Fatalf("finished task not found in history: %+v %v", record, err)
	}

	var states []model.TaskState
	for len(states) < 3 {
		select {
		case msg := <-ch:
			states = append(states, msg.(model.TaskRecord).State)
		case <-time.After(5 * time.Second):
			t.Fatalf("missing events, got %v", states)
		}
	}
	if states[0] != model.TaskPending || states[1] != model.TaskRunning || states[2] != model.TaskSucceeded {
		t.Errorf("unexpected events: %v", states)
	}
}

func TestOverlappingTasksRun(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	s := New(runner, nil, nil)

	a := s.RunAsync(&model.Pipeline{Intent: model.IntentRestart, TargetID: "qa"})
	b := s.RunAsync(&model.Pipeline{Intent: model.IntentRestart, TargetID: "qa"})
	if a.ID() == b.ID() {
		t.Fatal("task ids must be unique")
	}

	list, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(list))
	}

	close(runner.release)
	s.Wait()
	for _, task := range []*Task{a, b} {
		if task.Record().State != model.TaskSucceeded {
			t.Errorf("task %s: %s", task.ID(), task.Record().State)
		}
	}
}

func TestGetUnknown(t *testing.T) {
	s := New(&blockingRunner{}, nil, nil)
	record, err := s.Get("missing")
	if err != nil || record != nil {
		t.Fatalf("expected nil record, got %+v %v", record, err)
	}
}
