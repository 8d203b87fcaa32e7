package storage

import (
	"testing"
	"time"

	"code.linksmart.eu/dt/ops-console/model"
)

func TestMemoryStorage(t *testing.T) {
	s := NewMemoryStorage(2)
	now := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		err := s.AddTask(&model.TaskRecord{ID: id, State: model.TaskSucceeded, Created: now.Add(time.Duration(i) * time.Second)})
		if err != nil {
			t.Fatal(err)
		}
	}

	tasks, err := s.GetTasks()
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 || tasks[0].ID != "c" || tasks[1].ID != "b" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}

	task, err := s.GetTask("b")
	if err != nil || task == nil || task.ID != "b" {
		t.Fatalf("unexpected task: %+v %v", task, err)
	}
	task, err = s.GetTask("a")
	if err != nil || task != nil {
		t.Fatalf("evicted task returned: %+v %v", task, err)
	}
}
