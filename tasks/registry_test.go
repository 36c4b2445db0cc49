package tasks

import (
	"sync"
	"testing"

	"github.com/stevecastle/retouch/jobqueue"
)

func TestGetTasks(t *testing.T) {
	taskMap := GetTasks()

	expectedTasks := []struct {
		id   string
		name string
	}{
		{"wait", "Wait"},
		{"restore", "Restore Photos"},
		{"restore-batch", "Restore Folder or Archive"},
		{"export", "Export to S3"},
	}

	for _, expected := range expectedTasks {
		task, exists := taskMap[expected.id]
		if !exists {
			t.Errorf("Task %q not registered", expected.id)
			continue
		}
		if task.ID != expected.id {
			t.Errorf("Task %q has ID %q; want %q", expected.id, task.ID, expected.id)
		}
		if task.Name != expected.name {
			t.Errorf("Task %q has Name %q; want %q", expected.id, task.Name, expected.name)
		}
		if task.Fn == nil {
			t.Errorf("Task %q has nil Fn", expected.id)
		}
	}
}

func TestRegisterTaskOverwrite(t *testing.T) {
	originalTasks := GetTasks()
	defer func() {
		tasksMu.Lock()
		tasks = originalTasks
		tasksMu.Unlock()
	}()

	RegisterTask("overwrite-test", "First Version", func(j *jobqueue.Job, q *jobqueue.Queue, mu *sync.Mutex) error {
		return nil
	})
	RegisterTask("overwrite-test", "Second Version", func(j *jobqueue.Job, q *jobqueue.Queue, mu *sync.Mutex) error {
		return nil
	})

	task, ok := GetTasks()["overwrite-test"]
	if !ok {
		t.Fatal("task was not registered")
	}
	if task.Name != "Second Version" {
		t.Errorf("Task should be overwritten; got Name = %q", task.Name)
	}
}

func TestGetTasksReturnsCopy(t *testing.T) {
	m := GetTasks()
	delete(m, "wait")
	if _, ok := GetTasks()["wait"]; !ok {
		t.Error("deleting from the returned map changed the registry")
	}
}

func TestListSorted(t *testing.T) {
	list := List()
	for i := 1; i < len(list); i++ {
		if list[i-1].ID > list[i].ID {
			t.Fatalf("List not sorted: %q before %q", list[i-1].ID, list[i].ID)
		}
	}
}
