package tasks

import (
	"sort"
	"sync"

	"github.com/stevecastle/retouch/jobqueue"
)

// Task is a runnable unit bound to the jobqueue. Fn must leave the job in
// a final state (completed, error or cancelled) before returning.
type Task struct {
	ID   string                                                        `json:"id"`
	Name string                                                        `json:"name"`
	Fn   func(j *jobqueue.Job, q *jobqueue.Queue, r *sync.Mutex) error `json:"-"`
}

type TaskMap map[string]Task

var (
	tasksMu sync.RWMutex
	tasks   = make(TaskMap)
)

func init() {
	RegisterTask("wait", "Wait", waitFn)
	RegisterTask("restore", "Restore Photos", restoreTask)
	RegisterTask("restore-batch", "Restore Folder or Archive", restoreBatchTask)
	RegisterTask("export", "Export to S3", exportTask)
}

func RegisterTask(id, name string, fn func(j *jobqueue.Job, q *jobqueue.Queue, mu *sync.Mutex) error) {
	tasksMu.Lock()
	defer tasksMu.Unlock()
	tasks[id] = Task{ID: id, Name: name, Fn: fn}
}

// GetTasks returns a copy of the registry.
func GetTasks() TaskMap {
	tasksMu.RLock()
	defer tasksMu.RUnlock()
	out := make(TaskMap, len(tasks))
	for k, v := range tasks {
		out[k] = v
	}
	return out
}

// List returns the registered tasks sorted by id.
func List() []Task {
	m := GetTasks()
	out := make([]Task, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
