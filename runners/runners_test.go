package runners

import (
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stevecastle/retouch/jobqueue"
	"github.com/stevecastle/retouch/tasks"
)

func init() {
	tasks.RegisterTask("test-noop", "No-op", func(j *jobqueue.Job, q *jobqueue.Queue, mu *sync.Mutex) error {
		return nil
	})
	tasks.RegisterTask("test-fail", "Fail", func(j *jobqueue.Job, q *jobqueue.Queue, mu *sync.Mutex) error {
		return errors.New("boom")
	})
	tasks.RegisterTask("test-panic", "Panic", func(j *jobqueue.Job, q *jobqueue.Queue, mu *sync.Mutex) error {
		panic("kaboom")
	})
	tasks.RegisterTask("test-block", "Block", func(j *jobqueue.Job, q *jobqueue.Queue, mu *sync.Mutex) error {
		<-j.Ctx.Done()
		return j.Ctx.Err()
	})
}

func setupTestQueue(t *testing.T) *jobqueue.Queue {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return jobqueue.NewQueueWithDB(db)
}

func waitForState(t *testing.T, q *jobqueue.Queue, id string, want jobqueue.JobState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if state, _ := q.State(id); state == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	state, _ := q.State(id)
	t.Fatalf("job %s state = %v, want %v", id, state, want)
}

func TestNewRunners(t *testing.T) {
	q := setupTestQueue(t)
	r := New(q)
	defer r.Shutdown()

	if r.queue != q {
		t.Error("Runners queue not set correctly")
	}
	if r.Running() != 0 {
		t.Errorf("Running() = %d", r.Running())
	}
}

func TestRunnersDoubleShutdown(t *testing.T) {
	r := New(setupTestQueue(t))
	r.Shutdown()

	done := make(chan struct{})
	go func() {
		r.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("second Shutdown did not return")
	}
}

func TestRunnersFinalizeStates(t *testing.T) {
	tests := []struct {
		command string
		want    jobqueue.JobState
	}{
		{"test-noop", jobqueue.StateCompleted},
		{"test-fail", jobqueue.StateError},
		{"test-panic", jobqueue.StateError},
		{"this-task-does-not-exist", jobqueue.StateError},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			q := setupTestQueue(t)
			r := New(q)
			defer r.Shutdown()

			id, _ := q.AddJob(tt.command, nil, "", nil)
			waitForState(t, q, id, tt.want)
		})
	}
}

func TestRunnersUnknownTaskMessage(t *testing.T) {
	q := setupTestQueue(t)
	r := New(q)
	defer r.Shutdown()

	id, _ := q.AddJob("this-task-does-not-exist", nil, "", nil)
	waitForState(t, q, id, jobqueue.StateError)
	stdout := q.GetJobs()[0].Stdout
	if len(stdout) != 1 || stdout[0] != "Task not found: this-task-does-not-exist" {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestRunnersCancel(t *testing.T) {
	q := setupTestQueue(t)
	r := New(q)
	defer r.Shutdown()

	id, _ := q.AddJob("test-block", nil, "", nil)
	waitForState(t, q, id, jobqueue.StateInProgress)
	if err := q.CancelJob(id); err != nil {
		t.Fatal(err)
	}
	waitForState(t, q, id, jobqueue.StateCancelled)
	deadline := time.Now().Add(2 * time.Second)
	for r.Running() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if r.Running() != 0 {
		t.Errorf("Running() = %d after cancel", r.Running())
	}
}

func TestRunnersWithDependencies(t *testing.T) {
	q := setupTestQueue(t)
	r := New(q)
	defer r.Shutdown()

	parentID, _ := q.AddJob("wait", []string{"--interval", "1ms"}, "1", nil)
	childID, _ := q.AddJob("test-noop", nil, "", []string{parentID})
	waitForState(t, q, childID, jobqueue.StateCompleted)

	if state, _ := q.State(parentID); state != jobqueue.StateCompleted {
		t.Errorf("parent state = %v", state)
	}
}

func TestRunnersRespectHostLimit(t *testing.T) {
	q := setupTestQueue(t)
	q.SetHostLimit(jobqueue.HostLocal, 2)
	r := New(q)
	defer r.Shutdown()

	var ids []string
	for i := 0; i < 3; i++ {
		id, _ := q.AddJob("test-block", nil, "", nil)
		ids = append(ids, id)
	}
	waitForState(t, q, ids[1], jobqueue.StateInProgress)
	time.Sleep(20 * time.Millisecond)
	if state, _ := q.State(ids[2]); state != jobqueue.StatePending {
		t.Errorf("third job state = %v, want pending", state)
	}

	_ = q.CancelJob(ids[0])
	waitForState(t, q, ids[2], jobqueue.StateInProgress)
	_ = q.CancelJob(ids[1])
	_ = q.CancelJob(ids[2])
}
