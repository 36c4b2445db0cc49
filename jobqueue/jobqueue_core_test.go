package jobqueue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// ============================================================================
// JobState
// ============================================================================

func TestJobStateString(t *testing.T) {
	tests := []struct {
		state    JobState
		expected string
	}{
		{StatePending, "Pending"},
		{StateInProgress, "InProgress"},
		{StateCompleted, "Completed"},
		{StateCancelled, "Cancelled"},
		{StateError, "Error"},
		{JobState(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("JobState(%d).String() = %q; want %q", tt.state, got, tt.expected)
		}
	}
}

func TestJobStateJSON(t *testing.T) {
	tests := []struct {
		state JobState
		json  string
	}{
		{StatePending, `"pending"`},
		{StateInProgress, `"in_progress"`},
		{StateCompleted, `"completed"`},
		{StateCancelled, `"cancelled"`},
		{StateError, `"error"`},
	}
	for _, tt := range tests {
		data, err := json.Marshal(tt.state)
		if err != nil || string(data) != tt.json {
			t.Errorf("Marshal(%v) = %s, %v; want %s", tt.state, data, err, tt.json)
		}
		var back JobState
		if err := json.Unmarshal([]byte(tt.json), &back); err != nil || back != tt.state {
			t.Errorf("Unmarshal(%s) = %v, %v", tt.json, back, err)
		}
	}

	if StateInProgress.Name() != "in_progress" || JobState(99).Name() != "unknown" {
		t.Errorf("Name() = %q, %q", StateInProgress.Name(), JobState(99).Name())
	}
	if data, _ := json.Marshal(JobState(99)); string(data) != `"unknown"` {
		t.Errorf("Marshal(99) = %s", data)
	}
	var s JobState = StateError
	if err := json.Unmarshal([]byte(`"bogus"`), &s); err != nil || s != StatePending {
		t.Errorf("Unmarshal(bogus) = %v, %v; want pending", s, err)
	}
}

// ============================================================================
// Queue
// ============================================================================

func TestNewQueueWithDB(t *testing.T) {
	db := openTestDB(t)
	q := NewQueueWithDB(db)
	if q.Db != db {
		t.Error("Db not set")
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='jobs'`).Scan(&n); err != nil || n != 1 {
		t.Errorf("jobs table missing: n=%d err=%v", n, err)
	}
}

func TestAddJob(t *testing.T) {
	q := NewQueueWithDB(openTestDB(t))
	id, err := q.AddJob("restore", []string{"--preset", "auto"}, "/photos/a.jpg", nil)
	if err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}
	job := q.GetJob(id)
	if job == nil {
		t.Fatal("GetJob() returned nil")
	}
	if job.Command != "restore" || job.Input != "/photos/a.jpg" || len(job.Arguments) != 2 {
		t.Errorf("job = %+v", job)
	}
	if job.State != StatePending || job.Host != HostLocal {
		t.Errorf("state=%v host=%q", job.State, job.Host)
	}
	if job.Ctx == nil || job.Cancel == nil {
		t.Error("context not set")
	}
	select {
	case got := <-q.Signal:
		if got != id {
			t.Errorf("Signal = %q; want %q", got, id)
		}
	default:
		t.Error("AddJob did not signal")
	}
}

func TestExportJobsUseS3Host(t *testing.T) {
	q := NewQueue()
	id, _ := q.AddJob("export", nil, "/out/a_restored.jpg", nil)
	if h := q.GetJob(id).Host; h != HostS3 {
		t.Errorf("Host = %q; want %q", h, HostS3)
	}
}

func TestDependenciesGateClaims(t *testing.T) {
	q := NewQueue()
	parent, _ := q.AddJob("restore", nil, "a.jpg", nil)
	child, _ := q.AddJob("export", nil, "a_restored.jpg", []string{parent})

	got, _ := q.ClaimJob()
	if got == nil || got.ID != parent {
		t.Fatalf("first claim = %v; want parent", got)
	}
	if got, _ := q.ClaimJob(); got != nil {
		t.Fatalf("claimed %s while its dependency runs", got.ID)
	}
	if err := q.CompleteJob(parent); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	got, _ = q.ClaimJob()
	if got == nil || got.ID != child {
		t.Errorf("claim after completion = %v; want child", got)
	}
}

func TestMissingDependencyBlocks(t *testing.T) {
	q := NewQueue()
	q.AddJob("restore", nil, "a.jpg", []string{"nope"})
	if got, _ := q.ClaimJob(); got != nil {
		t.Errorf("claimed job with missing dependency")
	}
}

func TestHostLimits(t *testing.T) {
	q := NewQueue()
	a, _ := q.AddJob("restore", nil, "a.jpg", nil)
	b, _ := q.AddJob("restore", nil, "b.jpg", nil)
	up, _ := q.AddJob("export", nil, "c.jpg", nil)

	first, _ := q.ClaimJob()
	if first.ID != a {
		t.Fatalf("first = %s; want %s", first.ID, a)
	}
	// local is at its default limit of one; the upload may still run.
	second, _ := q.ClaimJob()
	if second == nil || second.ID != up {
		t.Fatalf("second = %v; want export job", second)
	}
	if third, _ := q.ClaimJob(); third != nil {
		t.Fatalf("third claim = %s; want nil", third.ID)
	}

	q.SetHostLimit(HostLocal, 2)
	third, _ := q.ClaimJob()
	if third == nil || third.ID != b {
		t.Errorf("after raising limit got %v; want %s", third, b)
	}
}

func TestAddWorkflow(t *testing.T) {
	q := NewQueue()
	root, err := q.AddWorkflow(Workflow{
		Command: "export",
		Input:   "/out",
		Children: []Workflow{
			{Command: "restore", Input: "a.jpg"},
			{Command: "restore", Input: "b.jpg"},
		},
	})
	if err != nil {
		t.Fatalf("AddWorkflow: %v", err)
	}
	if len(q.Jobs) != 3 {
		t.Fatalf("len(Jobs) = %d; want 3", len(q.Jobs))
	}
	rootJob := q.GetJob(root)
	if len(rootJob.Dependencies) != 2 {
		t.Errorf("root deps = %v", rootJob.Dependencies)
	}
	if q.JobOrder[len(q.JobOrder)-1] != root {
		t.Error("root should be queued after its children")
	}
}

func TestCopyJob(t *testing.T) {
	q := NewQueue()
	orig, _ := q.AddJob("restore", []string{"--preset", "gentle"}, "a.jpg", nil)
	q.PushJobStdout(orig, "line")

	cp, err := q.CopyJob(orig)
	if err != nil {
		t.Fatalf("CopyJob: %v", err)
	}
	if cp == orig {
		t.Fatal("copy reused the id")
	}
	job := q.GetJob(cp)
	if job.Command != "restore" || job.Input != "a.jpg" || job.Arguments[1] != "gentle" {
		t.Errorf("copy = %+v", job)
	}
	if len(job.Stdout) != 0 || job.State != StatePending {
		t.Errorf("copy should be fresh: %+v", job)
	}
	if _, err := q.CopyJob("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("err = %v; want ErrJobNotFound", err)
	}
}

func TestStateTransitions(t *testing.T) {
	q := NewQueue()
	id, _ := q.AddJob("restore", nil, "a.jpg", nil)

	if err := q.CompleteJob(id); !errors.Is(err, ErrNotInProgress) {
		t.Errorf("complete pending: err = %v", err)
	}
	if err := q.ErrorJob(id); !errors.Is(err, ErrNotInProgress) {
		t.Errorf("error pending: err = %v", err)
	}

	q.ClaimJob()
	if err := q.ErrorJob(id); err != nil {
		t.Fatalf("ErrorJob: %v", err)
	}
	job := q.GetJob(id)
	if job.State != StateError || job.ErroredAt.IsZero() {
		t.Errorf("state = %v", job.State)
	}
	if q.RunningCounts[HostLocal] != 0 {
		t.Errorf("RunningCounts = %d; want 0", q.RunningCounts[HostLocal])
	}
	if err := q.CancelJob(id); !errors.Is(err, ErrNotCancelable) {
		t.Errorf("cancel errored job: err = %v", err)
	}
	if err := q.CompleteJob("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("err = %v", err)
	}
	if state, ok := q.State(id); !ok || state != StateError {
		t.Errorf("State = %v, %v", state, ok)
	}
	if _, ok := q.State("missing"); ok {
		t.Error("State reported a missing job")
	}
}

func TestCancelRunningJob(t *testing.T) {
	q := NewQueue()
	id, _ := q.AddJob("restore-batch", nil, "/scans", nil)
	job, _ := q.ClaimJob()

	if err := q.CancelJob(id); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if job.State != StateCancelled {
		t.Errorf("state = %v", job.State)
	}
	select {
	case <-job.Ctx.Done():
	default:
		t.Error("context not cancelled")
	}
	if q.RunningCounts[HostLocal] != 0 {
		t.Errorf("RunningCounts = %d", q.RunningCounts[HostLocal])
	}
}

func TestGetJobsNewestFirst(t *testing.T) {
	q := NewQueue()
	a, _ := q.AddJob("restore", nil, "a", nil)
	b, _ := q.AddJob("restore", nil, "b", nil)
	jobs := q.GetJobs()
	if len(jobs) != 2 || jobs[0].ID != b || jobs[1].ID != a {
		t.Errorf("GetJobs order wrong: %v", jobs)
	}
}

func TestRemoveJob(t *testing.T) {
	db := openTestDB(t)
	q := NewQueueWithDB(db)
	id, _ := q.AddJob("restore", nil, "a.jpg", nil)
	q.ClaimJob()

	if err := q.RemoveJob(id); err != nil {
		t.Fatalf("RemoveJob: %v", err)
	}
	if q.GetJob(id) != nil {
		t.Error("job still present")
	}
	if q.RunningCounts[HostLocal] != 0 {
		t.Errorf("RunningCounts = %d", q.RunningCounts[HostLocal])
	}
	var n int
	db.QueryRow("SELECT COUNT(*) FROM jobs WHERE id = ?", id).Scan(&n)
	if n != 0 {
		t.Error("job still in database")
	}
	if err := q.RemoveJob(id); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestClearNonRunningJobs(t *testing.T) {
	q := NewQueue()
	running, _ := q.AddJob("restore", nil, "a", nil)
	q.ClaimJob()
	q.AddJob("restore", nil, "b", nil)
	done, _ := q.AddJob("export", nil, "c", nil)
	q.ClaimJob()
	q.CompleteJob(done)

	n, err := q.ClearNonRunningJobs()
	if err != nil || n != 2 {
		t.Fatalf("ClearNonRunningJobs = %d, %v; want 2", n, err)
	}
	if len(q.JobOrder) != 1 || q.JobOrder[0] != running {
		t.Errorf("JobOrder = %v", q.JobOrder)
	}
}

func TestPushJobStdout(t *testing.T) {
	q := NewQueue()
	id, _ := q.AddJob("restore-batch", nil, "/scans", nil)
	q.PushJobStdout(id, "1/3 a.jpg")
	q.PushJobStdout(id, "2/3 b.jpg")
	if got := q.GetJob(id).Stdout; len(got) != 2 || got[1] != "2/3 b.jpg" {
		t.Errorf("Stdout = %v", got)
	}
	if err := q.PushJobStdout("missing", "x"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("err = %v", err)
	}
}

// ============================================================================
// Persistence
// ============================================================================

func TestPersistenceAndResume(t *testing.T) {
	db := openTestDB(t)
	q := NewQueueWithDB(db)
	running, _ := q.AddJob("restore", []string{"--preset", "auto"}, "a.jpg", nil)
	q.ClaimJob()
	q.PushJobStdout(running, "working")
	pending, _ := q.AddJob("export", nil, "b.jpg", []string{running})

	reloaded := NewQueueWithDB(db)
	if len(reloaded.JobOrder) != 2 || reloaded.JobOrder[0] != running || reloaded.JobOrder[1] != pending {
		t.Fatalf("JobOrder = %v", reloaded.JobOrder)
	}
	job := reloaded.GetJob(running)
	if job.State != StatePending {
		t.Errorf("interrupted job state = %v; want pending", job.State)
	}
	if len(job.Stdout) != 1 || job.Arguments[1] != "auto" {
		t.Errorf("job = %+v", job)
	}
	if dep := reloaded.GetJob(pending); len(dep.Dependencies) != 1 || dep.Host != HostS3 {
		t.Errorf("dependent = %+v", dep)
	}
	if job.Ctx == nil {
		t.Error("context not recreated")
	}
}

func TestSaveAllJobsToDB(t *testing.T) {
	if err := NewQueue().SaveAllJobsToDB(); err != nil {
		t.Errorf("in-memory queue: %v", err)
	}
	db := openTestDB(t)
	q := NewQueueWithDB(db)
	q.AddJob("restore", nil, "a", nil)
	if err := q.SaveAllJobsToDB(); err != nil {
		t.Errorf("SaveAllJobsToDB: %v", err)
	}
}
