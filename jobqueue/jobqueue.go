// Package jobqueue holds restoration jobs with dependencies, persists them
// to sqlite and publishes every change on the event stream.
package jobqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stevecastle/retouch/stream"
)

// JobState is the lifecycle position of a job.
type JobState int

const (
	StatePending JobState = iota
	StateInProgress
	StateCompleted
	StateCancelled
	StateError
)

// Hosts group jobs for concurrency limits. Uploads are throttled apart
// from local restoration work.
const (
	HostLocal = "local"
	HostS3    = "s3"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrNotInProgress = errors.New("job is not in progress")
	ErrNotCancelable = errors.New("job is not pending or in progress")
)

func (s JobState) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateInProgress:
		return "InProgress"
	case StateCompleted:
		return "Completed"
	case StateCancelled:
		return "Cancelled"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

var stateNames = map[JobState]string{
	StatePending:    "pending",
	StateInProgress: "in_progress",
	StateCompleted:  "completed",
	StateCancelled:  "cancelled",
	StateError:      "error",
}

// Name is the wire form of s, as used in JSON.
func (s JobState) Name() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s JobState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Name())
}

// UnmarshalJSON maps unknown names to StatePending.
func (s *JobState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = StatePending
	for st, name := range stateNames {
		if name == str {
			*s = st
		}
	}
	return nil
}

// Job is one queued command. Command names a registered task; Input is
// its primary argument (an image, a folder, an archive or a file to
// upload).
type Job struct {
	ID           string             `json:"id"`
	Command      string             `json:"command"`
	Arguments    []string           `json:"arguments"`
	Input        string             `json:"input"`
	Host         string             `json:"host"`
	Stdout       []string           `json:"-"`
	StdIn        io.Reader          `json:"-"`
	Dependencies []string           `json:"dependencies"`
	State        JobState           `json:"state"`
	Ctx          context.Context    `json:"-"`
	Cancel       context.CancelFunc `json:"-"`

	CreatedAt   time.Time `json:"created_at"`
	ClaimedAt   time.Time `json:"claimed_at"`
	CompletedAt time.Time `json:"completed_at"`
	ErroredAt   time.Time `json:"errored_at"`
}

// Workflow is a job tree. Children run first; the parent depends on all of
// them.
type Workflow struct {
	Command   string     `json:"command"`
	Arguments []string   `json:"arguments"`
	Input     string     `json:"input"`
	Children  []Workflow `json:"children"`
}

// Queue is safe for concurrent use. Signal receives the id of every job
// that may have become claimable.
type Queue struct {
	mu            sync.Mutex
	Jobs          map[string]*Job
	JobOrder      []string
	Signal        chan string
	Db            *sql.DB
	HostLimits    map[string]int
	RunningCounts map[string]int
}

// NewQueue returns an in-memory queue.
func NewQueue() *Queue {
	return &Queue{
		Jobs:          make(map[string]*Job),
		Signal:        make(chan string, 100),
		HostLimits:    make(map[string]int),
		RunningCounts: make(map[string]int),
	}
}

// NewQueueWithDB returns a queue persisted to db. Jobs left in progress by
// a previous run are reset to pending.
func NewQueueWithDB(db *sql.DB) *Queue {
	q := NewQueue()
	q.Db = db
	if err := q.createJobsTable(); err != nil {
		log.Error().Err(err).Msg("failed to create jobs table")
	}
	if err := q.loadJobsFromDB(); err != nil {
		log.Error().Err(err).Msg("failed to load jobs from database")
	}
	return q
}

func (q *Queue) createJobsTable() error {
	_, err := q.Db.Exec(`
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		arguments TEXT,
		input TEXT,
		host TEXT,
		stdout TEXT,
		dependencies TEXT,
		state INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		claimed_at DATETIME,
		completed_at DATETIME,
		errored_at DATETIME,
		job_order_position INTEGER
	)`)
	return err
}

func (q *Queue) saveJobToDB(job *Job) error {
	if q.Db == nil {
		return nil
	}
	args, _ := json.Marshal(job.Arguments)
	stdout, _ := json.Marshal(job.Stdout)
	deps, _ := json.Marshal(job.Dependencies)

	_, err := q.Db.Exec(`
	INSERT OR REPLACE INTO jobs (
		id, command, arguments, input, host, stdout, dependencies, state,
		created_at, claimed_at, completed_at, errored_at, job_order_position
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Command, string(args), job.Input, job.Host,
		string(stdout), string(deps), int(job.State),
		job.CreatedAt, job.ClaimedAt, job.CompletedAt, job.ErroredAt,
		slices.Index(q.JobOrder, job.ID),
	)
	return err
}

// persist saves job and logs failures; the in-memory state stays
// authoritative.
func (q *Queue) persist(job *Job) {
	if err := q.saveJobToDB(job); err != nil {
		log.Error().Err(err).Str("job", job.ID).Msg("failed to save job")
	}
}

func (q *Queue) loadJobsFromDB() error {
	if q.Db == nil {
		return nil
	}
	rows, err := q.Db.Query(`
	SELECT id, command, arguments, input, COALESCE(host, ''), stdout, dependencies, state,
		created_at, claimed_at, completed_at, errored_at
	FROM jobs
	ORDER BY job_order_position`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var resumed []string
	for rows.Next() {
		var job Job
		var args, stdout, deps string
		var state int
		if err := rows.Scan(&job.ID, &job.Command, &args, &job.Input, &job.Host,
			&stdout, &deps, &state,
			&job.CreatedAt, &job.ClaimedAt, &job.CompletedAt, &job.ErroredAt); err != nil {
			log.Error().Err(err).Msg("error scanning job row")
			continue
		}
		if json.Unmarshal([]byte(args), &job.Arguments) != nil {
			job.Arguments = []string{}
		}
		if json.Unmarshal([]byte(stdout), &job.Stdout) != nil {
			job.Stdout = []string{}
		}
		if json.Unmarshal([]byte(deps), &job.Dependencies) != nil {
			job.Dependencies = []string{}
		}
		job.State = JobState(state)
		if job.Host == "" {
			job.Host = getHost(job.Command)
		}
		if job.State == StateInProgress {
			job.State = StatePending
			job.ClaimedAt = time.Time{}
			resumed = append(resumed, job.ID)
		}
		job.Ctx, job.Cancel = context.WithCancel(context.Background())

		q.Jobs[job.ID] = &job
		q.JobOrder = append(q.JobOrder, job.ID)
	}

	if len(resumed) > 0 {
		log.Info().Strs("jobs", resumed).Msg("resuming interrupted jobs")
		for _, id := range resumed {
			q.notify(id)
		}
	}
	return rows.Err()
}

func (q *Queue) removeJobFromDB(id string) {
	if q.Db == nil {
		return
	}
	if _, err := q.Db.Exec("DELETE FROM jobs WHERE id = ?", id); err != nil {
		log.Error().Err(err).Str("job", id).Msg("failed to remove job from database")
	}
}

// SaveAllJobsToDB writes every job, e.g. before shutdown.
func (q *Queue) SaveAllJobsToDB() error {
	if q.Db == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	var errs []error
	for _, job := range q.Jobs {
		if err := q.saveJobToDB(job); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// notify wakes runners without ever blocking a queue operation.
func (q *Queue) notify(id string) {
	select {
	case q.Signal <- id:
	default:
	}
}

// AddJob queues a job that runs once all dependencies have completed.
func (q *Queue) AddJob(command string, arguments []string, input string, dependencies []string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.addJobLocked(command, arguments, input, dependencies), nil
}

func (q *Queue) addJobLocked(command string, arguments []string, input string, dependencies []string) string {
	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:           uuid.NewString(),
		Command:      command,
		Arguments:    arguments,
		Input:        input,
		Dependencies: dependencies,
		State:        StatePending,
		Ctx:          ctx,
		Cancel:       cancel,
		CreatedAt:    time.Now(),
		Host:         getHost(command),
	}
	q.Jobs[job.ID] = job
	q.JobOrder = append(q.JobOrder, job.ID)
	q.persist(job)
	q.notify(job.ID)
	publishJob("create", job)
	return job.ID
}

// AddWorkflow queues w bottom-up and returns the root job's id.
func (q *Queue) AddWorkflow(w Workflow) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.addWorkflowLocked(w), nil
}

func (q *Queue) addWorkflowLocked(w Workflow) string {
	deps := make([]string, 0, len(w.Children))
	for _, child := range w.Children {
		deps = append(deps, q.addWorkflowLocked(child))
	}
	return q.addJobLocked(w.Command, w.Arguments, w.Input, deps)
}

// CopyJob queues a fresh pending copy of an existing job.
func (q *Queue) CopyJob(id string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.Jobs[id]
	if !ok {
		return "", ErrJobNotFound
	}
	return q.addJobLocked(job.Command, slices.Clone(job.Arguments), job.Input, slices.Clone(job.Dependencies)), nil
}

// ClaimJob returns the oldest pending job whose dependencies are complete
// and whose host has spare capacity, marking it in progress. It returns
// nil when nothing is claimable.
func (q *Queue) ClaimJob() (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, id := range q.JobOrder {
		job := q.Jobs[id]
		if job.State != StatePending || !q.canClaim(job) {
			continue
		}
		if q.RunningCounts[job.Host] >= q.getHostLimitLocked(job.Host) {
			continue
		}
		job.State = StateInProgress
		job.ClaimedAt = time.Now()
		q.RunningCounts[job.Host]++
		q.persist(job)
		publishJob("update", job)
		return job, nil
	}
	return nil, nil
}

func (q *Queue) canClaim(job *Job) bool {
	for _, dep := range job.Dependencies {
		d, ok := q.Jobs[dep]
		if !ok || d.State != StateCompleted {
			return false
		}
	}
	return true
}

// ErrorJob moves an in-progress job to the error state.
func (q *Queue) ErrorJob(id string) error {
	return q.finish(id, StateError)
}

// CompleteJob moves an in-progress job to the completed state and wakes
// anything that depended on it.
func (q *Queue) CompleteJob(id string) error {
	return q.finish(id, StateCompleted)
}

func (q *Queue) finish(id string, state JobState) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.Jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.State != StateInProgress {
		return ErrNotInProgress
	}
	job.State = state
	if state == StateCompleted {
		job.CompletedAt = time.Now()
	} else {
		job.ErroredAt = time.Now()
	}
	q.RunningCounts[job.Host]--
	q.persist(job)
	publishJob("update", job)
	q.notify(id)
	return nil
}

// CancelJob cancels a pending or running job. A running job's context is
// cancelled; its task is expected to return promptly.
func (q *Queue) CancelJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.Jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.State != StatePending && job.State != StateInProgress {
		return ErrNotCancelable
	}
	job.Cancel()
	if job.State == StateInProgress {
		q.RunningCounts[job.Host]--
	}
	job.State = StateCancelled
	q.persist(job)
	publishJob("update", job)
	return nil
}

// PushJobStdout appends a progress line to the job's log.
func (q *Queue) PushJobStdout(id string, line string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.Jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Stdout = append(job.Stdout, line)
	q.persist(job)
	if err := stream.Publish("stdout-"+id, StdoutEvent{UpdateType: "stdout", Line: line}); err != nil {
		log.Error().Err(err).Msg("failed to publish stdout")
	}
	return nil
}

// GetJobs returns copies of all jobs, newest first.
func (q *Queue) GetJobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := make([]Job, 0, len(q.JobOrder))
	for i := len(q.JobOrder) - 1; i >= 0; i-- {
		jobs = append(jobs, *q.Jobs[q.JobOrder[i]])
	}
	return jobs
}

// GetJob returns the live job or nil.
func (q *Queue) GetJob(id string) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.Jobs[id]
}

// State reports a job's current state.
func (q *Queue) State(id string) (JobState, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.Jobs[id]
	if !ok {
		return 0, false
	}
	return job.State, true
}

// RemoveJob forgets a job, cancelling it first if it is still running.
func (q *Queue) RemoveJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.Jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.State == StateInProgress {
		job.Cancel()
		q.RunningCounts[job.Host]--
	}
	q.removeLocked(id)
	return nil
}

func (q *Queue) removeLocked(id string) {
	delete(q.Jobs, id)
	if i := slices.Index(q.JobOrder, id); i >= 0 {
		q.JobOrder = slices.Delete(q.JobOrder, i, i+1)
	}
	q.removeJobFromDB(id)
	publishJob("delete", &Job{ID: id})
}

// ClearNonRunningJobs removes every job that is not in progress and
// returns how many were removed.
func (q *Queue) ClearNonRunningJobs() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var ids []string
	for _, id := range q.JobOrder {
		if q.Jobs[id].State != StateInProgress {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		q.removeLocked(id)
	}
	return len(ids), nil
}

// JobEvent is published on create, update and delete.
type JobEvent struct {
	UpdateType string `json:"updateType"`
	Job        Job    `json:"job"`
}

// StdoutEvent is published as "stdout-<job id>".
type StdoutEvent struct {
	UpdateType string `json:"updateType"`
	Line       string `json:"line"`
}

func publishJob(updateType string, job *Job) {
	if err := stream.Publish(updateType, JobEvent{UpdateType: updateType, Job: *job}); err != nil {
		log.Error().Err(err).Str("job", job.ID).Msg("failed to publish job event")
	}
}

func getHost(command string) string {
	if command == "export" {
		return HostS3
	}
	return HostLocal
}

func (q *Queue) getHostLimitLocked(host string) int {
	if limit, ok := q.HostLimits[host]; ok {
		return limit
	}
	return 1
}

// SetHostLimit sets how many jobs for host may run at once.
func (q *Queue) SetHostLimit(host string, limit int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.HostLimits[host] = limit
}
