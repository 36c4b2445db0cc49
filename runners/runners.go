// Package runners drains the job queue, running each claimed job through
// its registered task.
package runners

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/stevecastle/retouch/jobqueue"
	"github.com/stevecastle/retouch/tasks"
)

// Runners claims jobs whenever the queue signals. Concurrency is bounded
// by the queue's per-host limits.
type Runners struct {
	queue    *jobqueue.Queue
	mu       sync.Mutex
	running  int
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	jobs     sync.WaitGroup
	stopOnce sync.Once
}

func New(queue *jobqueue.Queue) *Runners {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runners{
		queue:  queue,
		ctx:    ctx,
		cancel: cancel,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-r.queue.Signal:
				r.CheckForJobs()
			}
		}
	}()

	// Jobs restored from the database need a first look.
	r.CheckForJobs()
	return r
}

// Shutdown stops claiming new jobs and waits for running ones to return.
// It is safe to call more than once.
func (r *Runners) Shutdown() {
	r.stopOnce.Do(func() {
		r.cancel()
		r.wg.Wait()
		r.jobs.Wait()
	})
}

// Running reports how many jobs are executing.
func (r *Runners) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// CheckForJobs starts every job the queue will currently hand out.
func (r *Runners) CheckForJobs() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tryFetchJobsAndRun()
}

func (r *Runners) runJob(j *jobqueue.Job) {
	r.running++
	r.jobs.Add(1)
	go func() {
		defer r.jobs.Done()
		defer func() {
			r.mu.Lock()
			r.running--
			r.tryFetchJobsAndRun()
			r.mu.Unlock()
		}()
		defer func() {
			if p := recover(); p != nil {
				log.Error().Str("job", j.ID).Interface("panic", p).Msg("task panicked")
				r.queue.PushJobStdout(j.ID, fmt.Sprintf("Error: task panicked: %v", p))
				_ = r.queue.ErrorJob(j.ID)
			}
		}()

		task, exists := tasks.GetTasks()[j.Command]
		if !exists {
			r.queue.PushJobStdout(j.ID, "Task not found: "+j.Command)
			_ = r.queue.ErrorJob(j.ID)
			return
		}

		logger := log.With().Str("job", j.ID).Str("command", j.Command).Logger()
		logger.Info().Msg("job started")
		err := task.Fn(j, r.queue, &r.mu)
		r.finalize(j, err)
		if err != nil {
			logger.Warn().Err(err).Msg("job failed")
			return
		}
		logger.Info().Msg("job finished")
	}()
}

// finalize settles a job its task left in progress.
func (r *Runners) finalize(j *jobqueue.Job, err error) {
	if state, ok := r.queue.State(j.ID); !ok || state != jobqueue.StateInProgress {
		return
	}
	switch {
	case j.Ctx != nil && j.Ctx.Err() != nil:
		_ = r.queue.CancelJob(j.ID)
	case err != nil:
		_ = r.queue.ErrorJob(j.ID)
	default:
		_ = r.queue.CompleteJob(j.ID)
	}
}

func (r *Runners) tryFetchJobsAndRun() {
	if r.ctx.Err() != nil {
		return
	}
	for {
		job, err := r.queue.ClaimJob()
		if err != nil {
			log.Error().Err(err).Msg("failed to claim job")
			return
		}
		if job == nil {
			return
		}
		r.runJob(job)
	}
}
