package tasks

import (
	"strconv"
	"sync"
	"time"

	"github.com/stevecastle/retouch/jobqueue"
)

// waitFn ticks for the number of steps given in Input (default 5), one per
// --interval (default 1s). It is useful for exercising dependencies.
func waitFn(j *jobqueue.Job, q *jobqueue.Queue, mu *sync.Mutex) error {
	steps := 5
	if n, err := strconv.Atoi(j.Input); err == nil && n >= 0 {
		steps = n
	}
	interval := time.Second
	if v := argValue(j.Arguments, "--interval"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			interval = d
		}
	}

	for i := 0; i < steps; i++ {
		select {
		case <-j.Ctx.Done():
			q.PushJobStdout(j.ID, "Task was canceled")
			_ = q.CancelJob(j.ID)
			return j.Ctx.Err()
		case <-time.After(interval):
			q.PushJobStdout(j.ID, "Waiting in task...")
		}
	}
	return q.CompleteJob(j.ID)
}
