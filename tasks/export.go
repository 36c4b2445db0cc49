package tasks

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/stevecastle/retouch/archive"
	"github.com/stevecastle/retouch/jobqueue"
)

var ErrExportDisabled = errors.New("S3 export is not configured")

// exportTask uploads each file listed in the input. A directory line
// uploads every image inside it.
func exportTask(j *jobqueue.Job, q *jobqueue.Queue, mu *sync.Mutex) error {
	e := currentEnv()
	ctx := jobContext(j)
	if e.Exporter == nil {
		return fail(j, q, ErrExportDisabled)
	}

	var files []string
	for _, in := range inputLines(j.Input) {
		fi, err := os.Stat(in)
		if err != nil {
			return fail(j, q, err)
		}
		if !fi.IsDir() {
			files = append(files, in)
			continue
		}
		images, err := archive.ListImages(in)
		if err != nil {
			return fail(j, q, err)
		}
		files = append(files, images...)
	}
	if len(files) == 0 {
		return fail(j, q, errors.New("nothing to export"))
	}

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return fail(j, q, err)
		}
		uri, err := e.Exporter.Upload(ctx, f)
		if err != nil {
			return fail(j, q, err)
		}
		q.PushJobStdout(j.ID, fmt.Sprintf("[%d/%d] Uploaded %s", i+1, len(files), uri))
	}
	return q.CompleteJob(j.ID)
}
