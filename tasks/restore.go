package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stevecastle/retouch/archive"
	"github.com/stevecastle/retouch/fetch"
	"github.com/stevecastle/retouch/imageio"
	"github.com/stevecastle/retouch/jobqueue"
	"github.com/stevecastle/retouch/restorer"
)

// fail records err on the job and moves it to its final state. A job
// whose context is done is cancelled rather than errored.
func fail(j *jobqueue.Job, q *jobqueue.Queue, err error) error {
	if j.Ctx != nil && j.Ctx.Err() != nil {
		q.PushJobStdout(j.ID, "Task was canceled")
		_ = q.CancelJob(j.ID)
		return j.Ctx.Err()
	}
	q.PushJobStdout(j.ID, "Error: "+err.Error())
	_ = q.ErrorJob(j.ID)
	return err
}

func jobContext(j *jobqueue.Job) context.Context {
	if j.Ctx == nil {
		return context.Background()
	}
	return j.Ctx
}

// localize downloads URL inputs into the temp dir and returns local paths.
func localize(ctx context.Context, e Env, j *jobqueue.Job, q *jobqueue.Queue, inputs []string) ([]string, error) {
	out := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if !fetch.IsURL(in) {
			out = append(out, in)
			continue
		}
		q.PushJobStdout(j.ID, "Downloading "+in)
		var last int64
		path, err := e.Fetcher.Download(ctx, in, filepath.Join(e.TempDir, "downloads"), func(done, total int64) {
			// One line per 5 MiB keeps the log readable.
			if done-last >= 5<<20 || (total > 0 && done == total) {
				last = done
				q.PushJobStdout(j.ID, fmt.Sprintf("Downloaded %s of %s", fetch.FormatBytes(done), fetch.FormatBytes(total)))
			}
		})
		if err != nil {
			return nil, err
		}
		out = append(out, path)
	}
	return out, nil
}

// outputTarget splits --out into a file path (single input with an image
// extension) or a directory.
func outputTarget(e Env, out string, n int) (file, dir string) {
	if out == "" {
		return "", e.OutputDir
	}
	if _, err := imageio.FormatFor(out); err == nil && n == 1 {
		return out, ""
	}
	return "", out
}

func describe(res restorer.Result) string {
	return fmt.Sprintf("Restored %s -> %s (%dx%d in %s)",
		filepath.Base(res.Source), res.Output, res.Width, res.Height, res.Duration.Round(time.Millisecond))
}

// restoreTask restores every image listed in the job input, one per line.
// Inputs may be local paths or http(s) URLs.
//
//	--preset, -p name    start from a named preset
//	--param name=value   override a single parameter (repeatable)
//	--out, -o path       output file (single input) or directory
//	--workers, -w n      files restored at once
func restoreTask(j *jobqueue.Job, q *jobqueue.Queue, mu *sync.Mutex) error {
	e := currentEnv()
	ctx := jobContext(j)

	opts, err := parseRestoreArgs(j.Arguments)
	if err != nil {
		return fail(j, q, err)
	}
	params, err := resolveParams(e, opts)
	if err != nil {
		return fail(j, q, err)
	}
	inputs := inputLines(j.Input)
	if len(inputs) == 0 {
		return fail(j, q, errors.New("no input images"))
	}
	if inputs, err = localize(ctx, e, j, q, inputs); err != nil {
		return fail(j, q, err)
	}

	file, dir := outputTarget(e, opts.out, len(inputs))
	if file != "" {
		res, err := e.Restorer.File(ctx, inputs[0], file, params)
		if err != nil {
			return fail(j, q, err)
		}
		q.PushJobStdout(j.ID, describe(res))
		return q.CompleteJob(j.ID)
	}

	if err := runBatch(ctx, e, j, q, inputs, dir, opts); err != nil {
		return fail(j, q, err)
	}
	return q.CompleteJob(j.ID)
}

// restoreBatchTask restores every image in a folder or archive. The input
// is a directory, a .zip/.7z/.tar.gz file, or a URL to one of those.
func restoreBatchTask(j *jobqueue.Job, q *jobqueue.Queue, mu *sync.Mutex) error {
	e := currentEnv()
	ctx := jobContext(j)

	opts, err := parseRestoreArgs(j.Arguments)
	if err != nil {
		return fail(j, q, err)
	}
	if _, err := resolveParams(e, opts); err != nil {
		return fail(j, q, err)
	}
	inputs := inputLines(j.Input)
	if len(inputs) != 1 {
		return fail(j, q, fmt.Errorf("expected one folder or archive, got %d inputs", len(inputs)))
	}
	local, err := localize(ctx, e, j, q, inputs)
	if err != nil {
		return fail(j, q, err)
	}
	src := local[0]

	dir := src
	if archive.IsArchive(src) {
		dir = filepath.Join(e.TempDir, "extract", j.ID)
		defer func() {
			if err := os.RemoveAll(dir); err != nil {
				log.Warn().Err(err).Str("dir", dir).Msg("failed to remove extracted archive")
			}
		}()
		q.PushJobStdout(j.ID, "Extracting "+filepath.Base(src))
		err := archive.Extract(src, dir, func(done, total int, name string) {
			q.PushJobStdout(j.ID, fmt.Sprintf("Extracted %d/%d: %s", done, total, name))
		})
		if err != nil {
			return fail(j, q, err)
		}
	} else if fi, err := os.Stat(src); err != nil {
		return fail(j, q, err)
	} else if !fi.IsDir() {
		return fail(j, q, fmt.Errorf("%s is neither a folder nor an archive", src))
	}

	outDir := opts.out
	if outDir == "" {
		outDir = e.OutputDir
	}
	if outDir == "" {
		if dir == src {
			outDir = filepath.Join(src, "restored")
		} else {
			outDir = filepath.Join(filepath.Dir(src), trimArchiveExt(filepath.Base(src))+"_restored")
		}
	}

	images, err := archive.ListImages(dir, outDir)
	if err != nil {
		return fail(j, q, err)
	}
	if len(images) == 0 {
		return fail(j, q, fmt.Errorf("no images found in %s", filepath.Base(src)))
	}
	q.PushJobStdout(j.ID, fmt.Sprintf("Found %d images", len(images)))

	if err := runBatch(ctx, e, j, q, images, outDir, opts); err != nil {
		return fail(j, q, err)
	}
	return q.CompleteJob(j.ID)
}

func runBatch(ctx context.Context, e Env, j *jobqueue.Job, q *jobqueue.Queue, inputs []string, outDir string, opts restoreOptions) error {
	params, err := resolveParams(e, opts)
	if err != nil {
		return err
	}
	workers := opts.workers
	if workers == 0 {
		workers = e.Workers
	}
	results, err := e.Restorer.Batch(ctx, inputs, outDir, params, workers, func(done, total int, res restorer.Result, err error) {
		if err != nil {
			q.PushJobStdout(j.ID, fmt.Sprintf("[%d/%d] Error: %v", done, total, err))
			return
		}
		q.PushJobStdout(j.ID, fmt.Sprintf("[%d/%d] %s", done, total, describe(res)))
	})
	q.PushJobStdout(j.ID, fmt.Sprintf("Restored %d of %d images", len(results), len(inputs)))
	return err
}

func trimArchiveExt(name string) string {
	for _, ext := range []string{".tar.gz", ".tgz", ".zip", ".7z"} {
		if len(name) > len(ext) && strings.EqualFold(name[len(name)-len(ext):], ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}
