// Package restorer runs the restoration pipeline over files: it loads and
// caps inputs, restores them, writes results and records history.
package restorer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/stevecastle/retouch/history"
	"github.com/stevecastle/retouch/imageio"
	"github.com/stevecastle/retouch/restore"
)

// Recorder receives an entry for every written file.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) (int64, error)
}

// Restorer is safe for concurrent use when its Pipeline is.
type Restorer struct {
	Pipeline *restore.Pipeline
	// MaxSide caps the longer side of inputs; 0 means the default.
	MaxSide int
	// Quality is the JPEG quality for outputs; 0 means the default.
	Quality int
	History Recorder
}

// Result describes one restored file.
type Result struct {
	Source   string        `json:"source"`
	Output   string        `json:"output"`
	Width    int           `json:"width"`
	Height   int           `json:"height"`
	Duration time.Duration `json:"duration"`
}

func (r *Restorer) pipeline() *restore.Pipeline {
	if r.Pipeline == nil {
		return restore.New()
	}
	return r.Pipeline
}

// Image restores an in-memory image.
func (r *Restorer) Image(img *restore.Image, p restore.Params) (*restore.Image, error) {
	return r.pipeline().Run(img, p)
}

// File restores in and writes the result to out (derived from in when
// empty).
func (r *Restorer) File(ctx context.Context, in, out string, p restore.Params) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if out == "" {
		out = imageio.OutputName(in, "")
	}
	start := time.Now()

	img, err := imageio.Read(in, imageio.ClampMaxSide(r.MaxSide))
	if err != nil {
		return Result{}, err
	}
	restored, err := r.pipeline().Run(img, p)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", in, err)
	}
	quality := r.Quality
	if quality == 0 {
		quality = imageio.DefaultQuality
	}
	if err := imageio.Save(out, restored, quality); err != nil {
		return Result{}, err
	}

	res := Result{
		Source:   in,
		Output:   out,
		Width:    restored.Width,
		Height:   restored.Height,
		Duration: time.Since(start),
	}
	if r.History != nil {
		_, err := r.History.Record(ctx, history.Entry{
			Source:   in,
			Output:   out,
			Params:   p.Clamped(),
			Width:    res.Width,
			Height:   res.Height,
			Duration: res.Duration,
		})
		if err != nil {
			log.Warn().Err(err).Str("output", out).Msg("failed to record history")
		}
	}
	return res, nil
}

// Progress is reported once per finished input, successful or not.
type Progress func(done, total int, res Result, err error)

// Batch restores inputs into outDir using up to workers files at a time
// (workers <= 0 means one). A failing file does not stop the batch; the
// failures are joined into the returned error. Cancelling ctx stops
// scheduling new files.
func (r *Restorer) Batch(ctx context.Context, inputs []string, outDir string, p restore.Params, workers int, progress Progress) ([]Result, error) {
	if workers <= 0 {
		workers = 1
	}
	outputs := OutputNames(inputs, outDir)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var (
		mu       sync.Mutex
		done     int
		results  = make([]Result, 0, len(inputs))
		failures []error
	)
	for i, in := range inputs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := r.File(gctx, in, outputs[i], p)
			mu.Lock()
			defer mu.Unlock()
			done++
			if err != nil {
				failures = append(failures, fmt.Errorf("%s: %w", filepath.Base(in), err))
			} else {
				results = append(results, res)
			}
			if progress != nil {
				progress(done, len(inputs), res, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, errors.Join(failures...)
}

// OutputNames maps each input to a distinct output path in outDir. Inputs
// sharing a base name get a numeric suffix.
func OutputNames(inputs []string, outDir string) []string {
	seen := map[string]int{}
	out := make([]string, len(inputs))
	for i, in := range inputs {
		name := imageio.OutputName(in, outDir)
		key := strings.ToLower(name)
		seen[key]++
		if n := seen[key]; n > 1 {
			ext := filepath.Ext(name)
			name = fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n, ext)
		}
		out[i] = name
	}
	return out
}
