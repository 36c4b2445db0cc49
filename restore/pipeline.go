package restore

import (
	"github.com/stevecastle/retouch/workerpool"
)

// StageFunc computes rows [y0, y1) of dst from src. It must read only src
// and write only its own rows of dst, so disjoint row ranges can run
// concurrently.
type StageFunc func(dst, src *Image, p Params, y0, y1 int)

// Stage names a step of the pipeline.
type Stage struct {
	Name  string
	Apply StageFunc
}

// Stages is the fixed processing order.
var Stages = [...]Stage{
	{"tone", toneRows},
	{"scratch", scratchRows},
	{"smooth", smoothRows},
	{"sharpen", sharpenRows},
	{"finish", finishRows},
}

// Pipeline runs the stages over a shared worker pool. A zero Pipeline runs
// sequentially.
type Pipeline struct {
	pool     *workerpool.Pool
	ownsPool bool
}

type Option func(*Pipeline)

// WithWorkers gives the pipeline its own pool of n workers (n <= 0 means
// GOMAXPROCS). Release it with Close.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		p.pool = workerpool.New(n)
		p.ownsPool = true
	}
}

// WithPool shares an existing pool. The caller keeps ownership.
func WithPool(pool *workerpool.Pool) Option {
	return func(p *Pipeline) {
		p.pool = pool
		p.ownsPool = false
	}
}

// New builds a pipeline. Without options it runs on the calling goroutine.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Close releases a pool created by WithWorkers.
func (p *Pipeline) Close() {
	if p.ownsPool && p.pool != nil {
		p.pool.Close()
	}
}

// Workers reports how many goroutines a stage is split across.
func (p *Pipeline) Workers() int {
	if p.pool == nil {
		return 1
	}
	return p.pool.NumWorkers()
}

// Run restores src with params and returns a new image. src is never
// modified. Parameters are clamped to their domains first.
//
// Stages alternate between two scratch buffers. Each stage finishes
// completely before the next one starts reading.
func (p *Pipeline) Run(src *Image, params Params) (*Image, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	params = params.Clamped()

	arena := [2]*Image{
		newImage(src.Width, src.Height),
		newImage(src.Width, src.Height),
	}
	in := src
	for i, st := range Stages {
		out := arena[i%2]
		p.apply(st.Apply, out, in, params)
		in = out
	}
	return in, nil
}

// RunAuto runs with the Auto parameter set.
func (p *Pipeline) RunAuto(src *Image) (*Image, error) {
	return p.Run(src, Auto())
}

func (p *Pipeline) apply(fn StageFunc, dst, src *Image, params Params) {
	p.pool.ParallelFor(src.Height, func(y0, y1 int) {
		fn(dst, src, params, y0, y1)
	})
}

// Run restores src on the calling goroutine.
func Run(src *Image, params Params) (*Image, error) {
	return New().Run(src, params)
}

// Single-stage entry points. Each returns a fresh image and leaves src
// untouched.

func Tone(src *Image, p Params) *Image    { return runStage(toneRows, src, p) }
func Scratch(src *Image, p Params) *Image { return runStage(scratchRows, src, p) }
func Smooth(src *Image, p Params) *Image  { return runStage(smoothRows, src, p) }
func Sharpen(src *Image, p Params) *Image { return runStage(sharpenRows, src, p) }
func Finish(src *Image, p Params) *Image  { return runStage(finishRows, src, p) }

func runStage(fn StageFunc, src *Image, p Params) *Image {
	dst := newImage(src.Width, src.Height)
	fn(dst, src, p.Clamped(), 0, src.Height)
	return dst
}
