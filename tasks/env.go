package tasks

import (
	"context"
	"sync"

	"github.com/stevecastle/retouch/fetch"
	"github.com/stevecastle/retouch/platform"
	"github.com/stevecastle/retouch/presets"
	"github.com/stevecastle/retouch/restore"
	"github.com/stevecastle/retouch/restorer"
)

// Uploader stores a finished file somewhere remote and returns its URI.
type Uploader interface {
	Upload(ctx context.Context, file string) (string, error)
}

// Env is what the built-in tasks run against. The server sets it once at
// startup with Configure.
type Env struct {
	Restorer  *restorer.Restorer
	Presets   *presets.Store
	Exporter  Uploader
	Fetcher   *fetch.Client
	Defaults  restore.Params
	OutputDir string
	// TempDir receives downloads and extracted archives.
	TempDir string
	// Workers is how many files a batch restores at once.
	Workers int
}

var (
	envMu sync.RWMutex
	env   = Env{Defaults: restore.Auto()}
)

// Configure replaces the task environment.
func Configure(e Env) {
	envMu.Lock()
	env = e
	envMu.Unlock()
}

func currentEnv() Env {
	envMu.RLock()
	e := env
	envMu.RUnlock()
	if e.Restorer == nil {
		e.Restorer = &restorer.Restorer{}
	}
	if e.Fetcher == nil {
		e.Fetcher = &fetch.Client{}
	}
	if e.TempDir == "" {
		e.TempDir = platform.GetTempDir()
	}
	if e.Workers <= 0 {
		e.Workers = 1
	}
	return e
}
