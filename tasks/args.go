package tasks

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stevecastle/retouch/restore"
)

// restoreOptions are the flags shared by restore and restore-batch.
type restoreOptions struct {
	preset  string
	out     string
	workers int
	params  []string
}

func parseRestoreArgs(args []string) (restoreOptions, error) {
	var o restoreOptions
	for i := 0; i < len(args); i++ {
		arg := args[i]
		next := func() (string, error) {
			if i+1 >= len(args) {
				return "", fmt.Errorf("missing value for %s", arg)
			}
			i++
			return strings.TrimSpace(args[i]), nil
		}
		var err error
		switch arg {
		case "--preset", "-p":
			o.preset, err = next()
		case "--out", "-o":
			o.out, err = next()
		case "--param":
			var kv string
			if kv, err = next(); err == nil {
				o.params = append(o.params, kv)
			}
		case "--workers", "-w":
			var v string
			if v, err = next(); err == nil {
				if o.workers, err = strconv.Atoi(v); err != nil || o.workers < 1 {
					err = fmt.Errorf("invalid --workers %q", v)
				}
			}
		default:
			err = fmt.Errorf("unknown argument %q", arg)
		}
		if err != nil {
			return o, err
		}
	}
	return o, nil
}

// resolveParams starts from the named preset (or the configured defaults)
// and applies each key=value override.
func resolveParams(e Env, o restoreOptions) (restore.Params, error) {
	p := e.Defaults
	if o.preset != "" {
		if e.Presets == nil {
			return p, fmt.Errorf("presets are not configured")
		}
		var err error
		if p, err = e.Presets.Get(o.preset); err != nil {
			return p, err
		}
	}
	for _, kv := range o.params {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return p, fmt.Errorf("invalid --param %q, want name=value", kv)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return p, fmt.Errorf("invalid value for %s: %w", name, err)
		}
		if err := p.Set(strings.TrimSpace(name), v); err != nil {
			return p, err
		}
	}
	return p.Clamped(), nil
}

// argValue returns the value following flag, or "".
func argValue(args []string, flag string) string {
	for i, arg := range args {
		if arg == flag && i+1 < len(args) {
			return strings.TrimSpace(args[i+1])
		}
	}
	return ""
}

// inputLines splits a job input into its non-empty lines.
func inputLines(input string) []string {
	var out []string
	for _, line := range strings.Split(input, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
