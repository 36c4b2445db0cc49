// Command retouch restores photos from the command line.
//
//	retouch restore -in scan.jpg [-out fixed.jpg] [-preset gentle] [-warmth 0.2]
//	retouch batch -in scans.zip -out restored/
//	retouch presets
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stevecastle/retouch/appconfig"
	"github.com/stevecastle/retouch/archive"
	"github.com/stevecastle/retouch/fetch"
	"github.com/stevecastle/retouch/imageio"
	"github.com/stevecastle/retouch/platform"
	"github.com/stevecastle/retouch/presets"
	"github.com/stevecastle/retouch/restore"
	"github.com/stevecastle/retouch/restorer"
)

const usage = `usage: retouch <command> [flags]

commands:
  restore   restore a single photo
  batch     restore every photo in a folder or archive
  presets   list available presets

run "retouch <command> -h" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "restore":
		err = runRestore(ctx, os.Args[2:])
	case "batch":
		err = runBatch(ctx, os.Args[2:])
	case "presets":
		err = runPresets(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		log.Error().Err(err).Msg(os.Args[1] + " failed")
		os.Exit(1)
	}
}

func setupLogging(verbose bool) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// common holds the flags shared by restore and batch.
type common struct {
	preset  *string
	auto    *bool
	maxSide *int
	quality *int
	workers *int
	verbose *bool
	params  map[string]*float64
}

// paramFlags maps flag names onto Params wire names.
var paramFlags = []struct{ flag, param, help string }{
	{"strength", "strength", "tone strength 0..1"},
	{"scratch", "scratchAmount", "scratch removal 0..1"},
	{"smooth", "smoothAmount", "grain smoothing 0..1"},
	{"detail", "detailAmount", "detail recovery 0..1"},
	{"contrast", "contrastAmount", "contrast 0..1"},
	{"saturation", "saturationAmount", "saturation 0..1"},
	{"warmth", "warmthAmount", "warmth -1..1"},
}

func addCommon(fs *flag.FlagSet, cfg appconfig.Config) *common {
	c := &common{
		preset:  fs.String("preset", "", "named preset to start from"),
		auto:    fs.Bool("auto", false, "start from the auto preset (ignores configured defaults)"),
		maxSide: fs.Int("max-side", cfg.MaxSide, "cap for the longer side of inputs (1..3000)"),
		quality: fs.Int("quality", cfg.JPEGQuality, "JPEG quality 1..100"),
		workers: fs.Int("workers", cfg.Workers, "pipeline goroutines (0 = all CPUs)"),
		verbose: fs.Bool("v", false, "debug logging"),
		params:  map[string]*float64{},
	}
	for _, pf := range paramFlags {
		c.params[pf.flag] = fs.Float64(pf.flag, 0, pf.help)
	}
	return c
}

// resolve builds the run parameters: configured defaults, then -auto or
// -preset, then any parameter flag given explicitly.
func (c *common) resolve(fs *flag.FlagSet, cfg appconfig.Config) (restore.Params, error) {
	p := cfg.Defaults
	if *c.auto {
		p = restore.Auto()
	}
	if *c.preset != "" {
		store, err := presets.Load(cfg.PresetsPath)
		if err != nil {
			return p, err
		}
		if p, err = store.Get(*c.preset); err != nil {
			return p, err
		}
	}
	var err error
	fs.Visit(func(f *flag.Flag) {
		for _, pf := range paramFlags {
			if pf.flag == f.Name && err == nil {
				err = p.Set(pf.param, *c.params[pf.flag])
			}
		}
	})
	return p.Clamped(), err
}

func (c *common) restorer() *restorer.Restorer {
	return &restorer.Restorer{
		Pipeline: restore.New(restore.WithWorkers(*c.workers)),
		MaxSide:  imageio.ClampMaxSide(*c.maxSide),
		Quality:  *c.quality,
	}
}

func loadConfig() appconfig.Config {
	cfg, _, err := appconfig.Load()
	if err != nil {
		log.Warn().Err(err).Msg("using built-in defaults")
		cfg = appconfig.Get()
	}
	return cfg
}

func runRestore(ctx context.Context, args []string) error {
	cfg := loadConfig()
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	in := fs.String("in", "", "input image path or http(s) URL")
	out := fs.String("out", "", "output path (.jpg or .png); default <input>_restored.jpg")
	open := fs.Bool("open", false, "open the result when done")
	c := addCommon(fs, cfg)
	fs.Parse(args)
	setupLogging(*c.verbose)

	if *in == "" {
		fs.Usage()
		return fmt.Errorf("-in is required")
	}
	params, err := c.resolve(fs, cfg)
	if err != nil {
		return err
	}

	src := *in
	if fetch.IsURL(src) {
		f := &fetch.Client{}
		if src, err = f.Download(ctx, src, platform.GetTempDir(), nil); err != nil {
			return err
		}
		defer os.Remove(src)
		if *out == "" {
			*out = urlOutput(*in, cfg.OutputDir)
		}
	}

	r := c.restorer()
	defer r.Pipeline.Close()
	log.Debug().Interface("params", params).Int("workers", r.Pipeline.Workers()).Msg("restoring")

	res, err := r.File(ctx, src, *out, params)
	if err != nil {
		return err
	}
	log.Info().
		Str("output", res.Output).
		Int("width", res.Width).
		Int("height", res.Height).
		Dur("took", res.Duration).
		Msg("restored")

	if *open {
		return platform.OpenFile(res.Output)
	}
	return nil
}

// urlOutput names the result of a downloaded input after the URL, in dir or
// the working directory.
func urlOutput(rawURL, dir string) string {
	if dir == "" {
		dir = "."
	}
	return imageio.OutputName(fetch.FileName(rawURL), dir)
}

func runBatch(ctx context.Context, args []string) error {
	cfg := loadConfig()
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	in := fs.String("in", "", "folder or archive (.zip, .7z, .tar.gz)")
	out := fs.String("out", "", "output folder; default <input>_restored")
	jobs := fs.Int("jobs", 2, "files restored at once")
	c := addCommon(fs, cfg)
	fs.Parse(args)
	setupLogging(*c.verbose)

	if *in == "" {
		fs.Usage()
		return fmt.Errorf("-in is required")
	}
	params, err := c.resolve(fs, cfg)
	if err != nil {
		return err
	}

	dir := *in
	if archive.IsArchive(dir) {
		tmp, err := os.MkdirTemp(platform.GetTempDir(), "batch-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(tmp)
		log.Info().Str("archive", *in).Msg("extracting")
		if err := archive.Extract(*in, tmp, nil); err != nil {
			return err
		}
		dir = tmp
	}
	if *out == "" {
		*out = filepath.Clean(*in) + "_restored"
	}

	images, err := archive.ListImages(dir, *out)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return fmt.Errorf("no images found in %s", *in)
	}
	log.Info().Int("images", len(images)).Str("out", *out).Msg("starting batch")

	r := c.restorer()
	defer r.Pipeline.Close()
	results, err := r.Batch(ctx, images, *out, params, *jobs, func(done, total int, res restorer.Result, err error) {
		if err != nil {
			log.Warn().Err(err).Msgf("[%d/%d]", done, total)
			return
		}
		log.Info().Str("output", res.Output).Dur("took", res.Duration).Msgf("[%d/%d]", done, total)
	})
	log.Info().Int("restored", len(results)).Int("total", len(images)).Msg("batch finished")
	return err
}

func runPresets(args []string) error {
	cfg := loadConfig()
	fs := flag.NewFlagSet("presets", flag.ExitOnError)
	verbose := fs.Bool("v", false, "debug logging")
	fs.Parse(args)
	setupLogging(*verbose)

	store, err := presets.Load(cfg.PresetsPath)
	if err != nil {
		return err
	}
	all := store.All()
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTRENGTH\tSCRATCH\tSMOOTH\tDETAIL\tCONTRAST\tSATURATION\tWARMTH")
	for _, name := range store.Names() {
		p := all[name]
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%+.2f\n",
			name, p.Strength, p.Scratch, p.Smooth, p.Detail, p.Contrast, p.Saturation, p.Warmth)
	}
	return tw.Flush()
}
