package main

import (
	"flag"
	"path/filepath"
	"testing"

	"github.com/stevecastle/retouch/appconfig"
	"github.com/stevecastle/retouch/restore"
)

func testConfig(t *testing.T) appconfig.Config {
	return appconfig.Config{
		MaxSide:     1080,
		JPEGQuality: 95,
		PresetsPath: filepath.Join(t.TempDir(), "presets.yaml"),
		Defaults:    restore.Params{Strength: 0.3},
	}
}

func TestResolvePrecedence(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want restore.Params
	}{
		{"defaults", nil, restore.Params{Strength: 0.3}},
		{"auto", []string{"-auto"}, restore.Auto()},
		{"preset none", []string{"-preset", "none"}, restore.Params{}},
		{"flag overrides preset", []string{"-preset", "none", "-warmth", "-0.5", "-detail", "2"}, restore.Params{Warmth: -0.5, Detail: 1}},
		{"explicit zero", []string{"-auto", "-strength", "0"}, func() restore.Params { p := restore.Auto(); p.Strength = 0; return p }()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			fs := flag.NewFlagSet("test", flag.ContinueOnError)
			c := addCommon(fs, cfg)
			if err := fs.Parse(tt.args); err != nil {
				t.Fatal(err)
			}
			got, err := c.resolve(fs, cfg)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("params = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResolveUnknownPreset(t *testing.T) {
	cfg := testConfig(t)
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c := addCommon(fs, cfg)
	fs.Parse([]string{"-preset", "vivid"})
	if _, err := c.resolve(fs, cfg); err == nil {
		t.Error("expected an error for an unknown preset")
	}
}

func TestRestorerFromFlags(t *testing.T) {
	cfg := testConfig(t)
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c := addCommon(fs, cfg)
	fs.Parse([]string{"-max-side", "9000", "-workers", "2"})
	r := c.restorer()
	defer r.Pipeline.Close()
	if r.MaxSide != 3000 || r.Quality != 95 || r.Pipeline.Workers() != 2 {
		t.Errorf("restorer = %+v, workers %d", r, r.Pipeline.Workers())
	}
}

func TestURLOutput(t *testing.T) {
	tests := []struct {
		url, dir, want string
	}{
		{"https://example.com/scans/grandma.png", "", filepath.Join(".", "grandma_restored.jpg")},
		{"https://example.com/scans/grandma.png", "out", filepath.Join("out", "grandma_restored.jpg")},
		{"https://example.com/", "", filepath.Join(".", "download_restored.jpg")},
	}
	for _, tt := range tests {
		if got := urlOutput(tt.url, tt.dir); got != tt.want {
			t.Errorf("urlOutput(%q, %q) = %q; want %q", tt.url, tt.dir, got, tt.want)
		}
	}
}
