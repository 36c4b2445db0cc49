package appconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stevecastle/retouch/imageio"
	"github.com/stevecastle/retouch/platform"
	"github.com/stevecastle/retouch/restore"
)

func useTempDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(platform.DataDirEnv, dir)
	original := Get()
	t.Cleanup(func() { Set(original) })
	return dir
}

func TestDefaultConfig(t *testing.T) {
	dir := useTempDataDir(t)
	cfg := defaultConfig()

	if cfg.DBPath != filepath.Join(dir, "retouch.db") {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.ListenAddr != ":8091" {
		t.Errorf("ListenAddr = %q; want :8091", cfg.ListenAddr)
	}
	if cfg.MaxSide != imageio.DefaultMaxSide {
		t.Errorf("MaxSide = %d; want %d", cfg.MaxSide, imageio.DefaultMaxSide)
	}
	if cfg.JPEGQuality != 95 {
		t.Errorf("JPEGQuality = %d; want 95", cfg.JPEGQuality)
	}
	if cfg.Defaults != restore.Auto() {
		t.Errorf("Defaults = %+v; want Auto", cfg.Defaults)
	}
	if cfg.JWTSecret == "" {
		t.Error("JWTSecret should not be empty")
	}
}

func TestGetSet(t *testing.T) {
	original := Get()
	defer Set(original)

	Set(Config{DBPath: "/test/path/db.sqlite", MaxSide: 2000})
	got := Get()
	if got.DBPath != "/test/path/db.sqlite" || got.MaxSide != 2000 {
		t.Errorf("Get() = %+v", got)
	}
}

func TestIsJSONObject(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{`{}`, true},
		{`{"key": "value"}`, true},
		{`  {  }  `, true},
		{`[]`, false},
		{`"string"`, false},
		{`123`, false},
		{``, false},
	}
	for _, tt := range tests {
		if got := isJSONObject([]byte(tt.input)); got != tt.expected {
			t.Errorf("isJSONObject(%q) = %v; want %v", tt.input, got, tt.expected)
		}
	}
}

func TestDeepMergeJSON(t *testing.T) {
	tests := []struct {
		name     string
		dst      string
		src      string
		expected string
	}{
		{"simple", `{"a": "1"}`, `{"b": "2"}`, `{"a":"1","b":"2"}`},
		{"override", `{"a": "1"}`, `{"a": "2"}`, `{"a":"2"}`},
		{"nested", `{"s3": {"bucket": "x", "acl": "private"}}`, `{"s3": {"bucket": "y"}}`, `{"s3":{"acl":"private","bucket":"y"}}`},
		{"object replaces scalar", `{"a": 1}`, `{"a": {"b": 2}}`, `{"a":{"b":2}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dst, src map[string]json.RawMessage
			json.Unmarshal([]byte(tt.dst), &dst)
			json.Unmarshal([]byte(tt.src), &src)
			deepMergeJSON(dst, src)

			got, _ := json.Marshal(dst)
			var gotAny, wantAny any
			json.Unmarshal(got, &gotAny)
			json.Unmarshal([]byte(tt.expected), &wantAny)
			g, _ := json.Marshal(gotAny)
			w, _ := json.Marshal(wantAny)
			if string(g) != string(w) {
				t.Errorf("deepMergeJSON = %s; want %s", g, w)
			}
		})
	}
}

func TestLoadCreatesDefaults(t *testing.T) {
	dir := useTempDataDir(t)

	cfg, path, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if path != filepath.Join(dir, "config.json") {
		t.Errorf("path = %q", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if cfg.JWTSecret == "" || Get().JWTSecret != cfg.JWTSecret {
		t.Error("in-memory config not updated")
	}

	again, _, err := Load()
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if again.JWTSecret != cfg.JWTSecret {
		t.Error("secret changed between loads")
	}
}

func TestLoadFillsAndClamps(t *testing.T) {
	dir := useTempDataDir(t)
	raw := `{
		"maxSide": 99999,
		"jpegQuality": 0,
		"jobConcurrency": -2,
		"defaults": {"strength": 2, "sharpenAmount": 0.5},
		"s3": {"bucket": "photos"},
		"extra": {"kept": true}
	}`
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxSide != imageio.MaxSideLimit {
		t.Errorf("MaxSide = %d; want %d", cfg.MaxSide, imageio.MaxSideLimit)
	}
	if cfg.JPEGQuality != 95 {
		t.Errorf("JPEGQuality = %d; want 95", cfg.JPEGQuality)
	}
	if cfg.JobConcurrency != 1 {
		t.Errorf("JobConcurrency = %d; want 1", cfg.JobConcurrency)
	}
	if cfg.Defaults.Strength != 1 || cfg.Defaults.Detail != 0.5 {
		t.Errorf("Defaults = %+v", cfg.Defaults)
	}
	if cfg.Defaults.Scratch != restore.Auto().Scratch {
		t.Errorf("absent default fields should keep Auto values, got %+v", cfg.Defaults)
	}
	if cfg.S3.Bucket != "photos" {
		t.Errorf("S3.Bucket = %q", cfg.S3.Bucket)
	}
	if cfg.DBPath == "" || cfg.JWTSecret == "" {
		t.Error("required fields not filled")
	}

	// The missing secret forced a save; unknown keys must survive it.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var onDisk map[string]json.RawMessage
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatal(err)
	}
	if _, ok := onDisk["extra"]; !ok {
		t.Error("unknown key dropped on save")
	}
	if _, ok := onDisk["jwtSecret"]; !ok {
		t.Error("generated secret not persisted")
	}
}

func TestLoadRejectsBadJSON(t *testing.T) {
	dir := useTempDataDir(t)
	os.WriteFile(filepath.Join(dir, "config.json"), []byte("{not json"), 0644)
	if _, _, err := Load(); err == nil {
		t.Error("expected a parse error")
	}
}

func TestConfigConcurrency(t *testing.T) {
	original := Get()
	defer Set(original)

	done := make(chan bool)
	go func() {
		for i := 0; i < 100; i++ {
			Set(Config{DBPath: "/path"})
		}
		done <- true
	}()
	go func() {
		for i := 0; i < 100; i++ {
			_ = Get()
		}
		done <- true
	}()
	<-done
	<-done
}
