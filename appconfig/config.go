package appconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stevecastle/retouch/imageio"
	"github.com/stevecastle/retouch/platform"
	"github.com/stevecastle/retouch/restore"
)

// S3 describes the optional export bucket.
type S3 struct {
	Bucket   string `json:"bucket"`
	Region   string `json:"region"`
	Prefix   string `json:"prefix"`
	Endpoint string `json:"endpoint"`

	// Optional static credentials; empty uses the default AWS chain.
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
}

// Config holds the settings shared by the CLI and the server.
type Config struct {
	DBPath    string `json:"dbPath"`
	OutputDir string `json:"outputDir"`

	ListenAddr string `json:"listenAddr"`

	// Longer-side cap applied to inputs before restoration.
	MaxSide     int `json:"maxSide"`
	JPEGQuality int `json:"jpegQuality"`

	// Workers sizes the pipeline pool; 0 means GOMAXPROCS.
	Workers        int `json:"workers"`
	JobConcurrency int `json:"jobConcurrency"`

	PresetsPath string         `json:"presetsPath"`
	Defaults    restore.Params `json:"defaults"`

	S3 S3 `json:"s3"`

	JWTSecret string `json:"jwtSecret"`
}

var (
	cfgMu sync.RWMutex
	cfg   Config
)

// DefaultDBPath returns the database path inside the data directory.
func DefaultDBPath() string {
	return filepath.Join(platform.GetDataDir(), "retouch.db")
}

// DefaultConfigDir returns the directory holding config.json.
func DefaultConfigDir() string {
	return platform.GetDataDir()
}

func defaultConfig() Config {
	return Config{
		DBPath:         DefaultDBPath(),
		OutputDir:      platform.DefaultOutputDir(),
		ListenAddr:     ":8091",
		MaxSide:        imageio.DefaultMaxSide,
		JPEGQuality:    imageio.DefaultQuality,
		JobConcurrency: 1,
		PresetsPath:    filepath.Join(platform.GetDataDir(), "presets.yaml"),
		Defaults:       restore.Auto(),
		JWTSecret:      uuid.New().String(),
	}
}

// Get returns a copy of the current in-memory config.
func Get() Config {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return cfg
}

// Set replaces the in-memory config.
func Set(c Config) {
	cfgMu.Lock()
	cfg = c
	cfgMu.Unlock()
}

func isJSONObject(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// deepMergeJSON overlays src onto dst, descending into nested objects so
// keys this version does not know about survive a save.
func deepMergeJSON(dst, src map[string]json.RawMessage) {
	for k, v := range src {
		existing, ok := dst[k]
		if !ok || !isJSONObject(existing) || !isJSONObject(v) {
			dst[k] = v
			continue
		}
		var dstObj, srcObj map[string]json.RawMessage
		if json.Unmarshal(existing, &dstObj) != nil || json.Unmarshal(v, &srcObj) != nil {
			dst[k] = v
			continue
		}
		deepMergeJSON(dstObj, srcObj)
		merged, err := json.Marshal(dstObj)
		if err != nil {
			dst[k] = v
			continue
		}
		dst[k] = merged
	}
}

func getConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// fillDefaults completes a loaded config and reports whether a field that
// must persist (database path, secret) was missing.
func fillDefaults(c *Config) bool {
	def := defaultConfig()
	needsSave := false

	if c.DBPath == "" {
		c.DBPath = def.DBPath
		needsSave = true
	}
	if c.OutputDir == "" {
		c.OutputDir = def.OutputDir
	}
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	c.MaxSide = imageio.ClampMaxSide(c.MaxSide)
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		c.JPEGQuality = def.JPEGQuality
	}
	if c.Workers < 0 {
		c.Workers = 0
	}
	if c.JobConcurrency < 1 {
		c.JobConcurrency = def.JobConcurrency
	}
	if c.PresetsPath == "" {
		c.PresetsPath = def.PresetsPath
	}
	c.Defaults = c.Defaults.Clamped()
	if c.JWTSecret == "" {
		c.JWTSecret = uuid.New().String()
		needsSave = true
	}
	return needsSave
}

// Load reads config.json from the data directory, creating it with
// defaults when missing, and updates the in-memory config.
func Load() (Config, string, error) {
	path := getConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Config{}, "", fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		def := defaultConfig()
		if err := os.MkdirAll(filepath.Dir(def.DBPath), 0755); err != nil {
			return Config{}, "", fmt.Errorf("failed to create database directory: %w", err)
		}
		savedPath, err := Save(def)
		if err != nil {
			return Config{}, path, fmt.Errorf("failed to create default config file: %w", err)
		}
		return def, savedPath, nil
	}
	if err != nil {
		return Config{}, path, fmt.Errorf("failed to read config file at %s: %w", path, err)
	}

	// Start from defaults so absent keys keep their default values.
	c := defaultConfig()
	c.DBPath, c.JWTSecret = "", ""
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, path, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	needsSave := fillDefaults(&c)

	if err := os.MkdirAll(filepath.Dir(c.DBPath), 0755); err != nil {
		return Config{}, path, fmt.Errorf("failed to create database directory: %w", err)
	}
	if needsSave {
		if _, err := Save(c); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to save updated config")
		}
	}

	Set(c)
	return c, path, nil
}

// Save writes c over config.json, keeping keys it does not know about.
func Save(c Config) (string, error) {
	path := getConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return path, fmt.Errorf("failed to create config directory: %w", err)
	}
	base := map[string]json.RawMessage{}
	if existing, err := os.ReadFile(path); err == nil {
		var tmp map[string]json.RawMessage
		if json.Unmarshal(existing, &tmp) == nil {
			base = tmp
		}
	}

	marshaled, err := json.Marshal(c)
	if err != nil {
		return path, fmt.Errorf("failed to marshal config: %w", err)
	}
	incoming := map[string]json.RawMessage{}
	if err := json.Unmarshal(marshaled, &incoming); err != nil {
		return path, fmt.Errorf("failed to map config JSON: %w", err)
	}
	deepMergeJSON(base, incoming)

	merged, err := json.MarshalIndent(base, "", "  ")
	if err != nil {
		return path, fmt.Errorf("failed to marshal merged config: %w", err)
	}
	if err := os.WriteFile(path, merged, 0644); err != nil {
		return path, fmt.Errorf("failed to write config file: %w", err)
	}
	Set(c)
	return path, nil
}
