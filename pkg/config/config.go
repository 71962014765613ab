package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs can say "15m" or "300s".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration back as a string
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Origin is the origin server's configuration.
type Origin struct {
	ListenAddr string `yaml:"listen_addr"`
	DataDir    string `yaml:"data_dir"`
	ContentDir string `yaml:"content_dir"`
	AdminToken string `yaml:"admin_token"`

	PairingTTL            Duration `yaml:"pairing_ttl"`
	PairingMaxOutstanding int      `yaml:"pairing_max_outstanding"`
	HeartbeatTimeout      Duration `yaml:"heartbeat_timeout"`
	SyncInterval          Duration `yaml:"sync_interval"`
	SyncTimeout           Duration `yaml:"sync_timeout"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Mirror is the mirror agent's configuration.
type Mirror struct {
	ListenAddr string `yaml:"listen_addr"`
	OriginURL  string `yaml:"origin_url"`
	DataDir    string `yaml:"data_dir"`
	ContentDir string `yaml:"content_dir"`

	MaxFiles          int      `yaml:"max_files"`
	DownloadRate      int64    `yaml:"download_rate"` // Bytes/sec, 0 = unlimited
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// DefaultOrigin returns an origin config with workable defaults.
func DefaultOrigin() *Origin {
	return &Origin{
		ListenAddr: ":8080",
		DataDir:    "/var/lib/coldstore",
		ContentDir: "/var/lib/coldstore/content",
		LogLevel:   "info",
	}
}

// DefaultMirror returns a mirror config with workable defaults.
func DefaultMirror() *Mirror {
	return &Mirror{
		ListenAddr: ":8081",
		DataDir:    "/var/lib/coldstore-mirror",
		ContentDir: "/var/lib/coldstore-mirror/content",
		MaxFiles:   100,
		LogLevel:   "info",
	}
}

// LoadOrigin reads and validates an origin config file. An empty path
// returns the defaults.
func LoadOrigin(path string) (*Origin, error) {
	cfg := DefaultOrigin()
	if path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadMirror reads and validates a mirror config file. An empty path
// returns the defaults.
func LoadMirror(path string) (*Mirror, error) {
	cfg := DefaultMirror()
	if path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as YAML. Used by the mirror setup flow to lay
// down a starter config the operator can then edit.
func (c *Mirror) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

func loadYAML(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// Validate rejects configs the server cannot start with.
func (c *Origin) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.ContentDir == "" {
		return fmt.Errorf("content_dir is required")
	}
	if err := writableDir(c.DataDir); err != nil {
		return fmt.Errorf("data_dir: %w", err)
	}
	if c.PairingTTL < 0 || c.HeartbeatTimeout < 0 || c.SyncInterval < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

// Validate rejects configs the agent cannot start with.
func (c *Mirror) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.ContentDir == "" {
		return fmt.Errorf("content_dir is required")
	}
	if c.MaxFiles <= 0 {
		return fmt.Errorf("max_files must be positive")
	}
	if c.DownloadRate < 0 {
		return fmt.Errorf("download_rate must not be negative")
	}
	if err := writableDir(c.DataDir); err != nil {
		return fmt.Errorf("data_dir: %w", err)
	}
	return nil
}

// writableDir ensures the directory exists and accepts writes. A mirror
// that cannot persist its holdings must refuse to start rather than run
// with state it will lose.
func writableDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".probe")
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("directory is not writable: %w", err)
	}
	f.Close()
	os.Remove(probe)
	return nil
}
