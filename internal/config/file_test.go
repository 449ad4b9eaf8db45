package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/muurk/wsconn/internal/factory"
)

func TestGetConfigDir(t *testing.T) {
	if runtime.GOOS != "windows" && runtime.GOOS != "darwin" {
		t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	}

	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}

	if !strings.Contains(configDir, "wsconn") {
		t.Errorf("GetConfigDir() = %v, should contain 'wsconn'", configDir)
	}

	switch runtime.GOOS {
	case "windows":
	case "darwin":
		if !strings.Contains(configDir, ".config") {
			t.Errorf("macOS config dir should contain '.config', got: %v", configDir)
		}
	default:
		if want := filepath.Join("/tmp/xdg", "wsconn"); configDir != want {
			t.Errorf("GetConfigDir() = %v, want %v", configDir, want)
		}
	}
}

func TestGetConfigPath(t *testing.T) {
	configPath, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}

	if filepath.Base(configPath) != "config.yaml" {
		t.Errorf("GetConfigPath() should end with 'config.yaml', got: %v", configPath)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Version != CurrentVersion {
		t.Errorf("Default().Version = %v, want %v", cfg.Version, CurrentVersion)
	}
	if cfg.Settings != factory.DefaultSettings() {
		t.Errorf("Default().Settings = %+v, want %+v", cfg.Settings, factory.DefaultSettings())
	}
	if cfg.Listen.Port != 8080 {
		t.Errorf("Default().Listen.Port = %v, want 8080", cfg.Listen.Port)
	}
	if cfg.Discovery.ScanTimeout != 5*time.Second {
		t.Errorf("Default().Discovery.ScanTimeout = %v, want 5s", cfg.Discovery.ScanTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Listen != Default().Listen {
		t.Errorf("Load() listen = %+v, want defaults", cfg.Listen)
	}
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `version: 1
log_level: debug
listen:
  port: 9001
  path: /ws
  handshake_timeout: 3s
settings:
  protocols: "chat, superchat"
discovery:
  scan_timeout: 750ms
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Listen.Port != 9001 || cfg.Listen.Path != "/ws" {
		t.Errorf("Listen = %+v", cfg.Listen)
	}
	if cfg.Listen.Host != "0.0.0.0" {
		t.Errorf("Listen.Host = %q, want default", cfg.Listen.Host)
	}
	if cfg.Listen.HandshakeTimeout != 3*time.Second {
		t.Errorf("Listen.HandshakeTimeout = %v, want 3s", cfg.Listen.HandshakeTimeout)
	}
	if cfg.Settings.Protocols != "chat, superchat" {
		t.Errorf("Settings.Protocols = %q", cfg.Settings.Protocols)
	}
	if cfg.Settings.MaxConnections != 10_000 || !cfg.Settings.PanicOnNewConnection {
		t.Errorf("Settings = %+v, want defaults for unset keys", cfg.Settings)
	}
	if cfg.Discovery.ScanTimeout != 750*time.Millisecond {
		t.Errorf("Discovery.ScanTimeout = %v, want 750ms", cfg.Discovery.ScanTimeout)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
		wantMsg string
	}{
		{
			name:    "malformed yaml",
			data:    "version: [1\n",
			wantMsg: "failed to parse",
		},
		{
			name:    "unsupported version",
			data:    "version: 2\n",
			wantMsg: "unsupported config version",
		},
		{
			name:    "invalid values",
			data:    "version: 1\nlisten:\n  port: 70000\n",
			wantErr: ErrInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.data), 0600); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}

			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() error = nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Load() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Load() error = %v, want message containing %q", err, tt.wantMsg)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*File)
		valid  bool
	}{
		{name: "defaults", mutate: func(*File) {}, valid: true},
		{name: "negative port", mutate: func(f *File) { f.Listen.Port = -1 }},
		{name: "relative path", mutate: func(f *File) { f.Listen.Path = "ws" }},
		{name: "advertise without name", mutate: func(f *File) { f.Listen.Advertise = true; f.Listen.ServiceName = "" }},
		{name: "negative handshake timeout", mutate: func(f *File) { f.Listen.HandshakeTimeout = -time.Second }},
		{name: "zero max connections", mutate: func(f *File) { f.Settings.MaxConnections = 0 }},
		{name: "cert without key", mutate: func(f *File) { f.TLS.CertFile = "client.pem" }},
		{name: "negative scan timeout", mutate: func(f *File) { f.Discovery.ScanTimeout = -time.Second }},
		{name: "unknown log level", mutate: func(f *File) { f.LogLevel = "verbose" }},
		{name: "known log level", mutate: func(f *File) { f.LogLevel = "warn" }, valid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.valid && err != nil {
				t.Errorf("Validate() error = %v, want nil", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Listen.Port = 9443
	cfg.Listen.Advertise = true
	cfg.TLS = factory.TLSOptions{CAFile: "/etc/wsconn/ca.pem", ServerName: "hub.local"}
	cfg.Settings.Protocols = "chat"
	cfg.Settings.PanicOnNewConnection = false

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.HasPrefix(string(data), "# wsconn configuration file") {
		t.Errorf("saved file missing header:\n%s", data)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Listen != cfg.Listen {
		t.Errorf("Listen = %+v, want %+v", loaded.Listen, cfg.Listen)
	}
	if loaded.TLS != cfg.TLS {
		t.Errorf("TLS = %+v, want %+v", loaded.TLS, cfg.TLS)
	}
	if loaded.Settings != cfg.Settings {
		t.Errorf("Settings = %+v, want %+v", loaded.Settings, cfg.Settings)
	}
	if loaded.Discovery != cfg.Discovery {
		t.Errorf("Discovery = %+v, want %+v", loaded.Discovery, cfg.Discovery)
	}
}

func BenchmarkGetConfigDir(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = GetConfigDir()
	}
}
