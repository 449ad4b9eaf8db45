package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/muurk/wsconn/internal/logging"
)

const (
	appName    = "wsconn"
	configFile = "config.yaml"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Mutex for thread-safe file operations
var fileMutex sync.Mutex

// GetConfigDir returns the OS-appropriate configuration directory for the application.
// This follows platform conventions:
//   - Linux: $XDG_CONFIG_HOME/wsconn or $HOME/.config/wsconn
//   - macOS: $HOME/.config/wsconn
//   - Windows: %LOCALAPPDATA%\wsconn
func GetConfigDir() (string, error) {
	var baseDir string

	switch runtime.GOOS {
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", fmt.Errorf("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
			}
			baseDir = filepath.Join(userProfile, "AppData", "Local", appName)
		} else {
			baseDir = filepath.Join(localAppData, appName)
		}

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		baseDir = filepath.Join(homeDir, ".config", appName)

	default:
		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome != "" {
			baseDir = filepath.Join(xdgConfigHome, appName)
		} else {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("cannot determine home directory: %w", err)
			}
			baseDir = filepath.Join(homeDir, ".config", appName)
		}
	}

	return baseDir, nil
}

// GetConfigPath returns the full path to the default configuration file.
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, configFile), nil
}

// Load reads the configuration file at path. Values missing from the file
// keep their defaults; a missing file yields Default().
func Load(path string) (*File, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logging.Debug("No configuration file, using defaults")
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version: %d (expected %d)", cfg.Version, CurrentVersion)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks values the listener and dialer cannot work with.
func (f *File) Validate() error {
	var errs []error

	if f.Listen.Port < 0 || f.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: listen.port %d out of range", ErrInvalid, f.Listen.Port))
	}
	if f.Listen.Path != "" && f.Listen.Path[0] != '/' {
		errs = append(errs, fmt.Errorf("%w: listen.path %q must start with /", ErrInvalid, f.Listen.Path))
	}
	if f.Listen.Advertise && f.Listen.ServiceName == "" {
		errs = append(errs, fmt.Errorf("%w: listen.service_name is required when advertising", ErrInvalid))
	}
	if f.Listen.HandshakeTimeout < 0 {
		errs = append(errs, fmt.Errorf("%w: listen.handshake_timeout must not be negative", ErrInvalid))
	}
	if f.Settings.MaxConnections <= 0 {
		errs = append(errs, fmt.Errorf("%w: settings.max_connections must be positive", ErrInvalid))
	}
	if (f.TLS.CertFile == "") != (f.TLS.KeyFile == "") {
		errs = append(errs, fmt.Errorf("%w: tls.cert_file and tls.key_file must be set together", ErrInvalid))
	}
	if f.Discovery.ScanTimeout < 0 {
		errs = append(errs, fmt.Errorf("%w: discovery.scan_timeout must not be negative", ErrInvalid))
	}
	if f.LogLevel != "" {
		if _, err := logging.ParseLevel(f.LogLevel); err != nil {
			errs = append(errs, fmt.Errorf("%w: log_level: %w", ErrInvalid, err))
		}
	}

	return errors.Join(errs...)
}

// Save writes the configuration to path.
// Performs an atomic write to prevent corruption on crash.
func (f *File) Save(path string) error {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	// Create directory with user-only permissions (0700)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# wsconn configuration file
#
# Command line flags override the values below.
#
# Location: ` + path + `

`)
	data = append(header, data...)

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}

	return nil
}
