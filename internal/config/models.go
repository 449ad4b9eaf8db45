package config

import (
	"time"

	"github.com/muurk/wsconn/internal/factory"
)

// CurrentVersion is the configuration file format version.
const CurrentVersion = 1

// File represents the entire configuration file.
type File struct {
	Version   int                `yaml:"version"`
	LogLevel  string             `yaml:"log_level,omitempty"` // debug, info, warn, error; empty is silent
	Listen    Listen             `yaml:"listen"`
	TLS       factory.TLSOptions `yaml:"tls,omitempty"` // client TLS context for wss:// dials
	Settings  factory.Settings   `yaml:"settings"`
	Discovery Discovery          `yaml:"discovery"`
}

// Listen holds the listener address and the websocket endpoint it serves.
type Listen struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	Path             string        `yaml:"path,omitempty"`         // empty accepts any request path
	Advertise        bool          `yaml:"advertise"`              // register the listener via mDNS
	ServiceName      string        `yaml:"service_name,omitempty"` // mDNS instance name
	ReadLimit        uint64        `yaml:"read_limit,omitempty"`   // bytes per message, 0 for the default
	HandshakeTimeout time.Duration `yaml:"handshake_timeout,omitempty"`
}

// Discovery holds mDNS browsing preferences.
type Discovery struct {
	ScanTimeout time.Duration `yaml:"scan_timeout"`
}

// Default returns a File with default values.
func Default() *File {
	return &File{
		Version: CurrentVersion,
		Listen: Listen{
			Host:             "0.0.0.0",
			Port:             8080,
			ServiceName:      "wsconn",
			HandshakeTimeout: 10 * time.Second,
		},
		Settings: factory.DefaultSettings(),
		Discovery: Discovery{
			ScanTimeout: 5 * time.Second,
		},
	}
}
