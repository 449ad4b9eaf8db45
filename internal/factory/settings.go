package factory

// Settings is the connection-wide policy a Factory hands to every connection.
// It is a value: connections copy it when they are established and never see
// later changes.
type Settings struct {
	// MaxConnections bounds the number of concurrently open connections.
	MaxConnections int `yaml:"max_connections"`

	// PanicOnNewConnection makes accept failures and exceeded limits fatal
	// to the listener instead of dropping the offending connection.
	PanicOnNewConnection bool `yaml:"panic_on_new_connection"`

	// PanicOnShutdown makes a failing shutdown hook fatal to the process.
	PanicOnShutdown bool `yaml:"panic_on_shutdown"`

	// Protocols is the advertised comma-separated sub-protocol list.
	// Empty means none.
	Protocols string `yaml:"protocols,omitempty"`

	// Extensions is the advertised comma-separated extension list.
	// Empty means none.
	Extensions string `yaml:"extensions,omitempty"`

	// ListenSecure marks listeners that expect TLS-wrapped connections.
	ListenSecure bool `yaml:"listen_secure"`
}

// DefaultSettings returns the documented defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxConnections:       10_000,
		PanicOnNewConnection: true,
		PanicOnShutdown:      false,
		ListenSecure:         false,
	}
}
