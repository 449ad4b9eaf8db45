package discovery

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

// Listener represents a websocket listener discovered on the network
type Listener struct {
	// Instance is the advertised mDNS instance name
	Instance string

	// Hostname is the mDNS hostname (e.g., "build-box.local.")
	Hostname string

	// IP is the preferred address, IPv4 when available
	IP string

	Port int

	// Path is the request path the listener upgrades on
	Path string

	// Secure marks listeners that expect TLS-wrapped connections
	Secure bool

	// Protocols is the advertised comma-separated sub-protocol list
	Protocols string

	// Metadata contains the raw TXT record data
	Metadata map[string]string

	// DiscoveredAt is when the listener was discovered
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the listener
func (l *Listener) String() string {
	return fmt.Sprintf("%s (%s) at %s", l.Instance, l.Hostname, l.URL())
}

// URL returns the ws:// or wss:// URL for the listener
func (l *Listener) URL() string {
	scheme := "ws"
	if l.Secure {
		scheme = "wss"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(l.IP, strconv.Itoa(l.Port)),
		Path:   l.Path,
	}
	return u.String()
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (l *Listener) GetMetadata(key string) string {
	if l.Metadata == nil {
		return ""
	}
	return l.Metadata[key]
}
