package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/wsconn/internal/logging"
)

const (
	// ServiceType is the mDNS service type websocket listeners advertise
	ServiceType = "_websocket._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for listener discovery
	DefaultScanTimeout = 5 * time.Second

	// DefaultPort is assumed when an entry carries no port
	DefaultPort = 80

	// DefaultSecurePort is assumed for secure entries without a port
	DefaultSecurePort = 443
)

// TXT record keys
const (
	txtPath      = "path"
	txtSecure    = "secure"
	txtProtocols = "protocols"
)

// Info is what a listener publishes in its TXT record.
type Info struct {
	Path      string
	Secure    bool
	Protocols string
}

func (i Info) txt() []string {
	path := i.Path
	if path == "" {
		path = "/"
	}
	txt := []string{
		txtPath + "=" + path,
		txtSecure + "=" + strconv.FormatBool(i.Secure),
	}
	if i.Protocols != "" {
		txt = append(txt, txtProtocols+"="+i.Protocols)
	}
	return txt
}

// Advertisement is a running mDNS registration.
type Advertisement struct {
	server   *zeroconf.Server
	instance string
	once     sync.Once
}

// Advertise registers instance on port until Shutdown is called.
func Advertise(instance string, port int, info Info) (*Advertisement, error) {
	if instance == "" {
		return nil, fmt.Errorf("mDNS instance name is required")
	}

	server, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, info.txt(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}

	logging.Info("Advertising listener via mDNS",
		zap.String("instance", instance),
		zap.String("service", ServiceType),
		zap.Int("port", port),
		zap.Strings("txt", info.txt()),
	)

	return &Advertisement{server: server, instance: instance}, nil
}

// Shutdown withdraws the registration. It is safe to call more than once.
func (a *Advertisement) Shutdown() {
	if a == nil {
		return
	}
	a.once.Do(func() {
		a.server.Shutdown()
		logging.Debug("mDNS advertisement withdrawn", zap.String("instance", a.instance))
	})
}

// Scanner handles mDNS listener discovery
type Scanner struct {
	// Timeout is the maximum time to wait for discovery
	Timeout time.Duration
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
	}
}

// Scan collects every listener that answers before the timeout or ctx ends.
func (s *Scanner) Scan(ctx context.Context) ([]*Listener, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	var (
		mu        sync.Mutex
		listeners []*Listener
		seen      = make(map[string]bool)
	)

	err := s.browse(ctx, func(l *Listener) bool {
		mu.Lock()
		defer mu.Unlock()
		if !seen[l.Instance] {
			seen[l.Instance] = true
			listeners = append(listeners, l)
		}
		return false
	})
	if err != nil {
		return nil, err
	}

	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	return append([]*Listener(nil), listeners...), nil
}

// WaitFor returns the listener advertised as instance, or an error if it does
// not show up within the timeout.
func (s *Scanner) WaitFor(ctx context.Context, instance string) (*Listener, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	found := make(chan *Listener, 1)
	err := s.browse(ctx, func(l *Listener) bool {
		if l.Instance != instance {
			return false
		}
		select {
		case found <- l:
		default:
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	select {
	case l := <-found:
		cancel()
		return l, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("listener %q not found within %s", instance, s.Timeout)
	}
}

// browse feeds parsed entries to visit until it returns true or ctx ends.
// The resolver blocks on undelivered entries, so the channel is drained until
// the resolver closes it.
func (s *Scanner) browse(ctx context.Context, visit func(*Listener) bool) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		satisfied := false
		for entry := range entries {
			if satisfied {
				continue
			}
			l := parseServiceEntry(entry)
			if l == nil {
				continue
			}
			logging.Debug("Discovered listener", zap.String("listener", l.String()))
			satisfied = visit(l)
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return fmt.Errorf("failed to browse for mDNS services: %w", err)
	}
	return nil
}

// parseServiceEntry converts a zeroconf service entry to a Listener
// Returns nil if the entry has no usable address
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Listener {
	if entry == nil || entry.Instance == "" {
		return nil
	}

	// Prefer IPv4
	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		key, value, _ := strings.Cut(txt, "=")
		metadata[key] = value
	}

	secure, _ := strconv.ParseBool(metadata[txtSecure])

	port := entry.Port
	if port == 0 {
		port = DefaultPort
		if secure {
			port = DefaultSecurePort
		}
	}

	path := metadata[txtPath]
	if path == "" {
		path = "/"
	}

	return &Listener{
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         port,
		Path:         path,
		Secure:       secure,
		Protocols:    metadata[txtProtocols],
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}
