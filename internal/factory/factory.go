// Package factory defines how connections obtain their protocol Handler,
// their Settings and the TLS context used when a stream upgrades.
package factory

import (
	"crypto/tls"

	"github.com/muurk/wsconn/internal/handler"
	"github.com/muurk/wsconn/internal/logging"
	"github.com/muurk/wsconn/internal/transport"
)

// Factory manufactures one Handler per connection and supplies the policy
// shared by the connections it creates.
type Factory interface {
	// ConnectionMade is called exactly once per connection, before any
	// application data flows. It must return a usable Handler.
	ConnectionMade(out *handler.Sender) handler.Handler

	// Settings may be called any number of times.
	Settings() Settings

	// OnShutdown is invoked when the owner shuts down all connections.
	OnShutdown()

	// TLSConfig supplies the context used by transport.Stream.Upgrade.
	TLSConfig() (*tls.Config, error)
}

var (
	_ Factory                   = FactoryFunc(nil)
	_ transport.TLSConfigSource = Factory(nil)
)

// Base provides the default Settings, OnShutdown and TLSConfig behaviour.
// Embed it in a named factory and implement ConnectionMade.
type Base struct {
	TLS TLSOptions
}

func (Base) Settings() Settings {
	return DefaultSettings()
}

func (Base) OnShutdown() {
	logging.Debug("Factory received WebSocket shutdown request")
}

func (b Base) TLSConfig() (*tls.Config, error) {
	return NewTLSConfig(b.TLS)
}

// FactoryFunc lets a plain function serve as a Factory. ConnectionMade calls
// the function; everything else uses the Base defaults.
type FactoryFunc func(out *handler.Sender) handler.Handler

func (f FactoryFunc) ConnectionMade(out *handler.Sender) handler.Handler {
	return f(out)
}

func (FactoryFunc) Settings() Settings {
	return Base{}.Settings()
}

func (FactoryFunc) OnShutdown() {
	Base{}.OnShutdown()
}

func (FactoryFunc) TLSConfig() (*tls.Config, error) {
	return Base{}.TLSConfig()
}
