package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/wsconn/internal/config"
	"github.com/muurk/wsconn/internal/factory"
	"github.com/muurk/wsconn/internal/handler"
	"github.com/muurk/wsconn/internal/logging"
	"github.com/muurk/wsconn/internal/server"
	"github.com/muurk/wsconn/internal/ui"
)

const shutdownTimeout = 10 * time.Second

// Serve command flags
var (
	serveHost        string
	servePort        int
	servePath        string
	serveProtocols   string
	serveAdvertise   bool
	serveServiceName string
	serveMaxConns    int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an echo websocket server",
	Long: `Run a websocket server that echoes every message back to its sender.

Sending the text "close" asks the server to close that connection; sending
"shutdown" shuts the whole server down. With --advertise the listener is
published via mDNS so 'wsconn discover' can find it.`,
	Example: `  # Listen on the configured address
  wsconn serve

  # Listen on port 9000, only upgrade requests for /ws
  wsconn serve --port 9000 --path /ws

  # Offer sub-protocols and advertise via mDNS
  wsconn serve --protocols chat,superchat --advertise --name kitchen`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen address (empty = all interfaces)")
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Listen port")
	serveCmd.Flags().StringVar(&servePath, "path", "", "Only accept upgrades for this request path")
	serveCmd.Flags().StringVar(&serveProtocols, "protocols", "", "Comma-separated sub-protocols, in order of preference")
	serveCmd.Flags().BoolVar(&serveAdvertise, "advertise", false, "Advertise the listener via mDNS")
	serveCmd.Flags().StringVar(&serveServiceName, "name", "", "mDNS instance name")
	serveCmd.Flags().IntVar(&serveMaxConns, "max-connections", 0, "Maximum concurrent connections")
}

// applyServeFlags overrides file values with the flags the user set.
func applyServeFlags(cmd *cobra.Command, cfg *config.File) error {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Listen.Host = serveHost
	}
	if flags.Changed("port") {
		cfg.Listen.Port = servePort
	}
	if flags.Changed("path") {
		cfg.Listen.Path = servePath
	}
	if flags.Changed("protocols") {
		cfg.Settings.Protocols = serveProtocols
	}
	if flags.Changed("advertise") {
		cfg.Listen.Advertise = serveAdvertise
	}
	if flags.Changed("name") {
		cfg.Listen.ServiceName = serveServiceName
	}
	if flags.Changed("max-connections") {
		cfg.Settings.MaxConnections = serveMaxConns
	}
	return cfg.Validate()
}

// echoFactory hands every connection an echoHandler.
type echoFactory struct {
	factory.Base
	settings factory.Settings
	served   atomic.Int64
}

func (f *echoFactory) Settings() factory.Settings {
	return f.settings
}

func (f *echoFactory) ConnectionMade(out *handler.Sender) handler.Handler {
	f.served.Add(1)
	return &echoHandler{out: out}
}

func (f *echoFactory) OnShutdown() {
	logging.Info("Echo server shutting down", zap.Int64("connections_served", f.served.Load()))
}

type echoHandler struct {
	out *handler.Sender
}

func (h *echoHandler) OnOpen() {
	logging.Debug("Echo connection open", zap.String("conn_id", h.out.ID()))
}

func (h *echoHandler) OnMessage(msg handler.Message) error {
	if msg.Type == handler.Text {
		switch string(msg.Data) {
		case "close":
			return h.out.Close()
		case "shutdown":
			return h.out.Shutdown()
		}
	}
	return h.out.Send(msg)
}

func (h *echoHandler) OnClose() {
	logging.Debug("Echo connection closed", zap.String("conn_id", h.out.ID()))
}

func (h *echoHandler) OnError(err error) {
	logging.Warn("Echo connection error", zap.String("conn_id", h.out.ID()), zap.Error(err))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyServeFlags(cmd, cfg); err != nil {
		return err
	}

	f := &echoFactory{Base: factory.Base{TLS: cfg.TLS}, settings: cfg.Settings}
	srv := server.New(&server.Config{
		Host:             cfg.Listen.Host,
		Port:             cfg.Listen.Port,
		Path:             cfg.Listen.Path,
		Advertise:        cfg.Listen.Advertise,
		ServiceName:      cfg.Listen.ServiceName,
		ReadLimit:        cfg.Listen.ReadLimit,
		HandshakeTimeout: cfg.Listen.HandshakeTimeout,
	}, f)

	params := []ui.Param{
		{Key: "Listen", Value: cfg.Listen.Host + ":" + strconv.Itoa(cfg.Listen.Port)},
		{Key: "Max conns", Value: strconv.Itoa(cfg.Settings.MaxConnections)},
	}
	if cfg.Listen.Path != "" {
		params = append(params, ui.Param{Key: "Path", Value: cfg.Listen.Path})
	}
	if cfg.Settings.Protocols != "" {
		params = append(params, ui.Param{Key: "Protocols", Value: cfg.Settings.Protocols})
	}
	if cfg.Listen.Advertise {
		params = append(params, ui.Param{Key: "mDNS name", Value: cfg.Listen.ServiceName})
	}
	fmt.Println(ui.NewHeader("WebSocket Echo Server", "wsconn serve", params...).Render())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(context.Background()) }()

	shutdownCtx := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), shutdownTimeout)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, server.ErrServerClosed) {
			return err
		}
		// A connection asked for shutdown; Shutdown returns once it has finished.
		fmt.Println(ui.RenderNotice("server shut down by a connection"))
		sctx, cancel := shutdownCtx()
		defer cancel()
		return srv.Shutdown(sctx)
	case <-ctx.Done():
	}

	fmt.Println(ui.RenderNotice("shutting down (%d active connections)", srv.ActiveConnections()))
	sctx, cancel := shutdownCtx()
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, server.ErrServerClosed) {
		return err
	}
	return nil
}
