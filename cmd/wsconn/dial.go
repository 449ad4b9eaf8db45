package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/wsconn/internal/client"
	"github.com/muurk/wsconn/internal/discovery"
	"github.com/muurk/wsconn/internal/factory"
	"github.com/muurk/wsconn/internal/handler"
	"github.com/muurk/wsconn/internal/ui"
	"github.com/muurk/wsconn/internal/version"
)

// Dial command flags
var (
	dialInstance  string
	dialProtocols string
	dialCAFile    string
	dialInsecure  bool
	dialTimeout   time.Duration
)

var dialCmd = &cobra.Command{
	Use:   "dial [url]",
	Short: "Connect to a websocket server and exchange messages",
	Long: `Connect to a ws:// or wss:// URL, print incoming messages and send each
line read from standard input as a text message.

wss:// connections are upgraded to TLS on the open socket before the
websocket handshake, using the tls section of the configuration file
(overridable with --ca and --insecure).

Instead of a URL, --instance resolves a listener advertised via mDNS.`,
	Example: `  # Talk to a local echo server
  wsconn dial ws://localhost:8080/

  # Trust a private CA for wss://
  wsconn dial wss://hub.local:8443/ws --ca ./ca.pem

  # Resolve a listener advertised as "kitchen"
  wsconn dial --instance kitchen --protocols chat`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDial,
}

func init() {
	dialCmd.Flags().StringVar(&dialInstance, "instance", "", "Resolve the URL from an mDNS-advertised listener")
	dialCmd.Flags().StringVar(&dialProtocols, "protocols", "", "Comma-separated sub-protocols to offer")
	dialCmd.Flags().StringVar(&dialCAFile, "ca", "", "PEM bundle of trusted CAs for wss://")
	dialCmd.Flags().BoolVar(&dialInsecure, "insecure", false, "Skip TLS certificate verification")
	dialCmd.Flags().DurationVar(&dialTimeout, "timeout", 10*time.Second, "Connect and handshake timeout")
}

// printFactory prints what the server sends.
type printFactory struct {
	factory.Base
	settings factory.Settings
	out      io.Writer
}

func (f *printFactory) Settings() factory.Settings {
	return f.settings
}

func (f *printFactory) ConnectionMade(out *handler.Sender) handler.Handler {
	return &printHandler{w: f.out}
}

type printHandler struct {
	w io.Writer
}

func (h *printHandler) OnOpen() {
	fmt.Fprintln(h.w, ui.RenderNotice("connected"))
}

func (h *printHandler) OnMessage(msg handler.Message) error {
	fmt.Fprintln(h.w, ui.RenderMessage(true, msg))
	return nil
}

func (h *printHandler) OnClose() {
	fmt.Fprintln(h.w, ui.RenderNotice("connection closed"))
}

func (h *printHandler) OnError(err error) {
	fmt.Fprintln(h.w, ui.ErrorMessageStyle.Render("error: "+err.Error()))
}

func runDial(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("protocols") {
		cfg.Settings.Protocols = dialProtocols
	}
	if flags.Changed("ca") {
		cfg.TLS.CAFile = dialCAFile
	}
	if flags.Changed("insecure") {
		cfg.TLS.InsecureSkipVerify = dialInsecure
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	target, err := dialTarget(ctx, args, cfg.Discovery.ScanTimeout)
	if err != nil {
		return err
	}

	f := &printFactory{
		Base:     factory.Base{TLS: cfg.TLS},
		settings: cfg.Settings,
		out:      os.Stdout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, err := client.Dial(dialCtx, target, f,
		client.WithHeader(http.Header{"User-Agent": []string{version.UserAgent()}}),
		client.WithHandshakeTimeout(dialTimeout),
	)
	if err != nil {
		fmt.Println(ui.NewFailureResult("Connection failed", err,
			"Check the URL scheme (ws:// or wss://) and port",
			"For wss://, pass --ca with the server's CA or set tls.ca_file",
			"Run 'wsconn discover' to list advertised listeners",
		).Render())
		return err
	}

	details := []ui.Param{{Key: "Transport", Value: conn.Kind().String()}}
	if p := conn.Subprotocol(); p != "" {
		details = append(details, ui.Param{Key: "Protocol", Value: p})
	}
	if state, ok := conn.TLSState(); ok {
		details = append(details, ui.Param{Key: "TLS server", Value: state.ServerName})
	}
	fmt.Println(ui.NewHeader("WebSocket Client", target, details...).Render())

	go sendLines(os.Stdin, conn.Sender())

	if err := conn.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// dialTarget returns the URL argument, or resolves --instance via mDNS.
func dialTarget(ctx context.Context, args []string, scanTimeout time.Duration) (string, error) {
	switch {
	case len(args) == 1 && dialInstance != "":
		return "", fmt.Errorf("pass either a URL or --instance, not both")
	case len(args) == 1:
		return args[0], nil
	case dialInstance == "":
		return "", fmt.Errorf("a URL or --instance is required")
	}

	scanner := discovery.NewScanner()
	if scanTimeout > 0 {
		scanner.Timeout = scanTimeout
	}
	fmt.Println(ui.RenderNotice("resolving %q via mDNS...", dialInstance))
	l, err := scanner.WaitFor(ctx, dialInstance)
	if err != nil {
		return "", err
	}
	return l.URL(), nil
}

// queueRetryDelay paces stdin input while the connection drains its queue.
const queueRetryDelay = 10 * time.Millisecond

// sendLines sends each line of r as a text message, then closes the
// connection at end of input.
func sendLines(r io.Reader, out *handler.Sender) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		err := out.SendText(line)
		for errors.Is(err, handler.ErrSenderQueueFull) {
			time.Sleep(queueRetryDelay)
			err = out.SendText(line)
		}
		if err != nil {
			return
		}
		fmt.Println(ui.RenderMessage(false, handler.TextMessage(line)))
	}
	_ = out.Close()
}
