package client

import (
	"context"
	"crypto/tls"
	"encoding/pem"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/muurk/wsconn/internal/factory"
	"github.com/muurk/wsconn/internal/handler"
	"github.com/muurk/wsconn/internal/server"
	"github.com/muurk/wsconn/internal/transport"
)

// recorder collects handler events and forwards messages to a channel.
type recorder struct {
	out      *handler.Sender
	messages chan handler.Message
	fail     error

	mu     sync.Mutex
	events []string
}

func (r *recorder) record(event string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recorder) Events() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.events, ",")
}

func (r *recorder) OnOpen() { r.record("open") }

func (r *recorder) OnMessage(msg handler.Message) error {
	r.record("message")
	r.messages <- msg
	return r.fail
}

func (r *recorder) OnClose() { r.record("close") }

func (r *recorder) OnError(err error) { r.record("error") }

type clientFactory struct {
	factory.Base
	protocols string
	fail      error

	mu   sync.Mutex
	made []*recorder
}

func (f *clientFactory) ConnectionMade(out *handler.Sender) handler.Handler {
	r := &recorder{out: out, messages: make(chan handler.Message, 16), fail: f.fail}
	f.mu.Lock()
	f.made = append(f.made, r)
	f.mu.Unlock()
	return r
}

func (f *clientFactory) Settings() factory.Settings {
	s := factory.DefaultSettings()
	s.Protocols = f.protocols
	return s
}

func (f *clientFactory) handler(t *testing.T) *recorder {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.made) != 1 {
		t.Fatalf("ConnectionMade calls = %d, want 1", len(f.made))
	}
	return f.made[0]
}

// echoFactory is the server side used by these tests.
type echoFactory struct {
	factory.Base
	protocols string
}

func (f *echoFactory) ConnectionMade(out *handler.Sender) handler.Handler {
	return handler.HandlerFunc(out.Send)
}

func (f *echoFactory) Settings() factory.Settings {
	s := factory.DefaultSettings()
	s.Protocols = f.protocols
	return s
}

func startEchoServer(t *testing.T, f factory.Factory, cfg *server.Config) (*server.Server, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	if cfg == nil {
		cfg = &server.Config{}
	}
	srv := server.New(cfg, f)
	go func() { _ = srv.Serve(context.Background(), ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv, "ws://" + ln.Addr().String() + "/"
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func runConn(ctx context.Context, c *Conn) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	return errCh
}

func receive(t *testing.T, r *recorder) handler.Message {
	t.Helper()
	select {
	case msg := <-r.messages:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
		return handler.Message{}
	}
}

func waitRun(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return")
		return nil
	}
}

func TestDialEcho(t *testing.T) {
	_, url := startEchoServer(t, &echoFactory{}, nil)
	ctx := testContext(t)

	f := &clientFactory{}
	conn, err := Dial(ctx, url, f)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if conn.Kind() != transport.KindTCP {
		t.Errorf("Kind() = %v, want %v", conn.Kind(), transport.KindTCP)
	}
	if _, ok := conn.TLSState(); ok {
		t.Error("TLSState() ok = true for ws:// connection")
	}
	if conn.ID() == "" || conn.Sender().ID() != conn.ID() {
		t.Errorf("Sender().ID() = %q, ID() = %q", conn.Sender().ID(), conn.ID())
	}

	errCh := runConn(ctx, conn)
	r := f.handler(t)

	if err := conn.Sender().SendText("hello"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if msg := receive(t, r); msg.Type != handler.Text || string(msg.Data) != "hello" {
		t.Errorf("echo = %v %q, want text %q", msg.Type, msg.Data, "hello")
	}

	payload := []byte{0, 1, 2, 3}
	if err := conn.Sender().Send(handler.BinaryMessage(payload)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if msg := receive(t, r); msg.Type != handler.Binary || string(msg.Data) != string(payload) {
		t.Errorf("echo = %v %v, want binary %v", msg.Type, msg.Data, payload)
	}

	if err := conn.Sender().Close(); err != nil {
		t.Fatalf("Sender.Close() error = %v", err)
	}
	if err := waitRun(t, errCh); err != nil {
		t.Errorf("Run() error = %v, want nil after closing handshake", err)
	}
	if got, want := r.Events(), "open,message,message,close"; got != want {
		t.Errorf("events = %q, want %q", got, want)
	}
	if err := conn.Sender().SendText("late"); !errors.Is(err, handler.ErrSenderClosed) {
		t.Errorf("SendText() after close error = %v, want ErrSenderClosed", err)
	}
}

func TestDialSubprotocol(t *testing.T) {
	tests := []struct {
		name   string
		server string
		client string
		want   string
	}{
		{name: "none", server: "", client: "", want: ""},
		{name: "shared", server: "chat, superchat", client: "superchat", want: "superchat"},
		{name: "listener preference", server: "chat, superchat", client: "superchat, chat", want: "chat"},
		{name: "no overlap", server: "chat", client: "mqtt", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, url := startEchoServer(t, &echoFactory{protocols: tt.server}, nil)
			conn, err := Dial(testContext(t), url, &clientFactory{protocols: tt.client})
			if err != nil {
				t.Fatalf("Dial() error = %v", err)
			}
			defer conn.Close()

			if got := conn.Subprotocol(); got != tt.want {
				t.Errorf("Subprotocol() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDialErrors(t *testing.T) {
	closed, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	closedURL := "ws://" + closed.Addr().String() + "/"
	_ = closed.Close()

	tests := []struct {
		name    string
		url     string
		wantErr error
	}{
		{name: "http scheme", url: "http://127.0.0.1/", wantErr: ErrUnsupportedScheme},
		{name: "missing scheme", url: "example.com/ws", wantErr: ErrUnsupportedScheme},
		{name: "connection refused", url: closedURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &clientFactory{}
			_, err := Dial(testContext(t), tt.url, f)
			if err == nil {
				t.Fatal("Dial() error = nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Dial() error = %v, want %v", err, tt.wantErr)
			}
			if len(f.made) != 0 {
				t.Errorf("ConnectionMade calls = %d, want 0", len(f.made))
			}
		})
	}
}

func TestDialRejectedHandshake(t *testing.T) {
	_, url := startEchoServer(t, &echoFactory{}, &server.Config{Path: "/ws"})

	f := &clientFactory{}
	_, err := Dial(testContext(t), url, f)
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("Dial() error = %v, want ErrBadHandshake", err)
	}
	if !strings.Contains(err.Error(), "HTTP 404") {
		t.Errorf("Dial() error = %v, want HTTP status", err)
	}
	if got, want := f.handler(t).Events(), "error,close"; got != want {
		t.Errorf("events = %q, want %q", got, want)
	}
}

func TestServerShutdownEndsRun(t *testing.T) {
	srv, url := startEchoServer(t, &echoFactory{}, nil)
	ctx := testContext(t)

	f := &clientFactory{}
	conn, err := Dial(ctx, url, f)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	errCh := runConn(ctx, conn)

	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := waitRun(t, errCh); err != nil {
		t.Errorf("Run() error = %v, want nil on going-away close", err)
	}
	if got, want := f.handler(t).Events(), "open,close"; got != want {
		t.Errorf("events = %q, want %q", got, want)
	}
}

func TestRunContextCancel(t *testing.T) {
	_, url := startEchoServer(t, &echoFactory{}, nil)

	conn, err := Dial(testContext(t), url, &clientFactory{})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := runConn(ctx, conn)
	cancel()

	if err := waitRun(t, errCh); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestRunHandlerError(t *testing.T) {
	_, url := startEchoServer(t, &echoFactory{}, nil)
	ctx := testContext(t)

	boom := errors.New("boom")
	f := &clientFactory{fail: boom}
	conn, err := Dial(ctx, url, f)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	errCh := runConn(ctx, conn)

	if err := conn.Sender().SendText("trigger"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if err := waitRun(t, errCh); !errors.Is(err, boom) {
		t.Errorf("Run() error = %v, want %v", err, boom)
	}
	if got, want := f.handler(t).Events(), "open,message,error,close"; got != want {
		t.Errorf("events = %q, want %q", got, want)
	}
}

func TestRunReadLimit(t *testing.T) {
	_, url := startEchoServer(t, &echoFactory{}, nil)
	ctx := testContext(t)

	conn, err := Dial(ctx, url, &clientFactory{}, WithReadLimit(8))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	errCh := runConn(ctx, conn)

	if err := conn.Sender().SendText(strings.Repeat("x", 64)); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if err := waitRun(t, errCh); !errors.Is(err, websocket.ErrReadLimit) {
		t.Errorf("Run() error = %v, want ErrReadLimit", err)
	}
}

// startTLSEchoServer runs a gorilla echo endpoint behind TLS and returns its
// URL and the path of a PEM file trusting its certificate.
func startTLSEchoServer(t *testing.T) (string, string) {
	t.Helper()

	upgrader := websocket.Upgrader{Subprotocols: []string{"chat"}}
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			typ, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			if err := c.WriteMessage(typ, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	caPath := filepath.Join(t.TempDir(), "ca.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	if err := os.WriteFile(caPath, data, 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	return "wss://" + srv.Listener.Addr().String() + "/", caPath
}

func TestDialSecure(t *testing.T) {
	url, caPath := startTLSEchoServer(t)
	ctx := testContext(t)

	f := &clientFactory{Base: factory.Base{TLS: factory.TLSOptions{CAFile: caPath}}, protocols: "chat"}
	conn, err := Dial(ctx, url, f)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if conn.Kind() != transport.KindTLSEstablished {
		t.Errorf("Kind() = %v, want %v", conn.Kind(), transport.KindTLSEstablished)
	}
	state, ok := conn.TLSState()
	if !ok || !state.HandshakeComplete {
		t.Fatalf("TLSState() = %+v, %v", state, ok)
	}
	if state.Version < tls.VersionTLS12 {
		t.Errorf("TLS version = %x, want >= TLS 1.2", state.Version)
	}
	if conn.Subprotocol() != "chat" {
		t.Errorf("Subprotocol() = %q, want %q", conn.Subprotocol(), "chat")
	}

	errCh := runConn(ctx, conn)
	if err := conn.Sender().SendText("over tls"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if msg := receive(t, f.handler(t)); string(msg.Data) != "over tls" {
		t.Errorf("echo = %q, want %q", msg.Data, "over tls")
	}
	if err := conn.Sender().Close(); err != nil {
		t.Fatalf("Sender.Close() error = %v", err)
	}
	if err := waitRun(t, errCh); err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestDialSecureUntrusted(t *testing.T) {
	url, _ := startTLSEchoServer(t)

	f := &clientFactory{}
	_, err := Dial(testContext(t), url, f)
	if !errors.Is(err, transport.ErrTLSHandshake) {
		t.Fatalf("Dial() error = %v, want ErrTLSHandshake", err)
	}
	if len(f.made) != 0 {
		t.Errorf("ConnectionMade calls = %d, want 0", len(f.made))
	}
}

func TestDialSecureSetupFailure(t *testing.T) {
	url, _ := startTLSEchoServer(t)

	missing := filepath.Join(t.TempDir(), "missing.pem")
	f := &clientFactory{Base: factory.Base{TLS: factory.TLSOptions{CAFile: missing}}}
	_, err := Dial(testContext(t), url, f)
	if !errors.Is(err, transport.ErrTLSSetup) {
		t.Fatalf("Dial() error = %v, want ErrTLSSetup", err)
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"chat", []string{"chat"}},
		{" chat , superchat ,, ", []string{"chat", "superchat"}},
	}
	for _, tt := range tests {
		got := splitList(tt.in)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
			t.Errorf("splitList(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRunHandlerBurstExceedingQueue(t *testing.T) {
	_, url := startEchoServer(t, &echoFactory{}, nil)
	ctx := testContext(t)

	const burst = commandQueueSize + 1
	var overflow atomic.Int32
	items := make(chan struct{}, burst)

	f := factory.FactoryFunc(func(out *handler.Sender) handler.Handler {
		return handler.HandlerFunc(func(msg handler.Message) error {
			if string(msg.Data) != "go" {
				items <- struct{}{}
				return nil
			}
			for i := 0; i < burst; i++ {
				if err := out.SendText("item"); errors.Is(err, handler.ErrSenderQueueFull) {
					overflow.Add(1)
				} else if err != nil {
					return err
				}
			}
			return nil
		})
	})

	conn, err := Dial(ctx, url, f)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	errCh := runConn(ctx, conn)

	if err := conn.Sender().SendText("go"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	for i := 0; i < commandQueueSize; i++ {
		select {
		case <-items:
		case <-time.After(5 * time.Second):
			t.Fatalf("received %d of %d echoes", i, commandQueueSize)
		}
	}
	if got := overflow.Load(); got != 1 {
		t.Errorf("overflowed sends = %d, want 1", got)
	}

	if err := conn.Sender().Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := waitRun(t, errCh); err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
}
