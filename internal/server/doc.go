// Package server implements the connection-management side of the websocket
// transport: it accepts sockets, drives them through the transport upgrade and
// the HTTP upgrade, and runs the frame loop that feeds a Handler.
//
// # Connection Lifecycle
//
// Every accepted socket:
//  1. Is checked against Settings.MaxConnections
//  2. Is wrapped in a transport.Stream (TLSConnecting when Settings.ListenSecure)
//  3. Is driven through Upgrade as the receiving side
//  4. Gets exactly one Handler from Factory.ConnectionMade
//  5. Answers the HTTP upgrade request with the negotiated sub-protocol
//  6. Runs the frame loop until either side closes
//
// Accepting TLS is not supported: a secure listener fails step 3 with
// transport.ErrUnsupported and the socket is closed.
//
// # Connection Policy
//
// When the limit is reached, or Accept fails, Settings.PanicOnNewConnection
// decides whether the listener stops (Serve returns ErrTooManyConnections or
// the accept error) or the socket is dropped with a warning.
//
// # Usage Example
//
//	srv := server.New(&server.Config{Host: "", Port: 8080}, factory.FactoryFunc(newEcho))
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	go func() {
//	    <-ctx.Done()
//	    _ = srv.Shutdown(context.Background())
//	}()
//
//	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, server.ErrServerClosed) {
//	    log.Fatal(err)
//	}
//
// # Graceful Shutdown
//
// Shutdown:
//  1. Calls Factory.OnShutdown (a panic is re-raised only with Settings.PanicOnShutdown)
//  2. Stops accepting new connections and withdraws any mDNS advertisement
//  3. Sends a going-away close frame on every open connection
//  4. Waits for connection goroutines until its context ends
//
// # Thread Safety
//
// Each connection runs in its own goroutine, which alone touches its Stream.
// Handlers are called from that goroutine and never concurrently.
package server
