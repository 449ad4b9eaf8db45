// Package client dials websocket servers over a transport.Stream.
//
// A ws:// URL runs over the plain TCP variant. A wss:// URL starts in the
// TLS-negotiating variant and is upgraded in place with the TLS config the
// Factory supplies, before any HTTP is exchanged. The websocket handshake and
// message I/O then run over the stream using gorilla/websocket.
//
// # Usage Example
//
//	conn, err := client.Dial(ctx, "wss://host.local:8443/ws", f)
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//
//	_ = conn.Sender().SendText("hello")
//	return conn.Run(ctx)
//
// Factory.ConnectionMade is called once the transport is established and
// before the websocket handshake, so the returned Handler sees OnOpen only
// after the server has accepted the upgrade.
package client
