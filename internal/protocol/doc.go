// Package protocol implements the RFC 6455 pieces the server speaks directly:
// frame encoding and decoding, close payloads, and the HTTP upgrade handshake.
//
// # WebSocket Frame Format
//
// Frames have this structure:
//   - FIN bit, three reserved bits and a 4-bit opcode
//   - Mask bit and a 7-bit payload length, extended to 16 or 64 bits
//   - Mask key: 4 bytes, present when the mask bit is set
//   - Payload: Variable length (masked when sent by a client)
//
// ReadFrame unmasks payloads before returning them and enforces the control
// frame rules (final, at most 125 bytes). WriteFrame masks on the wire when
// the frame asks for it and never modifies the caller's payload.
//
// # Upgrade Handshake
//
//	req, err := protocol.ReadUpgradeRequest(reader)
//	if err != nil {
//	    return err
//	}
//	if err := protocol.ValidateUpgradeRequest(req); err != nil {
//	    _ = protocol.WriteHandshakeError(conn, http.StatusBadRequest, err)
//	    return err
//	}
//	sel := protocol.Select(req, settings.Protocols, settings.Extensions)
//	err = protocol.WriteUpgradeResponse(conn, req, sel)
//
// # Thread Safety
//
// All functions are stateless and safe for concurrent use.
package protocol
