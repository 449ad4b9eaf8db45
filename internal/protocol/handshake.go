package protocol

import (
	"bufio"
	"crypto/sha1" //nolint:gosec // mandated by RFC 6455 §4.2.2
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// websocketGUID is appended to the client key before hashing.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// ErrBadHandshake is returned for upgrade requests that are not valid
// websocket handshakes.
var ErrBadHandshake = errors.New("bad websocket handshake")

// AcceptKey computes the Sec-WebSocket-Accept value for a client key.
func AcceptKey(key string) string {
	h := sha1.New() //nolint:gosec
	h.Write([]byte(key + websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// ReadUpgradeRequest reads an HTTP request from the connection's reader.
// The reader must be kept for the frames that follow the handshake.
func ReadUpgradeRequest(r *bufio.Reader) (*http.Request, error) {
	req, err := http.ReadRequest(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read HTTP request: %w", err)
	}
	return req, nil
}

// ValidateUpgradeRequest checks if the incoming HTTP request is a valid WebSocket upgrade
func ValidateUpgradeRequest(req *http.Request) error {
	if req.Method != http.MethodGet {
		return fmt.Errorf("%w: invalid method %s (expected GET)", ErrBadHandshake, req.Method)
	}

	if !headerContainsToken(req.Header, "Upgrade", "websocket") {
		return fmt.Errorf("%w: invalid Upgrade header %q (expected websocket)", ErrBadHandshake, req.Header.Get("Upgrade"))
	}

	if !headerContainsToken(req.Header, "Connection", "upgrade") {
		return fmt.Errorf("%w: invalid Connection header %q (expected upgrade)", ErrBadHandshake, req.Header.Get("Connection"))
	}

	if version := req.Header.Get("Sec-WebSocket-Version"); version != "13" {
		return fmt.Errorf("%w: invalid Sec-WebSocket-Version %q (expected 13)", ErrBadHandshake, version)
	}

	key := req.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return fmt.Errorf("%w: missing Sec-WebSocket-Key header", ErrBadHandshake)
	}
	if raw, err := base64.StdEncoding.DecodeString(key); err != nil || len(raw) != 16 {
		return fmt.Errorf("%w: malformed Sec-WebSocket-Key %q", ErrBadHandshake, key)
	}

	return nil
}

// Selection is the outcome of sub-protocol and extension negotiation. Empty
// fields mean nothing was agreed.
type Selection struct {
	Protocol   string
	Extensions string
}

// Select negotiates against the comma-separated lists a listener advertises.
// The sub-protocol is the first advertised one the client also offers.
// Extensions are the offered ones whose names are advertised, in the client's
// order and with the client's parameters.
func Select(req *http.Request, protocols, extensions string) Selection {
	var sel Selection

	offered := headerTokens(req.Header, "Sec-WebSocket-Protocol")
	for _, p := range splitList(protocols) {
		if containsFold(offered, p) {
			sel.Protocol = p
			break
		}
	}

	advertised := splitList(extensions)
	var agreed []string
	for _, ext := range headerTokens(req.Header, "Sec-WebSocket-Extensions") {
		name, _, _ := strings.Cut(ext, ";")
		if containsFold(advertised, strings.TrimSpace(name)) {
			agreed = append(agreed, ext)
		}
	}
	sel.Extensions = strings.Join(agreed, ", ")

	return sel
}

// WriteUpgradeResponse writes the 101 Switching Protocols response for req,
// echoing the negotiated sub-protocol and extensions.
func WriteUpgradeResponse(w io.Writer, req *http.Request, sel Selection) error {
	var b strings.Builder
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	b.WriteString("Sec-WebSocket-Accept: " + AcceptKey(req.Header.Get("Sec-WebSocket-Key")) + "\r\n")
	if sel.Protocol != "" {
		b.WriteString("Sec-WebSocket-Protocol: " + sel.Protocol + "\r\n")
	}
	if sel.Extensions != "" {
		b.WriteString("Sec-WebSocket-Extensions: " + sel.Extensions + "\r\n")
	}
	b.WriteString("\r\n")

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("failed to write HTTP 101 response: %w", err)
	}
	return nil
}

// WriteHandshakeError rejects an upgrade with a plain-text HTTP error.
func WriteHandshakeError(w io.Writer, status int, cause error) error {
	body := http.StatusText(status)
	if cause != nil {
		body = cause.Error()
	}
	resp := fmt.Sprintf("HTTP/1.1 %d %s\r\n"+
		"Content-Type: text/plain; charset=utf-8\r\n"+
		"Sec-WebSocket-Version: 13\r\n"+
		"Content-Length: %d\r\n"+
		"Connection: close\r\n"+
		"\r\n%s", status, http.StatusText(status), len(body), body)

	if _, err := io.WriteString(w, resp); err != nil {
		return fmt.Errorf("failed to write HTTP %d response: %w", status, err)
	}
	return nil
}

// headerTokens splits every value of a comma-separated header.
func headerTokens(h http.Header, name string) []string {
	var out []string
	for _, v := range h.Values(name) {
		out = append(out, splitList(v)...)
	}
	return out
}

func headerContainsToken(h http.Header, name, token string) bool {
	return containsFold(headerTokens(h, name), token)
}

// splitList splits a comma-separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
