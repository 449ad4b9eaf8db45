// Package ui renders the terminal output of the wsconn commands with
// Lipgloss.
//
// The components follow a "print and move on" pattern: nothing here reads
// input or redraws the screen.
//
//   - Header: command banner showing the operation and its parameters
//   - Result: success, warning and failure boxes with ordered details
//   - RenderListeners: table of listeners found by mDNS discovery
//   - RenderMessage and RenderNotice: lines printed by the interactive client
//
// # Logging Integration
//
// Logging is controlled via the WSCONN_LOG_LEVEL environment variable or the
// --log-level flag. When unset, zap logging is silent so the output of this
// package is displayed cleanly.
package ui
