// Package logging provides structured logging for wsconn.
//
// This package wraps a global zap logger with convenience functions. It is
// silent until Initialize is called with a level (or WSCONN_LOG_LEVEL is set),
// so library users only see output when they opt in.
//
// # Observability Events
//
// Besides the level helpers, the package exposes domain events emitted by the
// transport and connection layers:
//
//	logging.LogConnection(connID, remoteAddr, "connection_accepted")
//	logging.LogUpgradeAttempt(remoteAddr, serverName)
//	logging.LogTLSHandshake(remoteAddr, tlsConn.ConnectionState())
//	logging.LogShutdown("signal", activeConnections)
//
// Tests can capture events by installing an observer core:
//
//	core, logs := observer.New(zapcore.DebugLevel)
//	logging.SetLogger(zap.New(core))
//
// # Thread Safety
//
// All logging functions are safe for concurrent use.
package logging
