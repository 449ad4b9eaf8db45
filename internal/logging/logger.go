package logging

import (
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	mu     sync.RWMutex
)

// LogLevelEnvVar is the environment variable that controls logging verbosity.
// When unset or empty, logging is silent (no zap output).
// Valid values: "debug", "info", "warn", "error"
const LogLevelEnvVar = "WSCONN_LOG_LEVEL"

// Initialize creates a new logger with the specified level.
// If level is empty, it checks WSCONN_LOG_LEVEL environment variable.
// If neither is set, logging is disabled (silent mode).
func Initialize(level string) error {
	if level == "" {
		level = os.Getenv(LogLevelEnvVar)
	}

	if level == "" {
		SetLogger(zap.NewNop())
		return nil
	}

	zapLevel, err := ParseLevel(level)
	if err != nil {
		return err
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	built, err := config.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	SetLogger(built)

	return nil
}

// ParseLevel maps a level name onto a zap level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q (want debug, info, warn or error)", level)
	}
}

// SetLogger replaces the global logger. Passing nil restores the silent logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	logger = l
	mu.Unlock()
}

// GetLogger returns the global logger instance
func GetLogger() *zap.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Info logs an info message
func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

// Debug logs a debug message
func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

// LogConnection logs a connection event
func LogConnection(connID, remoteAddr, event string) {
	Info("Connection event",
		zap.String("conn_id", connID),
		zap.String("remote_addr", remoteAddr),
		zap.String("event", event),
	)
}

// LogUpgradeAttempt records the start of a client-side TLS negotiation.
func LogUpgradeAttempt(remoteAddr, serverName string) {
	Debug("Attempting to upgrade connection to TLS",
		zap.String("remote_addr", remoteAddr),
		zap.String("server_name", serverName),
	)
}

// LogTLSHandshake logs TLS handshake details
func LogTLSHandshake(remoteAddr string, state tls.ConnectionState) {
	Info("TLS handshake completed",
		zap.String("remote_addr", remoteAddr),
		zap.String("tls_version", tls.VersionName(state.Version)),
		zap.String("cipher_suite", tls.CipherSuiteName(state.CipherSuite)),
		zap.String("server_name", state.ServerName),
		zap.String("alpn", state.NegotiatedProtocol),
	)
}

// LogShutdown records a process-wide shutdown request.
func LogShutdown(source string, active int) {
	Info("Shutdown requested",
		zap.String("source", source),
		zap.Int("active_connections", active),
	)
}

// LogWebSocketMessage logs a WebSocket message
func LogWebSocketMessage(connID, direction string, messageType int, data []byte) {
	fields := []zap.Field{
		zap.String("conn_id", connID),
		zap.String("direction", direction),
		zap.String("message_type", wsMessageTypeName(messageType)),
		zap.Int("length", len(data)),
	}

	if GetLogger().Core().Enabled(zapcore.DebugLevel) {
		fields = append(fields, zap.String("hex_dump", hexDump(data)))
	}

	Debug("WebSocket message", fields...)
}

// LogRawBytes logs raw bytes (useful for debugging protocol issues)
func LogRawBytes(label string, data []byte) {
	Debug(label,
		zap.Int("length", len(data)),
		zap.String("hex", hexDump(data)),
		zap.String("ascii", asciiDump(data)),
	)
}

func wsMessageTypeName(msgType int) string {
	switch msgType {
	case 1:
		return "text"
	case 2:
		return "binary"
	case 8:
		return "close"
	case 9:
		return "ping"
	case 10:
		return "pong"
	default:
		return fmt.Sprintf("unknown(%d)", msgType)
	}
}

func hexDump(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	// Limit to first 256 bytes for logging
	if len(data) > 256 {
		return hex.EncodeToString(data[:256]) + "..."
	}
	return hex.EncodeToString(data)
}

func asciiDump(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if len(data) > 256 {
		data = data[:256]
	}

	result := make([]byte, len(data))
	for i, b := range data {
		if b >= 32 && b <= 126 {
			result[i] = b
		} else {
			result[i] = '.'
		}
	}
	return string(result)
}

// Sync flushes any buffered log entries
func Sync() {
	_ = GetLogger().Sync()
}
