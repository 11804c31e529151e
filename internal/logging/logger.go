// Package logging provides structured logging with secret redaction for
// credential material that must never reach log output.
package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Known secret field names that must be redacted in all log output.
var secretFieldNames = []string{
	"secretaccesskey",
	"secret_key",
	"secretkey",
	"sessiontoken",
	"session_token",
	"password",
	"token",
	"credentials",
	"private_key",
	"privatekey",
	"passphrase",
}

// NewLogger creates a console logger for CLI use. profile labels which
// credential profile (user or agent) is active.
func NewLogger(level, profile string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	writer := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}

	logger := zerolog.New(writer).
		Level(lvl).
		With().
		Timestamp().
		Str("component", "no-wing").
		Logger()

	if profile != "" {
		logger = logger.With().Str("profile", profile).Logger()
	}

	return logger
}

// NewJSONLogger creates a JSON-formatted logger for file output or
// machine consumption.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("component", "no-wing").
		Logger()
}

// IsSecretField checks if a field name is a known secret field that
// should be redacted.
func IsSecretField(fieldName string) bool {
	lower := strings.ToLower(fieldName)
	for _, secret := range secretFieldNames {
		if strings.Contains(lower, secret) {
			return true
		}
	}
	return false
}

// RedactValue replaces a secret value with a safe placeholder containing
// a hash prefix so two occurrences of the same secret remain correlatable.
func RedactValue(value string) string {
	if value == "" {
		return ""
	}
	h := sha256.Sum256([]byte(value))
	return "[REDACTED:sha256:" + hex.EncodeToString(h[:])[:8] + "]"
}

// RedactMap returns a copy of detail with secret field values redacted.
// Used before audit details are serialized.
func RedactMap(detail map[string]string) map[string]string {
	out := make(map[string]string, len(detail))
	for k, v := range detail {
		if IsSecretField(k) {
			out[k] = RedactValue(v)
		} else {
			out[k] = v
		}
	}
	return out
}
