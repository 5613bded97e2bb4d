package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestIDKey is the context key carrying the per-request id.
type RequestIDKey struct{}

var (
	log  *zap.Logger
	once sync.Once
)

// Init builds the process-wide logger. Development environments get
// console encoding, everything else structured JSON.
func Init(env string) *zap.Logger {
	once.Do(func() {
		var cfg zap.Config
		if env == "development" || env == "local" {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			cfg = zap.NewProductionConfig()
			cfg.EncoderConfig.TimeKey = "ts"
			cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}

		built, err := cfg.Build(zap.AddCallerSkip(0))
		if err != nil {
			built = zap.NewNop()
		}
		log = built
	})
	return log
}

// L returns the process logger, initializing a production logger if
// Init was never called.
func L() *zap.Logger {
	if log == nil {
		return Init("production")
	}
	return log
}

// Sync flushes buffered log entries. Safe to call on shutdown.
func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}

// MaskEmail keeps the first character of the local part and the domain:
// alice@example.com becomes a***@example.com.
func MaskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

// MaskIP blanks the host portion of an address, keeping the subnet.
func MaskIP(ip string) string {
	if idx := strings.LastIndexByte(ip, '.'); idx > 0 {
		return ip[:idx] + ".xxx"
	}
	if idx := strings.LastIndexByte(ip, ':'); idx > 0 {
		return ip[:idx] + ":xxxx"
	}
	return "***"
}

// MaskString hides all but the first and last characters of a secret.
func MaskString(s string) string {
	if len(s) <= 2 {
		return "***"
	}
	return s[:1] + "***" + s[len(s)-1:]
}
