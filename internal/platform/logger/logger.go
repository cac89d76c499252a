package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	SugaredLogger *zap.SugaredLogger
	redact        *redactor
}

type Options struct {
	// Mode is production, test or anything else for development.
	Mode string
	// Redact scrubs credentials and hashes actor ids in key/value pairs.
	Redact   bool
	HashSalt string
}

// New builds a logger for mode. Redaction follows LOG_REDACTION_ENABLED
// (default on) and LOG_HASH_SALT.
func New(mode string) (*Logger, error) {
	return NewWithOptions(Options{
		Mode:     mode,
		Redact:   !isOff(os.Getenv("LOG_REDACTION_ENABLED")),
		HashSalt: strings.TrimSpace(os.Getenv("LOG_HASH_SALT")),
	})
}

func NewWithOptions(opts Options) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(opts.Mode)) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "test":
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return wrap(zl, opts), nil
}

// NewWithCore is for tests that capture output with zaptest/observer.
func NewWithCore(core zapcore.Core, opts Options) *Logger {
	return wrap(zap.New(core), opts)
}

func wrap(zl *zap.Logger, opts Options) *Logger {
	l := &Logger{SugaredLogger: zl.Sugar()}
	if opts.Redact {
		l.redact = &redactor{salt: opts.HashSalt}
	}
	return l
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func (l *Logger) Desugar() *zap.Logger {
	return l.SugaredLogger.Desugar()
}

func (l *Logger) Sync() {
	_ = l.SugaredLogger.Sync()
}

func (l *Logger) Debug(msg string, kv ...interface{}) {
	l.SugaredLogger.Debugw(msg, l.redact.kvs(kv)...)
}

func (l *Logger) Info(msg string, kv ...interface{}) {
	l.SugaredLogger.Infow(msg, l.redact.kvs(kv)...)
}

func (l *Logger) Warn(msg string, kv ...interface{}) {
	l.SugaredLogger.Warnw(msg, l.redact.kvs(kv)...)
}

func (l *Logger) Error(msg string, kv ...interface{}) {
	l.SugaredLogger.Errorw(msg, l.redact.kvs(kv)...)
}

func (l *Logger) Fatal(msg string, kv ...interface{}) {
	l.SugaredLogger.Fatalw(msg, l.redact.kvs(kv)...)
}

func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{
		SugaredLogger: l.SugaredLogger.With(l.redact.kvs(kv)...),
		redact:        l.redact,
	}
}

const redacted = "[REDACTED]"

var (
	secretKeyParts = []string{"token", "authorization", "password", "secret", "cookie", "api_key", "apikey", "dsn"}
	hashedKeyParts = []string{"user_id", "actor_id"}
)

// A nil redactor passes everything through.
type redactor struct {
	salt string
}

func (r *redactor) kvs(kv []interface{}) []interface{} {
	if r == nil || len(kv) == 0 {
		return kv
	}
	out := make([]interface{}, len(kv))
	copy(out, kv)
	for i := 0; i+1 < len(out); i += 2 {
		key := strings.ToLower(strings.TrimSpace(stringify(out[i])))
		out[i+1] = r.value(key, out[i+1])
	}
	return out
}

func (r *redactor) value(key string, val interface{}) interface{} {
	switch {
	case containsAny(key, secretKeyParts):
		return redacted
	case containsAny(key, hashedKeyParts):
		return r.hash(val)
	}
	switch v := val.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, inner := range v {
			out[k] = r.value(strings.ToLower(k), inner)
		}
		return out
	case string:
		if looksLikeJWT(v) {
			return redacted
		}
	}
	return val
}

// hash keeps ids correlatable across lines without printing them.
func (r *redactor) hash(val interface{}) string {
	raw := stringify(val)
	if raw == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(r.salt + raw))
	return "hash:" + hex.EncodeToString(sum[:])[:12]
}

func containsAny(key string, parts []string) bool {
	for _, p := range parts {
		if strings.Contains(key, p) {
			return true
		}
	}
	return false
}

func looksLikeJWT(s string) bool {
	parts := strings.Split(s, ".")
	return len(parts) == 3 && len(parts[0]) > 10 && len(parts[1]) > 10
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func isOff(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "false", "no", "off":
		return true
	}
	return false
}
