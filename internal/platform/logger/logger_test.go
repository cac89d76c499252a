package logger

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed(opts Options) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewWithCore(core, opts), logs
}

func TestRedactsSecretsAndHashesActors(t *testing.T) {
	log, logs := observed(Options{Redact: true, HashSalt: "s"})
	actor := uuid.New()

	log.Info("request",
		"Authorization", "Bearer abc",
		"jwt_secret_key", "shh",
		"actor_id", actor,
		"parent_id", "p-1",
	)

	fields := logs.All()[0].ContextMap()
	require.Equal(t, redacted, fields["Authorization"])
	require.Equal(t, redacted, fields["jwt_secret_key"])
	require.Equal(t, "p-1", fields["parent_id"])
	hashed, _ := fields["actor_id"].(string)
	require.Regexp(t, `^hash:[0-9a-f]{12}$`, hashed)
	require.NotContains(t, hashed, actor.String())
}

func TestHashIsStablePerSalt(t *testing.T) {
	a := &redactor{salt: "one"}
	b := &redactor{salt: "two"}
	require.Equal(t, a.hash("x"), a.hash("x"))
	require.NotEqual(t, a.hash("x"), b.hash("x"))
	require.Empty(t, a.hash(nil))
}

func TestRedactsNestedMapsAndBareJWTs(t *testing.T) {
	log, logs := observed(Options{Redact: true})
	jwt := "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxMjM0NTY3ODkwIn0.sig"

	log.With("headers", map[string]interface{}{"Cookie": "c", "Accept": "json"}).Warn("upstream", "raw", jwt)

	fields := logs.All()[0].ContextMap()
	headers := fields["headers"].(map[string]interface{})
	require.Equal(t, redacted, headers["Cookie"])
	require.Equal(t, "json", headers["Accept"])
	require.Equal(t, redacted, fields["raw"])
}

func TestRedactionOffPassesThrough(t *testing.T) {
	log, logs := observed(Options{})
	log.Debug("raw", "password", "hunter2")
	require.Equal(t, "hunter2", logs.All()[0].ContextMap()["password"])
}

func TestOddKeyValueCountIsKept(t *testing.T) {
	log, logs := observed(Options{Redact: true})
	log.Error("odd", "token", "t", "dangling")
	entries := logs.FilterMessage("odd").All()
	require.Len(t, entries, 1)
	require.Equal(t, redacted, entries[0].ContextMap()["token"])
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"production", "test", "development", ""} {
		l, err := NewWithOptions(Options{Mode: mode})
		require.NoError(t, err, mode)
		l.Sync()
	}
	Nop().With("k", "v").Info("discarded")
}
