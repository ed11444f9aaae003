package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
}

func TestRedactHash(t *testing.T) {
	assert.Equal(t, "5e8848***", RedactHash("5e884898da28047151d0e56f8dc6292773603d0d"))
	assert.Equal(t, "***", RedactHash("abc"))
}

func TestLogRedactsPII(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	UseZap(zap.New(core))
	SetRedactPII(true)

	Info("mapped record",
		"email", "5e884898da28047151d0e56f8dc6292773603d0d",
		"note", "contact jane.doe@example.com",
		"rows", 3,
		"err", errors.New("bad row for jane.doe@example.com"),
	)

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "5e8848***", fields["email"])
	assert.Equal(t, "contact ja***@example.com", fields["note"])
	assert.EqualValues(t, 3, fields["rows"])
	assert.Equal(t, "bad row for ja***@example.com", fields["err"])
}

func TestLogWithoutRedaction(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	UseZap(zap.New(core))
	SetRedactPII(false)
	defer SetRedactPII(true)

	Warn("raw", "email", "john.doe@example.com")

	require.Len(t, logs.All(), 1)
	assert.Equal(t, "john.doe@example.com", logs.All()[0].ContextMap()["email"])
}

func TestOddFieldCountIgnoresDanglingKey(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	UseZap(zap.New(core))

	Error("dangling", "chunk", 2, "orphan")

	require.Len(t, logs.All(), 1)
	fields := logs.All()[0].ContextMap()
	assert.Len(t, fields, 1)
	assert.EqualValues(t, 2, fields["chunk"])
}
