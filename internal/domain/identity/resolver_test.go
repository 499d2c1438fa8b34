package identity

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestResolver() (*Resolver, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewResolver(logger), &buf
}

func TestResolve_ShortIDUnchanged(t *testing.T) {
	r, logs := newTestResolver()

	ids := []string{
		"",
		"ABC123",
		"0b7e6a3c-4a7f-4c43-9a53-2a7d8b4e1f00", // 36 chars, UUID shaped
	}
	for _, id := range ids {
		assert.Equal(t, id, r.Resolve(id).String())
	}
	assert.Empty(t, logs.String(), "no warning for ids that fit")
}

func TestResolve_TruncatesLongID(t *testing.T) {
	r, logs := newTestResolver()

	id := strings.Repeat("a", 30) + strings.Repeat("b", 20)
	token := r.Resolve(id)

	assert.Len(t, token.String(), MaxTokenLength)
	assert.Equal(t, id[:MaxTokenLength], token.String())
	assert.Contains(t, logs.String(), "Truncated oversized import token")
}

func TestResolve_Deterministic(t *testing.T) {
	r, _ := newTestResolver()

	id := strings.Repeat("x1", 40)
	first := r.Resolve(id)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, r.Resolve(id))
	}
}

func TestResolve_PrefixCollisionIsKnownLimitation(t *testing.T) {
	r, _ := newTestResolver()

	prefix := strings.Repeat("p", MaxTokenLength)
	assert.Equal(t, r.Resolve(prefix+"-one"), r.Resolve(prefix+"-two"))
}

func TestNewResolver_NilLogger(t *testing.T) {
	r := NewResolver(nil)
	assert.NotNil(t, r.logger)
}
