package shared

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetAndGetTraceID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))

	generated := SetTraceID(ctx, "")
	assert.Len(t, GetTraceID(generated), 32)
	assert.Empty(t, GetTraceID(ctx), "original context is unchanged")

	explicit := SetTraceID(ctx, "req-1")
	assert.Equal(t, "req-1", GetTraceID(explicit))
}

func TestGetTraceIDWithInvalidContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), TraceIDKey, 123)
	assert.Empty(t, GetTraceID(ctx))
}

func TestNewTraceIDIsUnique(t *testing.T) {
	seen := make(map[string]struct{}, 100)
	for range 100 {
		id := NewTraceID()
		_, dup := seen[id]
		assert.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestSubject(t *testing.T) {
	_, ok := Subject(context.Background())
	assert.False(t, ok)

	subject, ok := Subject(WithSubject(context.Background(), "ops"))
	assert.True(t, ok)
	assert.Equal(t, "ops", subject)
}
