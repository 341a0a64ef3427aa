package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandle(t *testing.T) {
	h := NewHandle("circuit-1")
	assert.Equal(t, "circuit-1", h.SessionID())

	ctx := WithHandle(context.Background(), h)
	got, ok := HandleFromContext(ctx)
	assert.True(t, ok)
	assert.Same(t, h, got)

	_, ok = HandleFromContext(context.Background())
	assert.False(t, ok)

	_, ok = HandleFromContext(WithHandle(context.Background(), nil))
	assert.False(t, ok)

	var nilHandle *Handle
	assert.Equal(t, "", nilHandle.SessionID())
}
