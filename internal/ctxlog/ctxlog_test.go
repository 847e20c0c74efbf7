package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := WithLogger(context.Background(), logger)
	FromContext(ctx).Info("hello", "node", "input_0")

	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "node=input_0")
}

func TestFromContext_FallsBackToDiscard(t *testing.T) {
	assert.NotPanics(t, func() {
		FromContext(context.Background()).Info("dropped")
	})
	assert.Same(t, Discard(), FromContext(context.Background()))
}
