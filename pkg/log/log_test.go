package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitTestLogger(t *testing.T) {
	lg, props, err := InitTestLogger(t, &Config{Level: "info"})
	require.NoError(t, err)
	require.NotNil(t, lg)
	assert.Equal(t, zapcore.InfoLevel, props.Level.Level())
	lg.Info("hello", FieldSessionID("s-1"))
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	_, _, err := InitLogger(&Config{Level: "loud"})
	assert.Error(t, err)
}

func TestCtxLogger(t *testing.T) {
	ctx := WithSessionID(context.Background(), "s-1")
	l1 := Ctx(ctx)
	require.NotNil(t, l1)
	assert.Same(t, l1, Ctx(ctx))

	// 未附加 Logger 的上下文退回到全局 Logger。
	assert.NotNil(t, Ctx(context.Background()))
	//nolint:staticcheck
	assert.NotNil(t, Ctx(nil))
}

func TestRateGroup(t *testing.T) {
	l := With(zap.String("k", "v")).WithRateGroup("test.rated", 1, 1)
	assert.True(t, l.RatedWarn(1, "first"))
	assert.False(t, l.RatedWarn(1, "second"))
}

func TestBinder(t *testing.T) {
	var b Binder
	assert.NotNil(t, b.Logger())
	l := With(FieldModule("registry"))
	b.SetLogger(l)
	assert.Same(t, l, b.Logger())
}

func TestSetupTestLoggerRestoresGlobals(t *testing.T) {
	prev := L()
	t.Run("swap", func(t *testing.T) {
		SetupTestLogger(t, &Config{Level: "debug"})
		assert.NotSame(t, prev, L())
		L().Info("routed to the test log", FieldSessionID("s-1"))
	})
	assert.Same(t, prev, L())
}

func TestTestingWriterDropsLateWrites(t *testing.T) {
	var w testingWriter
	t.Run("owner", func(t *testing.T) {
		w = newTestingWriter(t)
	})
	n, err := w.Write([]byte("after the owner finished\n"))
	assert.NoError(t, err)
	assert.Equal(t, len("after the owner finished\n"), n)
}
